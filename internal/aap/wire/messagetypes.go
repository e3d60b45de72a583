package wire

// Control message type codes. The upstream protocol defines these via
// generated protobuf descriptors (spec.md §9 Open Questions); this engine
// treats them as an opaque but enumerable set and assigns stable values
// within the control range (0..31) reserved by spec.md §3.
const (
	MsgVersionRequest  MessageType = 0x0000
	MsgVersionResponse MessageType = 0x0000 // same wire slot, pre-TLS only

	MsgSSLHandshake MessageType = 0x0003
	MsgAuthComplete MessageType = 0x0004 // "status OK"

	MsgPingRequest  MessageType = 0x0005
	MsgPingResponse MessageType = 0x0006

	MsgNavFocusRequest  MessageType = 0x0007
	MsgNavFocusResponse MessageType = 0x0008

	MsgShutdownRequest  MessageType = 0x0009
	MsgShutdownResponse MessageType = 0x000A
	MsgByeByeRequest    MessageType = MsgShutdownRequest
	MsgByeByeResponse   MessageType = MsgShutdownResponse

	MsgServiceDiscoveryRequest  MessageType = 0x000B
	MsgServiceDiscoveryResponse MessageType = 0x000C

	MsgChannelOpenRequest  MessageType = 0x000D
	MsgChannelOpenResponse MessageType = 0x000E

	MsgAudioFocusRequest  MessageType = 0x000F
	MsgAudioFocusResponse MessageType = 0x0010

	MsgVideoFocusRequest  MessageType = 0x0011
	MsgVideoFocusResponse MessageType = 0x0012

	MsgNightModeRequest  MessageType = 0x0013
	MsgNightModeResponse MessageType = 0x0014

	// Data message types, carried on media/sensor/input/playback channels.
	MsgMediaData0 MessageType = 0x0000
	MsgMediaData1 MessageType = 0x0001
	MsgMediaAck   MessageType = 0x0002
	MsgMediaStart MessageType = 0x0003
	MsgMediaStop  MessageType = 0x0004
)

// AudioFocusGain enumerates the focus kinds a peer may request.
type AudioFocusGain uint8

const (
	FocusGain AudioFocusGain = iota
	FocusGainTransient
	FocusGainTransientMayDuck
	FocusLoss
	FocusLossTransient
	FocusLossTransientCanDuck
)

// NightModeValue mirrors the NightModeRequest/Response payload's boolean.
type NightModeValue uint8

const (
	NightModeDay NightModeValue = iota
	NightModeNight
)
