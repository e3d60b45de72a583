package wire

import (
	"encoding/binary"
	"fmt"
)

// Flags is the single flag byte carried by every Frame header. Bit values
// are fixed by the observed peer implementation and MUST NOT be reassigned;
// see spec.md §3.
type Flags uint8

const (
	FlagEncrypted     Flags = 0x08
	FlagFirstFragment Flags = 0x04
	FlagLastFragment  Flags = 0x02
	FlagControl       Flags = 0x01
)

// Well-known combined flag byte values used throughout the handshake and
// streaming phases.
const (
	FlagsEncryptedComplete   Flags = 0x0B // single complete encrypted message (bits: encrypted, last, control)
	FlagsEncryptedFirst      Flags = 0x09 // first encrypted fragment (bits: encrypted, control)
	FlagsEncryptedLast       Flags = 0x0A // encrypted + last only
	FlagsEncryptedMiddle     Flags = 0x08 // encrypted middle fragment
	FlagsHandshakeUnencypted Flags = 0x03 // unencrypted handshake
	FlagsControlComplete     Flags = 0x07 // unencrypted control complete
)

func (f Flags) Encrypted() bool     { return f&FlagEncrypted != 0 }
func (f Flags) First() bool         { return f&FlagFirstFragment != 0 }
func (f Flags) Last() bool          { return f&FlagLastFragment != 0 }
func (f Flags) ControlBit() bool    { return f&FlagControl != 0 }
func (f Flags) Complete() bool      { return f.First() && f.Last() }

// HeaderSize is the fixed on-wire header length: channel(1) | flags(1) |
// length(2, big-endian).
const HeaderSize = 4

// MaxFramePayload bounds the 16-bit length field.
const MaxFramePayload = 0xFFFF

// Frame is a single on-wire unit: a 4-byte header plus its payload.
type Frame struct {
	Channel ChannelID
	Flags   Flags
	Payload []byte
}

// EncodeHeader writes the 4-byte header for a frame of the given payload
// length into dst (which must be at least HeaderSize bytes).
func EncodeHeader(dst []byte, ch ChannelID, flags Flags, payloadLen int) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("wire: header dst too small (%d < %d)", len(dst), HeaderSize)
	}
	if payloadLen < 0 || payloadLen > MaxFramePayload {
		return fmt.Errorf("wire: payload length %d out of range", payloadLen)
	}
	dst[0] = byte(ch)
	dst[1] = byte(flags)
	binary.BigEndian.PutUint16(dst[2:4], uint16(payloadLen))
	return nil
}

// Encode serializes the frame (header + payload) into a freshly allocated
// slice.
func (f *Frame) Encode() ([]byte, error) {
	out := make([]byte, HeaderSize+len(f.Payload))
	if err := EncodeHeader(out, f.Channel, f.Flags, len(f.Payload)); err != nil {
		return nil, err
	}
	copy(out[HeaderSize:], f.Payload)
	return out, nil
}

// DecodeHeader parses a 4-byte header, returning channel, flags and the
// declared payload length. A channel id beyond the channel table or a flag
// byte other than one of the well-known combined values is an error.
func DecodeHeader(b []byte) (ch ChannelID, flags Flags, length uint16, err error) {
	if len(b) < HeaderSize {
		return 0, 0, 0, fmt.Errorf("wire: header too short (%d bytes)", len(b))
	}
	ch = ChannelID(b[0])
	flags = Flags(b[1])
	length = binary.BigEndian.Uint16(b[2:4])
	if ch > ChannelPhone {
		return 0, 0, 0, fmt.Errorf("wire: unknown channel %d", b[0])
	}
	switch flags {
	case FlagsEncryptedComplete, FlagsEncryptedFirst, FlagsEncryptedLast,
		FlagsEncryptedMiddle, FlagsHandshakeUnencypted, FlagsControlComplete:
	default:
		return 0, 0, 0, fmt.Errorf("wire: unknown flags 0x%02x", b[1])
	}
	return ch, flags, length, nil
}

// Message is a decrypted post-TLS payload: the same channel/flags the
// Frame carried, plus the parsed 16-bit message type taken from the first
// two payload bytes.
type Message struct {
	Channel ChannelID
	Flags   Flags
	Type    MessageType
	Payload []byte // full payload, including the 2-byte type prefix
}

// Body returns the payload bytes following the 2-byte type prefix.
func (m *Message) Body() []byte {
	if len(m.Payload) <= 2 {
		return nil
	}
	return m.Payload[2:]
}

// ParseMessage extracts the message type from a decrypted frame payload.
func ParseMessage(ch ChannelID, flags Flags, payload []byte) (*Message, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("wire: message payload too short for type (%d bytes)", len(payload))
	}
	t := MessageType(binary.BigEndian.Uint16(payload[:2]))
	return &Message{Channel: ch, Flags: flags, Type: t, Payload: payload}, nil
}

// EncodeMessage prepends the 2-byte big-endian type to body, returning a
// payload suitable for framing.
func EncodeMessage(t MessageType, body []byte) []byte {
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[:2], uint16(t))
	copy(out[2:], body)
	return out
}

// MessageType is the 16-bit big-endian value formed by the first two
// payload bytes of a decrypted Message.
type MessageType uint16

// Type-range classification, per spec.md §3.
func (t MessageType) IsControl() bool {
	return t <= 31 || (t >= 32768 && t <= 32799) || t >= 65504
}

func (t MessageType) IsData() bool { return !t.IsControl() }
