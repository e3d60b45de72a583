// Package discovery assembles the ServiceDiscoveryResponse payload from the
// engine's Configuration and tells the fsm which channels must receive a
// ChannelOpenRequest before the session is allowed into Streaming. The
// binary layout (count-prefixed, per-service TLV blocks) is new — there is
// no generated-protobuf equivalent in this engine — but the overall shape
// of "encode a single control response from config state" is grounded on
// internal/rtmp/control/encoder.go's per-message Encode* functions.
package discovery

import (
	"encoding/binary"

	"github.com/alxayo/aap-headunit/internal/aap/config"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Catalog implements fsm.ServiceCatalog against a fixed Configuration.
type Catalog struct {
	cfg *config.Config
}

// New creates a Catalog bound to cfg. cfg must outlive the Catalog; the
// engine rebuilds it once per session from a snapshot, so mutation races
// with discovery are not a concern.
func New(cfg *config.Config) *Catalog {
	return &Catalog{cfg: cfg}
}

// serviceEntry pairs a channel with its config-derived parameter bytes, used both to build the discovery
// response and to compute ExpectedServices.
type serviceEntry struct {
	channel wire.ChannelID
	params  []byte
}

func (c *Catalog) services() []serviceEntry {
	cfg := c.cfg
	entries := []serviceEntry{
		{channel: wire.ChannelControl},
		{channel: wire.ChannelSensor, params: encodeSensorParams(cfg.SensorsEnabled, cfg.NightMode)},
		{channel: wire.ChannelVideo, params: encodeVideoParams(cfg)},
		{channel: wire.ChannelInput, params: encodeInputParams(cfg)},
		{channel: wire.ChannelAudioMedia, params: encodeAudioParams()},
		{channel: wire.ChannelAudioSpeech, params: encodeAudioParams()},
		{channel: wire.ChannelAudioSystem, params: encodeAudioParams()},
		{channel: wire.ChannelMic, params: encodeMicParams(cfg.MicSampleRate)},
		{channel: wire.ChannelMusicPlayback},
	}
	if cfg.BluetoothMAC != "" {
		entries = append(entries, serviceEntry{channel: wire.ChannelBluetooth, params: []byte(cfg.BluetoothMAC)})
	}
	return entries
}

// DiscoveryResponsePayload encodes every advertised service as
// [channel(1)][paramLen(2 BE)][params...], count-prefixed, per
// spec.md §6's service table.
func (c *Catalog) DiscoveryResponsePayload() []byte {
	entries := c.services()
	out := make([]byte, 2, 64)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(entries)))
	for _, e := range entries {
		out = append(out, byte(e.channel))
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.params)))
		out = append(out, lenBuf[:]...)
		out = append(out, e.params...)
	}
	return out
}

// ExpectedServices lists every channel the discovery response advertised —
// the fsm requires a ChannelOpenRequest for each before entering Streaming.
func (c *Catalog) ExpectedServices() map[wire.ChannelID]bool {
	entries := c.services()
	out := make(map[wire.ChannelID]bool, len(entries))
	for _, e := range entries {
		out[e.channel] = true
	}
	return out
}

func encodeSensorParams(enabled map[uint8]bool, nightMode config.NightMode) []byte {
	types := make([]byte, 0, 3)
	if enabled[uint8(wire.SensorDrivingStatus)] {
		types = append(types, byte(wire.SensorDrivingStatus))
	}
	if enabled[uint8(wire.SensorLocation)] {
		types = append(types, byte(wire.SensorLocation))
	}
	if nightMode != config.NightModeNone {
		types = append(types, byte(wire.SensorNight))
	}
	return types
}

func encodeVideoParams(cfg *config.Config) []byte {
	dpi, top, bottom := cfg.EffectiveDPI(cfg.Resolution.Height)
	out := make([]byte, 16)
	binary.BigEndian.PutUint16(out[0:2], uint16(cfg.Resolution.Width))
	binary.BigEndian.PutUint16(out[2:4], uint16(cfg.Resolution.Height))
	binary.BigEndian.PutUint16(out[4:6], 30) // fps
	binary.BigEndian.PutUint16(out[6:8], uint16(dpi))
	binary.BigEndian.PutUint16(out[8:10], uint16(top))
	binary.BigEndian.PutUint16(out[10:12], uint16(bottom))
	binary.BigEndian.PutUint16(out[12:14], uint16(cfg.UserMargins.Left))
	binary.BigEndian.PutUint16(out[14:16], uint16(cfg.UserMargins.Right))
	return out
}

func encodeInputParams(cfg *config.Config) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(cfg.Resolution.Width))
	binary.BigEndian.PutUint16(out[2:4], uint16(cfg.Resolution.Height))
	return out
}

func encodeAudioParams() []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], 48000)
	out[2] = 16 // bits
	out[3] = 2  // channels
	return out
}

func encodeMicParams(sampleRate int) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(sampleRate))
	out[2] = 16 // bits
	out[3] = 1  // mono
	return out
}
