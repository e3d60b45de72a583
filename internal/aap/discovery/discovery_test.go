package discovery

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/config"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		Resolution:    config.Resolution1280x720,
		MicSampleRate: 16000,
		NightMode:     config.NightModeAuto,
		SensorsEnabled: map[uint8]bool{
			uint8(wire.SensorDrivingStatus): true,
			uint8(wire.SensorLocation):      true,
		},
	}
}

// TestExpectedServices_CoversEveryFixedChannel exercises scenario B from
// spec.md §8: ExpectedServices must require a ChannelOpenRequest for every
// fixed channel, and must leave Bluetooth out when no MAC is configured.
func TestExpectedServices_CoversEveryFixedChannel(t *testing.T) {
	c := New(testConfig())
	expected := c.ExpectedServices()

	want := []wire.ChannelID{
		wire.ChannelControl, wire.ChannelSensor, wire.ChannelVideo, wire.ChannelInput,
		wire.ChannelAudioMedia, wire.ChannelAudioSpeech, wire.ChannelAudioSystem,
		wire.ChannelMic, wire.ChannelMusicPlayback,
	}
	for _, ch := range want {
		require.True(t, expected[ch], "expected channel %s to be required", ch)
	}
	require.False(t, expected[wire.ChannelBluetooth], "bluetooth is only advertised when a MAC is configured")
}

func TestExpectedServices_BluetoothOnlyWhenMACConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.BluetoothMAC = "AA:BB:CC:DD:EE:FF"
	c := New(cfg)
	require.True(t, c.ExpectedServices()[wire.ChannelBluetooth])
}

func TestDiscoveryResponsePayload_CountMatchesEntries(t *testing.T) {
	c := New(testConfig())
	payload := c.DiscoveryResponsePayload()

	count := binary.BigEndian.Uint16(payload[0:2])
	require.Equal(t, uint16(len(c.ExpectedServices())), count)

	// Walk the TLV entries and confirm they parse to exactly `count` blocks
	// without running off the end of the payload.
	pos := 2
	seen := 0
	for pos < len(payload) {
		require.GreaterOrEqual(t, len(payload)-pos, 3)
		paramLen := int(binary.BigEndian.Uint16(payload[pos+1 : pos+3]))
		pos += 3 + paramLen
		seen++
	}
	require.Equal(t, int(count), seen)
}

func TestDiscoveryResponsePayload_VideoParamsCarryResolutionAndDPI(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	payload := c.DiscoveryResponsePayload()

	pos := 2
	for pos < len(payload) {
		ch := wire.ChannelID(payload[pos])
		paramLen := int(binary.BigEndian.Uint16(payload[pos+1 : pos+3]))
		params := payload[pos+3 : pos+3+paramLen]
		if ch == wire.ChannelVideo {
			width := binary.BigEndian.Uint16(params[0:2])
			height := binary.BigEndian.Uint16(params[2:4])
			require.Equal(t, uint16(cfg.Resolution.Width), width)
			require.Equal(t, uint16(cfg.Resolution.Height), height)
			dpi := binary.BigEndian.Uint16(params[6:8])
			require.Equal(t, uint16(240), dpi)
			return
		}
		pos += 3 + paramLen
	}
	t.Fatal("video service entry not found in discovery payload")
}
