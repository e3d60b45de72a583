package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/config"
	"github.com/alxayo/aap-headunit/internal/aap/events"
	"github.com/alxayo/aap-headunit/internal/aap/fsm"
)

func validEngineConfig() *config.Config {
	return &config.Config{
		Transport:            config.TransportConfig{Kind: config.TransportSocket, Host: "127.0.0.1", Port: 5277},
		Resolution:           config.Resolution1280x720,
		MicSampleRate:        16000,
		StabilisationDelayMS: 300,
		NightMode:            config.NightModeAuto,
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := validEngineConfig()
	cfg.MicSampleRate = 44100
	_, err := New(cfg, HostPorts{}, nil)
	require.Error(t, err)
}

func TestNew_RejectsUnknownTransportKind(t *testing.T) {
	cfg := validEngineConfig()
	cfg.Transport.Kind = "bluetooth-serial"
	_, err := New(cfg, HostPorts{}, nil)
	require.Error(t, err)
}

func TestNew_BuildsWithNilHostPorts(t *testing.T) {
	e, err := New(validEngineConfig(), HostPorts{}, nil)
	require.NoError(t, err)
	require.NotNil(t, e)
	require.NotNil(t, e.log, "New falls back to slog.Default() when log is nil")
	require.NotNil(t, e.session)
	require.NotNil(t, e.dispatcher)
	require.NotNil(t, e.outboxBus)
	require.NotNil(t, e.catalog)
	require.NotNil(t, e.eventBus)
}

func TestNew_UsbTransportWiresFromFD(t *testing.T) {
	cfg := validEngineConfig()
	cfg.Transport = config.TransportConfig{Kind: config.TransportUSB, FD: 3}
	e, err := New(cfg, HostPorts{}, nil)
	require.NoError(t, err)
	require.NotNil(t, e.transport)
}

// TestCloseReasonToEventReason_MapsEveryFsmCloseReason exercises scenario
// G from spec.md §8: whatever reason the fsm recorded for entering
// Closing must translate to the matching events.DisconnectReason so a
// host application's Disconnected handler sees why the session ended.
func TestCloseReasonToEventReason_MapsEveryFsmCloseReason(t *testing.T) {
	cases := []struct {
		fsmReason fsm.CloseReason
		want      events.DisconnectReason
	}{
		{fsm.CloseByeBye, events.ReasonByeBye},
		{fsm.CloseTlsFailed, events.ReasonTlsFailed},
		{fsm.CloseTransportError, events.ReasonTransportError},
		{fsm.CloseProtocolError, events.ReasonProtocolError},
		{fsm.CloseUnspecified, events.ReasonUnspecified},
	}
	for _, c := range cases {
		e, err := New(validEngineConfig(), HostPorts{}, nil)
		require.NoError(t, err)
		e.session.Close(c.fsmReason)
		require.Equal(t, c.want, e.closeReasonToEventReason())
	}
}
