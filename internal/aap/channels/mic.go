package channels

import (
	"sync"

	"github.com/alxayo/aap-headunit/internal/aap/ports"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Mic captures from a ports.MicSource and forwards PCM frames to the
// phone over the MIC channel. The engine starts it once the session is
// Streaming and the stabilisation delay has elapsed, and stops it at
// teardown; MediaStart/MediaStop messages from the peer do not start or
// stop it.
// Mirrors Audio's lazy-start shape but for the opposite (outbound)
// direction.
type Mic struct {
	mu         sync.Mutex
	source     ports.MicSource
	send       SendFunc
	sampleRate int
	started    bool
}

// NewMic creates a Mic adapter. source may be nil (no host microphone
// configured), in which case Start/Stop/Capture are no-ops.
func NewMic(source ports.MicSource, sampleRate int, send SendFunc) *Mic {
	return &Mic{source: source, sampleRate: sampleRate, send: send}
}

// Start begins capture, idempotent.
func (m *Mic) Start() error {
	if m.source == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if err := m.source.Start(m.sampleRate); err != nil {
		return err
	}
	m.started = true
	return nil
}

// Stop ends capture, idempotent.
func (m *Mic) Stop() {
	if m.source == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.source.Stop()
	m.started = false
}

// Capture forwards one block of captured PCM to the peer. Called by
// whatever goroutine drains the host microphone's buffer; Start must
// have been called first.
func (m *Mic) Capture(pcm []byte) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}
	return m.send(wire.ChannelMic, wire.MsgMediaData0, pcm)
}
