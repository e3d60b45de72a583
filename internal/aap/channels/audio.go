package channels

import (
	"sync"

	"github.com/alxayo/aap-headunit/internal/aap/ports"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Audio adapts one of the three independent audio streams (speech, system,
// media — spec.md §3) to its ports.AudioSink. Loosely mirrors
// internal/rtmp/media/audio.go's header-parse-then-route shape, simplified
// because AAP audio frames carry raw PCM with no embedded codec header: the
// format is negotiated once at discovery time via the service's params.
type Audio struct {
	mu      sync.Mutex
	sink    ports.AudioSink
	started bool
}

// NewAudio creates an Audio adapter around sink. sink may be nil, in which
// case Handle silently discards payload (no host audio HAL configured).
func NewAudio(sink ports.AudioSink) *Audio {
	return &Audio{sink: sink}
}

// Handle forwards one decrypted audio-channel message's body to the sink,
// starting it lazily on first use and honoring MsgMediaStart/MsgMediaStop.
func (a *Audio) Handle(msg *wire.Message) {
	if a.sink == nil {
		return
	}
	switch msg.Type {
	case wire.MsgMediaStart:
		a.mu.Lock()
		if !a.started {
			a.sink.Start(48000, 2)
			a.started = true
		}
		a.mu.Unlock()
	case wire.MsgMediaStop:
		a.mu.Lock()
		if a.started {
			a.sink.Stop()
			a.started = false
		}
		a.mu.Unlock()
	default:
		a.mu.Lock()
		if !a.started {
			a.sink.Start(48000, 2)
			a.started = true
		}
		a.mu.Unlock()
		a.sink.Write(msg.Body())
	}
}

// Stop tears down the sink at session teardown, idempotent.
func (a *Audio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started && a.sink != nil {
		a.sink.Stop()
		a.started = false
	}
}
