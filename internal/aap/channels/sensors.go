package channels

import (
	"sync"

	"github.com/alxayo/aap-headunit/internal/aap/ports"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Sensors subscribes to every enabled sensor type and forwards readings
// over the SENSOR channel. The subscribe-then-fan-out-to-a-snapshot shape
// mirrors internal/rtmp/media/relay.go's Stream.AddSubscriber/
// BroadcastMessage, simplified to one outbound channel per feed rather than
// per-connection subscriber lists, since every reading here has exactly one
// destination (the session's SENSOR channel).
type Sensors struct {
	mu      sync.Mutex
	feed    ports.SensorFeed
	send    SendFunc
	cancels []func()
}

// NewSensors creates a Sensors manager. feed may be nil (no host sensor
// bridge configured), in which case Start is a no-op.
func NewSensors(feed ports.SensorFeed, send SendFunc) *Sensors {
	return &Sensors{feed: feed, send: send}
}

// Start subscribes to each sensor type present (and true) in enabled,
// forwarding every reading on the SENSOR channel with that sensor's type
// code as the message type.
func (s *Sensors) Start(enabled map[uint8]bool) {
	if s.feed == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sensorType, on := range enabled {
		if !on {
			continue
		}
		t := sensorType
		cancel := s.feed.Subscribe(t, func(payload []byte) {
			_ = s.send(wire.ChannelSensor, wire.MessageType(t), payload)
		})
		if cancel != nil {
			s.cancels = append(s.cancels, cancel)
		}
	}
}

// Stop unsubscribes every active feed. Idempotent.
func (s *Sensors) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}
