// Package events implements the session's single outward-facing event
// stream: {Connected, Disconnected{reason}, Stats{drops,...}}, per
// spec.md §9. Retargeted from internal/rtmp/server/hooks' general-purpose
// event/hook system to this narrower surface — see DESIGN.md for why the
// webhook/shell/stdio hook machinery wasn't carried over.
package events

import (
	"sync"
	"time"
)

// Kind discriminates the three event variants the core ever emits.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindStats        Kind = "stats"
)

// DisconnectReason mirrors fsm.CloseReason, kept as its own type here so
// this package doesn't need to import fsm just to describe why a session
// ended.
type DisconnectReason string

const (
	ReasonUnspecified    DisconnectReason = "unspecified"
	ReasonByeBye         DisconnectReason = "bye_bye"
	ReasonTlsFailed      DisconnectReason = "tls_failed"
	ReasonTransportError DisconnectReason = "transport_error"
	ReasonProtocolError  DisconnectReason = "protocol_error"
)

// Stats carries the counters spec.md §9's "Stats{drops,...}" placeholder
// stands in for: frame-resync drops, decoder-queue drops, and missed
// pongs. The engine itself never publishes a Stats event and no component
// fills these counters.
type Stats struct {
	FramingResyncDrops uint64
	DecoderQueueDrops  uint64
	MissedPongs        uint64
}

// Event is one point on the event stream.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Reason    DisconnectReason
	Stats     Stats
}

// Connected builds a Connected event.
func Connected(at time.Time) Event {
	return Event{Kind: KindConnected, Timestamp: at}
}

// Disconnected builds a Disconnected event carrying why the session ended.
func Disconnected(at time.Time, reason DisconnectReason) Event {
	return Event{Kind: KindDisconnected, Timestamp: at, Reason: reason}
}

// StatsUpdate builds a Stats event carrying the current counters.
func StatsUpdate(at time.Time, s Stats) Event {
	return Event{Kind: KindStats, Timestamp: at, Stats: s}
}

// Handler receives every event published on a Bus. Handlers run
// synchronously on the publisher's goroutine (the engine publishes from
// the goroutine calling Connect and from whichever goroutine runs
// teardown) — unlike internal/rtmp/server/hooks.HookManager's
// worker-pool dispatch, there's exactly one consumer here (the host
// application), so there's nothing to fan out to concurrently.
type Handler func(Event)

// Bus fans one session's events out to every subscribed Handler.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers a handler. Safe to call concurrently with Publish.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers ev to every subscribed handler, in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
