// Package channels implements the per-channel logic that sits behind the
// protocol FSM: audio/video sink adapters, sensor/input event translation,
// music-metadata forwarding, and the control-message dispatch table. Each
// handler is a thin adapter between the fsm.Session's routing callbacks and
// the ports interfaces the host application supplies — mirroring
// internal/rtmp/control.Context/Handle's "decode, mutate injected state,
// optionally Send a reply" shape and internal/rtmp/media's
// Subscriber/CodecStore pattern of depending on behavior, not concrete
// types.
package channels

import (
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// SendFunc emits one application-level message through the Outbox: encrypt,
// frame, write (spec.md §4.8), queued if the session predates StatusSent.
// Channel handlers use this for every message that isn't a direct FSM
// protocol reply (those go through fsm.Session's own Handle* methods).
type SendFunc func(ch wire.ChannelID, t wire.MessageType, body []byte) error
