package channels

import (
	"github.com/alxayo/aap-headunit/internal/aap/fsm"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// NewControlHandler builds the fsm.StreamHandlers.Control callback: it
// dispatches a decrypted control-type message to the matching
// fsm.Session reply method. Unrecognized control types are ignored (the
// handler returns nil and nothing is logged) and do not disconnect the
// session.
// Grounded on internal/rtmp/control/handler.go's Handle switch, adapted
// from RTMP's six fixed control message kinds to AAP's open control set.
func NewControlHandler(session *fsm.Session) func(*wire.Message) error {
	return func(msg *wire.Message) error {
		switch msg.Type {
		case wire.MsgPingRequest:
			return session.HandlePing(msg)
		case wire.MsgAudioFocusRequest:
			return session.HandleAudioFocusRequest(msg)
		case wire.MsgVideoFocusRequest:
			return session.HandleVideoFocusRequest(msg)
		case wire.MsgNightModeRequest:
			return session.HandleNightModeRequest(msg)
		case wire.MsgByeByeRequest:
			// fsm.HandleStreamingMessage already transitions the session to
			// Closing once this handler returns; nothing further to send.
			return nil
		default:
			return nil
		}
	}
}
