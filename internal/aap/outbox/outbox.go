// Package outbox implements the single outbound pipeline every
// application-level message passes through: encrypt, frame, write
// (spec.md §4.8). Protocol bootstrap writes the FSM makes directly
// (version request, TLS handshake bytes, status-OK, the FSM's own
// service-discovery/channel-open replies) bypass this package entirely —
// see internal/aap/fsm.FrameWriter's doc comment for why.
package outbox

import (
	"sync"

	"github.com/alxayo/aap-headunit/internal/aap/framer"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
	"github.com/alxayo/aap-headunit/internal/bufpool"
)

// Encryptor wraps one plaintext record into a TLS application-data record.
// Satisfied by *tlssession.Session.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Writer sends a fully framed, encrypted buffer to the peer. Satisfied by
// transport.Transport.
type Writer interface {
	Write(b []byte) (int, error)
}

type pending struct {
	channel wire.ChannelID
	msgType wire.MessageType
	body    []byte
}

// Outbox serializes every application-level send for one session: it
// holds messages sent before the FSM reaches StatusSent in arrival order,
// then flushes them once MarkReady is called, matching spec.md §4.8's
// pending-list behavior. Safe to call Send from any thread — mirrors
// internal/rtmp/conn.Connection.SendMessage's "safe to call from any
// goroutine, serialized internally" contract, adapted from a channel-based
// queue (RTMP's writeLoop) to inline synchronous send (AAP has no chunking
// layer reordering frames after the fact).
type Outbox struct {
	mu      sync.Mutex
	tls     Encryptor
	writer  Writer
	ready   bool
	pending []pending
}

// New creates an Outbox. The engine builds it before the session's TLS
// engine exists, so tls may be an Encryptor that looks up the TLS engine
// only when Encrypt is called.
func New(tls Encryptor, writer Writer) *Outbox {
	return &Outbox{tls: tls, writer: writer}
}

// Send encodes one message and either queues it (session not yet at
// StatusSent) or sends it immediately. ch/t/body follow the same shape as
// channels.SendFunc so channel handlers can be pointed directly at
// (*Outbox).Send.
func (o *Outbox) Send(ch wire.ChannelID, t wire.MessageType, body []byte) error {
	o.mu.Lock()
	if !o.ready {
		o.pending = append(o.pending, pending{channel: ch, msgType: t, body: body})
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return o.sendNow(ch, t, body)
}

// MarkReady flushes every queued message in arrival order and switches the
// Outbox to immediate-send mode. Called once, when the FSM enters
// StatusSent. Idempotent: a second call is a no-op.
func (o *Outbox) MarkReady() error {
	o.mu.Lock()
	if o.ready {
		o.mu.Unlock()
		return nil
	}
	queued := o.pending
	o.pending = nil
	o.ready = true
	o.mu.Unlock()

	for _, p := range queued {
		if err := o.sendNow(p.channel, p.msgType, p.body); err != nil {
			return err
		}
	}
	return nil
}

// sendNow performs the encrypt → frame → write pipeline for one message.
// The header's length field covers the post-encryption payload, since
// encryption happens first and changes the size (spec.md §4.8).
func (o *Outbox) sendNow(ch wire.ChannelID, t wire.MessageType, body []byte) error {
	plaintext := wire.EncodeMessage(t, body)
	ciphertext, err := o.tls.Encrypt(plaintext)
	if err != nil {
		return err
	}
	// Pulled from a size-classed pool rather than wire.Frame.Encode's own
	// fresh make(), since the buffer's lifetime ends the instant writer.Write
	// returns below — framer.EncodeFrame exists precisely for this case.
	buf := bufpool.Get(wire.HeaderSize + len(ciphertext))
	framed := framer.EncodeFrame(buf, ch, wire.FlagsEncryptedComplete, ciphertext)

	// A single mutex around the final write keeps frames on different
	// channels from interleaving mid-header, per spec.md §5's "outbound
	// frames on the same channel are serialized by the writer mutex" —
	// generalized here to all channels. Frames the FSM writes directly
	// (media acks and protocol replies) do not take this mutex; they rely
	// on the transport's own Write serialization.
	o.mu.Lock()
	_, err = o.writer.Write(framed)
	o.mu.Unlock()
	bufpool.Put(buf)
	return err
}
