// Package framer decodes the AAP 4-byte channel/flags/length header and
// assembles length-delimited frames from the raw byte stream sitting in a
// ringbuf.RingBuffer. It mirrors the stateful, resumable parsing loop the
// RTMP chunk reader uses (nextHeader/ReadMessage), adapted to AAP's fixed
// 4-byte header instead of RTMP's variable basic-header encoding.
package framer

import (
	"encoding/binary"

	"github.com/alxayo/aap-headunit/internal/aap/ringbuf"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
	protoerr "github.com/alxayo/aap-headunit/internal/errors"
)

// maxResyncBytes bounds how many bytes the Framer will discard while
// hunting for a valid header before giving up and failing the session.
const maxResyncBytes = 256

// Framer is a stateful decoder sitting on top of a RingBuffer. Not safe for
// concurrent use — intended for a single parser goroutine.
type Framer struct {
	readingHeader bool
	headerPos     int
	headerBuf     [wire.HeaderSize]byte

	channel wire.ChannelID
	flags   wire.Flags
	length  uint16

	msgBuf []byte
	msgPos int

	resyncCount int

	// postHandshake, once set, enforces the "encrypted bit must be set"
	// rule from spec.md §3. The FSM flips this once Status-OK is sent.
	postHandshake bool
}

// New creates a Framer ready to read headers.
func New() *Framer {
	return &Framer{readingHeader: true}
}

// SetPostHandshake toggles whether the encrypted-flag invariant is
// enforced. Before the handshake completes, unencrypted frames are
// expected; afterwards any frame without the encrypted bit is a framing
// error.
func (f *Framer) SetPostHandshake(v bool) { f.postHandshake = v }

// PostHandshake reports whether the encrypted-flag invariant is currently
// enforced.
func (f *Framer) PostHandshake() bool { return f.postHandshake }

// FrameHandler receives each fully assembled frame in arrival order.
type FrameHandler func(*wire.Frame) error

// Drain pulls as many complete frames as are currently available from ring,
// invoking handle for each. It returns nil when the ring is exhausted
// (handle has been called for every currently-available complete frame),
// or a *errors.FramingError if the resync budget is exhausted.
func (f *Framer) Drain(ring *ringbuf.RingBuffer, handle FrameHandler) error {
	for {
		if f.readingHeader {
			need := wire.HeaderSize - f.headerPos
			n := ring.Read(f.headerBuf[f.headerPos:wire.HeaderSize])
			f.headerPos += n
			if n < need {
				return nil // not enough header bytes yet
			}

			ch, flags, length, err := wire.DecodeHeader(f.headerBuf[:])
			if err != nil {
				return f.resync(ring, handle)
			}
			if f.postHandshake && !flags.Encrypted() {
				return f.resync(ring, handle)
			}

			f.channel = ch
			f.flags = flags
			f.length = length
			f.msgBuf = make([]byte, length)
			f.msgPos = 0
			f.readingHeader = false
			f.resyncCount = 0
		}

		remaining := int(f.length) - f.msgPos
		if remaining > 0 {
			n := ring.Read(f.msgBuf[f.msgPos:])
			f.msgPos += n
			if n < remaining {
				return nil // not enough payload bytes yet
			}
		}

		frame := &wire.Frame{Channel: f.channel, Flags: f.flags, Payload: f.msgBuf}
		f.resetForNextHeader()
		if err := handle(frame); err != nil {
			return err
		}
	}
}

// resync implements the header-resync rule from spec.md §4.2: discard
// exactly one byte and retry, bounded by maxResyncBytes consecutive
// discarded bytes (the count restarts whenever a valid header is accepted)
// before the session is considered unrecoverable.
func (f *Framer) resync(ring *ringbuf.RingBuffer, handle FrameHandler) error {
	shifted := f.headerBuf
	copy(f.headerBuf[0:wire.HeaderSize-1], shifted[1:wire.HeaderSize])
	f.headerPos = wire.HeaderSize - 1
	f.resyncCount++
	if f.resyncCount > maxResyncBytes {
		f.resetForNextHeader()
		return protoerr.NewFramingError("framer.resync", errResyncExhausted)
	}
	// Continue draining; the caller's loop in Drain already returns to the
	// top since resync is only invoked from within it — recurse instead
	// to keep trying with the shifted buffer against further ring data.
	return f.Drain(ring, handle)
}

func (f *Framer) resetForNextHeader() {
	f.readingHeader = true
	f.headerPos = 0
	f.msgBuf = nil
	f.msgPos = 0
}

// errResyncExhausted is wrapped by FramingError once the resync budget is
// spent without finding a valid header.
var errResyncExhausted = resyncExhaustedError{}

type resyncExhaustedError struct{}

func (resyncExhaustedError) Error() string { return "framer: resync budget exhausted" }

// EncodeFrame is a thin convenience wrapper the Outbox uses to serialize a
// frame's 4-byte header directly ahead of its payload, avoiding a second
// allocation when the payload already has room reserved.
func EncodeFrame(dst []byte, ch wire.ChannelID, flags wire.Flags, payload []byte) []byte {
	binary.BigEndian.PutUint16(dst[2:4], uint16(len(payload)))
	dst[0] = byte(ch)
	dst[1] = byte(flags)
	return append(dst[:wire.HeaderSize], payload...)
}
