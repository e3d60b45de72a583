// Package reassemble implements the video-channel H.264 fragment
// reassembler: it stitches first/middle/last fragments back into complete
// NAL sequences, caches the session's SPS/PPS once, and re-injects them
// ahead of the first frame handed to the decoder. The one-shot
// detect-then-cache shape is grounded on internal/rtmp/media.CodecDetector's
// "store interface checked before updating" pattern, generalized from
// codec-string detection to raw SPS/PPS byte caching.
package reassemble

import (
	"bytes"
	"sync"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
	"github.com/alxayo/aap-headunit/internal/logger"
)

// maxSlotBytes bounds the in-progress reassembly buffer, per spec.md §3.
const maxSlotBytes = 512 * 1024

// firstFragmentHeaderLen is the number of leading bytes spec.md §4.6 says
// to strip from the first fragment (and from a 0x0B complete message) of
// every video payload before it reaches NAL inspection.
const firstFragmentHeaderLen = 10

var nalStartCode = []byte{0x00, 0x00, 0x00, 0x01}

const (
	nalTypeSPS = 7
	nalTypePPS = 8
)

// DecoderSink is the external hardware H.264 decoder's queue, out of scope
// per spec.md §1 beyond this interface.
type DecoderSink interface {
	Offer([]byte)
	Reset()
	Ready() bool
}

// Reassembler holds the single in-progress reassembly slot and the
// session's SPS/PPS cache. Exclusive to the video worker goroutine, per
// spec.md §5 — no internal locking is required for the slot, but the
// SPS/PPS cache is mutex-guarded because Reset may be invoked from the
// engine's teardown goroutine at disconnect time.
type Reassembler struct {
	inProgress      bool
	expectedChannel wire.ChannelID
	buf             []byte

	cacheMu  sync.Mutex
	sps      []byte
	pps      []byte
	injected bool

	sink DecoderSink
	log  func(msg string, args ...any)
}

// New creates a Reassembler that forwards completed frames to sink.
func New(sink DecoderSink) *Reassembler {
	return &Reassembler{sink: sink, log: logger.Warn}
}

// Handle processes one decrypted video-channel message.
func (r *Reassembler) Handle(msg *wire.Message) {
	switch msg.Flags {
	case wire.FlagsEncryptedComplete:
		r.handleComplete(msg)
	case wire.FlagsEncryptedFirst:
		r.handleFirst(msg)
	case wire.FlagsEncryptedMiddle:
		r.handleMiddle(msg)
	case wire.FlagsEncryptedLast:
		r.handleLast(msg)
	default:
		r.log("reassembler: unrecognized video flags, discarding", "flags", msg.Flags)
	}
}

func (r *Reassembler) handleComplete(msg *wire.Message) {
	payload := msg.Payload
	var nal []byte
	switch {
	case len(payload) >= firstFragmentHeaderLen+4 && bytes.Equal(payload[firstFragmentHeaderLen:firstFragmentHeaderLen+4], nalStartCode):
		nal = payload[firstFragmentHeaderLen:]
	case msg.Type == 1 && len(payload) >= 6 && bytes.Equal(payload[2:6], nalStartCode):
		nal = payload[2:]
	default:
		r.log("reassembler: complete frame missing NAL start code, discarding")
		return
	}
	r.emit(nal)
}

func (r *Reassembler) handleFirst(msg *wire.Message) {
	if len(msg.Payload) < firstFragmentHeaderLen {
		r.log("reassembler: first fragment too short, discarding")
		r.resetSlot()
		return
	}
	if r.inProgress {
		r.log("reassembler: new first-fragment while in-progress, discarding previous slot")
	}
	r.inProgress = true
	r.expectedChannel = msg.Channel
	r.buf = append([]byte(nil), msg.Payload[firstFragmentHeaderLen:]...)
	if len(r.buf) > maxSlotBytes {
		r.overflow()
	}
}

func (r *Reassembler) handleMiddle(msg *wire.Message) {
	if !r.inProgress || msg.Channel != r.expectedChannel {
		r.log("reassembler: middle fragment with no matching in-progress slot, discarding")
		r.resetSlot()
		return
	}
	r.buf = append(r.buf, msg.Payload...)
	if len(r.buf) > maxSlotBytes {
		r.overflow()
	}
}

func (r *Reassembler) handleLast(msg *wire.Message) {
	if !r.inProgress || msg.Channel != r.expectedChannel {
		r.log("reassembler: last fragment with no matching in-progress slot, discarding")
		r.resetSlot()
		return
	}
	r.buf = append(r.buf, msg.Payload...)
	if len(r.buf) > maxSlotBytes {
		r.overflow()
		return
	}
	nal := r.buf
	r.resetSlot()
	r.emit(nal)
}

func (r *Reassembler) overflow() {
	r.log("reassembler: slot overflow, dropping frame", "size", len(r.buf))
	r.resetSlot()
}

func (r *Reassembler) resetSlot() {
	r.inProgress = false
	r.buf = nil
}

// emit hands a fully reassembled NAL sequence to the decoder, caching
// SPS/PPS on first sight and re-injecting them ahead of the first frame
// once the decoder becomes ready.
func (r *Reassembler) emit(nal []byte) {
	r.cacheSPSPPS(nal)
	r.maybeInject()
	if r.sink != nil {
		r.sink.Offer(nal)
	}
}

func (r *Reassembler) cacheSPSPPS(nal []byte) {
	if len(nal) < 5 {
		return
	}
	nalType := nal[4] & 0x1F
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	switch nalType {
	case nalTypeSPS:
		if r.sps == nil {
			r.sps = append([]byte(nil), nal...)
		}
	case nalTypePPS:
		if r.pps == nil {
			r.pps = append([]byte(nil), nal...)
		}
	}
}

// maybeInject re-injects the cached SPS then PPS exactly once, only after
// the decoder queue first signals ready.
func (r *Reassembler) maybeInject() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.injected || r.sink == nil || !r.sink.Ready() {
		return
	}
	if r.sps == nil || r.pps == nil {
		return
	}
	r.sink.Offer(r.sps)
	r.sink.Offer(r.pps)
	r.injected = true
}

// Reset clears the reassembly slot and SPS/PPS cache. Called on
// disconnect, per spec.md §4.6.
func (r *Reassembler) Reset() {
	r.resetSlot()
	r.cacheMu.Lock()
	r.sps = nil
	r.pps = nil
	r.injected = false
	r.cacheMu.Unlock()
	if r.sink != nil {
		r.sink.Reset()
	}
}
