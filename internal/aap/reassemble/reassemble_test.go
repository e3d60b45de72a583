package reassemble

import (
	"bytes"
	"testing"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

type fakeSink struct {
	offered [][]byte
	ready   bool
	resets  int
}

func (f *fakeSink) Offer(b []byte) { f.offered = append(f.offered, append([]byte(nil), b...)) }
func (f *fakeSink) Reset()         { f.resets++ }
func (f *fakeSink) Ready() bool    { return f.ready }

func nal(nalType byte, body string) []byte {
	out := append([]byte{0, 0, 0, 1, nalType}, []byte(body)...)
	return out
}

// TestReassembler_FragmentSequenceExactness exercises invariant 4 from
// spec.md §8: a 9, 8*, 10 sequence on one channel reassembles to the
// concatenation of the payloads, minus the first fragment's 10-byte
// leading header.
func TestReassembler_FragmentSequenceExactness(t *testing.T) {
	sink := &fakeSink{ready: true}
	r := New(sink)

	header := make([]byte, 10)
	first := append(header, nal(1, "AAA")...)
	middle := []byte("BBB")
	last := []byte("CCC")

	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedFirst, Payload: first})
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedMiddle, Payload: middle})
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedLast, Payload: last})

	if len(sink.offered) != 1 {
		t.Fatalf("sink.offered = %d frames, want 1", len(sink.offered))
	}
	want := append(append(nal(1, "AAA"), middle...), last...)
	if !bytes.Equal(sink.offered[0], want) {
		t.Fatalf("reassembled = %x, want %x", sink.offered[0], want)
	}
}

func TestReassembler_MiddleWithoutFirstIsDiscarded(t *testing.T) {
	sink := &fakeSink{ready: true}
	r := New(sink)
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedMiddle, Payload: []byte("orphan")})
	if len(sink.offered) != 0 {
		t.Fatalf("expected no frames offered, got %d", len(sink.offered))
	}
}

func TestReassembler_SecondFirstFragmentDiscardsFirst(t *testing.T) {
	sink := &fakeSink{ready: true}
	r := New(sink)
	header := make([]byte, 10)
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedFirst, Payload: append(header, []byte("one")...)})
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedFirst, Payload: append(header, []byte("two")...)})
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedLast, Payload: []byte("!")})

	if len(sink.offered) != 1 || !bytes.Equal(sink.offered[0], []byte("two!")) {
		t.Fatalf("offered = %v, want [two!]", sink.offered)
	}
}

// TestReassembler_SPSPPSInjectedOnceInOrder exercises invariant 5 from
// spec.md §8.
func TestReassembler_SPSPPSInjectedOnceInOrder(t *testing.T) {
	sink := &fakeSink{ready: false}
	r := New(sink)

	spsFrame := nal(nalTypeSPS, "sps-data")
	ppsFrame := nal(nalTypePPS, "pps-data")
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedComplete, Type: 1,
		Payload: append(make([]byte, 2), spsFrame...)})
	if len(sink.offered) != 1 {
		t.Fatalf("expected SPS cached but not yet injected (decoder not ready), got %d offers", len(sink.offered))
	}

	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedComplete, Type: 1,
		Payload: append(make([]byte, 2), ppsFrame...)})
	if len(sink.offered) != 2 {
		t.Fatalf("expected PPS cached but not yet injected, got %d offers", len(sink.offered))
	}

	sink.ready = true
	frame := nal(5, "idr-slice")
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedComplete, Type: 1,
		Payload: append(make([]byte, 2), frame...)})

	if len(sink.offered) != 5 {
		t.Fatalf("expected sps+pps+sps+pps+frame = 5 offers total, got %d", len(sink.offered))
	}
	if !bytes.Equal(sink.offered[2], spsFrame) || !bytes.Equal(sink.offered[3], ppsFrame) {
		t.Fatalf("SPS/PPS not injected in order ahead of the frame: %v", sink.offered[2:4])
	}
	if !bytes.Equal(sink.offered[4], frame) {
		t.Fatalf("frame not offered after injection")
	}

	// A second ready frame must not re-inject.
	r.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedComplete, Type: 1,
		Payload: append(make([]byte, 2), nal(5, "second-slice")...)})
	if len(sink.offered) != 6 {
		t.Fatalf("expected exactly one more offer (no re-injection), got %d total", len(sink.offered))
	}
}
