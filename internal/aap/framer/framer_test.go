package framer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alxayo/aap-headunit/internal/aap/ringbuf"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

func TestFramer_DecodesOneFrame(t *testing.T) {
	r := ringbuf.New(64)
	f := New()

	frame := &wire.Frame{Channel: wire.ChannelControl, Flags: wire.FlagsControlComplete, Payload: []byte("hello")}
	encoded, err := frame.Encode()
	require.NoError(t, err)
	r.Write(encoded)

	var got []*wire.Frame
	err = f.Drain(r, func(fr *wire.Frame) error {
		got = append(got, fr)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, wire.ChannelControl, got[0].Channel)
	require.Equal(t, wire.FlagsControlComplete, got[0].Flags)
	require.Equal(t, []byte("hello"), got[0].Payload)
}

// TestFramer_SplitAcrossDrainCalls exercises the header-then-payload resume
// state machine: Drain must return nil (not an error) when fewer bytes than
// a full header or a full payload are currently available, and must pick up
// exactly where it left off once more bytes arrive.
func TestFramer_SplitAcrossDrainCalls(t *testing.T) {
	r := ringbuf.New(64)
	f := New()

	frame := &wire.Frame{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedComplete, Payload: []byte("0123456789")}
	encoded, err := frame.Encode()
	require.NoError(t, err)

	// Feed the header one byte short, then the rest of the header plus a
	// partial payload, then the remaining payload.
	r.Write(encoded[:wire.HeaderSize-1])
	var got []*wire.Frame
	require.NoError(t, f.Drain(r, func(fr *wire.Frame) error { got = append(got, fr); return nil }))
	require.Empty(t, got)

	r.Write(encoded[wire.HeaderSize-1 : wire.HeaderSize+4])
	require.NoError(t, f.Drain(r, func(fr *wire.Frame) error { got = append(got, fr); return nil }))
	require.Empty(t, got)

	r.Write(encoded[wire.HeaderSize+4:])
	require.NoError(t, f.Drain(r, func(fr *wire.Frame) error { got = append(got, fr); return nil }))
	require.Len(t, got, 1)
	require.Equal(t, []byte("0123456789"), got[0].Payload)
}

// TestFramer_ResyncSkipsGarbageByte exercises spec.md §4.2's one-byte
// resync rule: leading garbage bytes are discarded one at a time and the
// following valid frame is still decoded.
func TestFramer_ResyncSkipsGarbageByte(t *testing.T) {
	r := ringbuf.New(64)
	f := New()

	frame := &wire.Frame{Channel: wire.ChannelControl, Flags: wire.FlagsControlComplete, Payload: []byte("ok")}
	encoded, err := frame.Encode()
	require.NoError(t, err)

	// A bogus channel byte (0xFF) fails DecodeHeader's channel check — prepend
	// four garbage bytes ahead of a valid frame and confirm they're skipped.
	garbage := append([]byte{0xFF, 0xFF, 0xFF, 0xFF}, encoded...)
	r.Write(garbage)

	var got []*wire.Frame
	err = f.Drain(r, func(fr *wire.Frame) error { got = append(got, fr); return nil })
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("ok"), got[0].Payload)
}

func TestFramer_PostHandshakeRejectsUnencryptedFrame(t *testing.T) {
	r := ringbuf.New(64)
	f := New()
	f.SetPostHandshake(true)

	unencrypted := &wire.Frame{Channel: wire.ChannelControl, Flags: wire.FlagsHandshakeUnencypted, Payload: []byte("x")}
	encoded, err := unencrypted.Encode()
	require.NoError(t, err)

	valid := &wire.Frame{Channel: wire.ChannelControl, Flags: wire.FlagsEncryptedComplete, Payload: []byte("y")}
	encodedValid, err := valid.Encode()
	require.NoError(t, err)

	// The unencrypted frame's header is shifted byte-by-byte until resync
	// happens to land on the valid frame that follows.
	r.Write(append(encoded, encodedValid...))

	var got []*wire.Frame
	err = f.Drain(r, func(fr *wire.Frame) error { got = append(got, fr); return nil })
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("y"), got[0].Payload)
}

func TestFramer_ResyncBudgetExhaustedFails(t *testing.T) {
	r := ringbuf.New(512)
	f := New()
	r.Write(make([]byte, 400)) // all zero bytes decode as channel 0, flags 0, length 0 — a degenerate but "valid" header, so use postHandshake to force resync instead
	f.SetPostHandshake(true)

	err := f.Drain(r, func(fr *wire.Frame) error { return nil })
	require.Error(t, err)
}

// TestFramer_RoundTripProperty exercises the general decode invariant: any
// sequence of well-formed frames written back-to-back into the ring,
// regardless of how Drain is called across the byte stream, decodes to
// exactly the same sequence of (channel, flags, payload) tuples.
func TestFramer_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		var allBytes []byte
		var want []*wire.Frame
		for i := 0; i < n; i++ {
			ch := wire.ChannelID(rapid.IntRange(0, 12).Draw(rt, "channel"))
			payload := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(rt, "payload")
			fr := &wire.Frame{Channel: ch, Flags: wire.FlagsEncryptedComplete, Payload: payload}
			encoded, err := fr.Encode()
			require.NoError(rt, err)
			allBytes = append(allBytes, encoded...)
			want = append(want, fr)
		}

		split := rapid.IntRange(0, len(allBytes)).Draw(rt, "split")
		r := ringbuf.New(1 << 20)
		f := New()

		var got []*wire.Frame
		collect := func(fr *wire.Frame) error {
			got = append(got, &wire.Frame{Channel: fr.Channel, Flags: fr.Flags, Payload: append([]byte(nil), fr.Payload...)})
			return nil
		}
		r.Write(allBytes[:split])
		require.NoError(rt, f.Drain(r, collect))
		r.Write(allBytes[split:])
		require.NoError(rt, f.Drain(r, collect))

		require.Len(rt, got, len(want))
		for i := range want {
			require.Equal(rt, want[i].Channel, got[i].Channel)
			require.Equal(rt, want[i].Flags, got[i].Flags)
			require.Equal(rt, want[i].Payload, got[i].Payload)
		}
	})
}
