package channels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/reassemble"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

type fakeDecoderSink struct {
	offered [][]byte
	ready   bool
	reset   int
}

func (f *fakeDecoderSink) Offer(nal []byte) { f.offered = append(f.offered, append([]byte(nil), nal...)) }
func (f *fakeDecoderSink) Reset()           { f.reset++ }
func (f *fakeDecoderSink) Ready() bool      { return f.ready }

func TestVideo_HandleForwardsToReassembler(t *testing.T) {
	sink := &fakeDecoderSink{}
	v := NewVideo(reassemble.New(sink))

	payload := append(make([]byte, 10), []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xAA}...)
	v.Handle(&wire.Message{Channel: wire.ChannelVideo, Flags: wire.FlagsEncryptedComplete, Payload: payload})

	require.Len(t, sink.offered, 1)
}

func TestVideo_ResetClearsReassemblerAndSink(t *testing.T) {
	sink := &fakeDecoderSink{}
	v := NewVideo(reassemble.New(sink))
	v.Reset()
	require.Equal(t, 1, sink.reset)
}
