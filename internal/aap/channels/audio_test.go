package channels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

type fakeAudioSink struct {
	started    bool
	sampleRate int
	channels   int
	written    [][]byte
	stopCount  int
}

func (f *fakeAudioSink) Write(pcm []byte) { f.written = append(f.written, append([]byte(nil), pcm...)) }
func (f *fakeAudioSink) Start(sampleRate, channels int) {
	f.started = true
	f.sampleRate = sampleRate
	f.channels = channels
}
func (f *fakeAudioSink) Stop() { f.started = false; f.stopCount++ }

func TestAudio_NilSinkDiscardsSilently(t *testing.T) {
	a := NewAudio(nil)
	require.NotPanics(t, func() {
		a.Handle(&wire.Message{Type: wire.MsgMediaStart})
		a.Stop()
	})
}

func TestAudio_LazyStartsOnFirstData(t *testing.T) {
	sink := &fakeAudioSink{}
	a := NewAudio(sink)

	msg := &wire.Message{Type: wire.MessageType(0x7000), Payload: append([]byte{0x70, 0x00}, []byte("pcm-data")...)}
	a.Handle(msg)

	require.True(t, sink.started)
	require.Equal(t, 48000, sink.sampleRate)
	require.Equal(t, 2, sink.channels)
	require.Len(t, sink.written, 1)
	require.Equal(t, []byte("pcm-data"), sink.written[0])
}

func TestAudio_MediaStartStopLifecycle(t *testing.T) {
	sink := &fakeAudioSink{}
	a := NewAudio(sink)

	a.Handle(&wire.Message{Type: wire.MsgMediaStart})
	require.True(t, sink.started)

	a.Handle(&wire.Message{Type: wire.MsgMediaStop})
	require.False(t, sink.started)
	require.Equal(t, 1, sink.stopCount)

	// MediaStop while not started is a no-op, not a second Stop call.
	a.Handle(&wire.Message{Type: wire.MsgMediaStop})
	require.Equal(t, 1, sink.stopCount)
}

func TestAudio_StopIsIdempotent(t *testing.T) {
	sink := &fakeAudioSink{}
	a := NewAudio(sink)
	a.Handle(&wire.Message{Type: wire.MsgMediaStart})
	a.Stop()
	a.Stop()
	require.Equal(t, 1, sink.stopCount)
}
