package channels

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

type fakeMicSource struct {
	startCalls int
	sampleRate int
	stopCalls  int
	startErr   error
}

func (f *fakeMicSource) Start(sampleRate int) error {
	f.startCalls++
	f.sampleRate = sampleRate
	return f.startErr
}
func (f *fakeMicSource) Stop() { f.stopCalls++ }

func TestMic_StartIsIdempotent(t *testing.T) {
	src := &fakeMicSource{}
	m := NewMic(src, 16000, func(wire.ChannelID, wire.MessageType, []byte) error { return nil })

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	require.Equal(t, 1, src.startCalls)
	require.Equal(t, 16000, src.sampleRate)
}

func TestMic_StartPropagatesSourceError(t *testing.T) {
	src := &fakeMicSource{startErr: errors.New("device busy")}
	m := NewMic(src, 16000, func(wire.ChannelID, wire.MessageType, []byte) error { return nil })
	require.Error(t, m.Start())
}

func TestMic_CaptureOnlySendsWhileStarted(t *testing.T) {
	src := &fakeMicSource{}
	var sent [][]byte
	m := NewMic(src, 16000, func(ch wire.ChannelID, typ wire.MessageType, body []byte) error {
		require.Equal(t, wire.ChannelMic, ch)
		sent = append(sent, body)
		return nil
	})

	require.NoError(t, m.Capture([]byte("dropped")))
	require.Empty(t, sent)

	require.NoError(t, m.Start())
	require.NoError(t, m.Capture([]byte("pcm")))
	require.Equal(t, [][]byte{[]byte("pcm")}, sent)

	m.Stop()
	require.Equal(t, 1, src.stopCalls)
	require.NoError(t, m.Capture([]byte("dropped-again")))
	require.Len(t, sent, 1)
}

func TestMic_NilSourceIsNoop(t *testing.T) {
	m := NewMic(nil, 16000, func(wire.ChannelID, wire.MessageType, []byte) error { return nil })
	require.NoError(t, m.Start())
	require.NotPanics(t, m.Stop)
}
