package outbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

type identityEncryptor struct{}

func (identityEncryptor) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }

type failingEncryptor struct{ err error }

func (f failingEncryptor) Encrypt([]byte) ([]byte, error) { return nil, f.err }

type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), b...))
	return len(b), nil
}

func TestOutbox_SendBeforeReadyQueuesWithoutWriting(t *testing.T) {
	w := &recordingWriter{}
	o := New(identityEncryptor{}, w)

	require.NoError(t, o.Send(wire.ChannelControl, wire.MessageType(1), []byte("a")))
	require.NoError(t, o.Send(wire.ChannelControl, wire.MessageType(2), []byte("b")))
	require.Empty(t, w.writes)
}

func TestOutbox_MarkReadyFlushesInArrivalOrder(t *testing.T) {
	w := &recordingWriter{}
	o := New(identityEncryptor{}, w)

	require.NoError(t, o.Send(wire.ChannelControl, wire.MessageType(1), []byte("first")))
	require.NoError(t, o.Send(wire.ChannelControl, wire.MessageType(2), []byte("second")))
	require.NoError(t, o.MarkReady())

	require.Len(t, w.writes, 2)
	_, _, length, err := wire.DecodeHeader(w.writes[0])
	require.NoError(t, err)
	require.Equal(t, uint16(2+len("first")), length)
}

func TestOutbox_MarkReadyIsIdempotent(t *testing.T) {
	w := &recordingWriter{}
	o := New(identityEncryptor{}, w)
	require.NoError(t, o.Send(wire.ChannelControl, wire.MessageType(1), []byte("x")))
	require.NoError(t, o.MarkReady())
	require.NoError(t, o.MarkReady())
	require.Len(t, w.writes, 1)
}

func TestOutbox_SendAfterReadyWritesImmediately(t *testing.T) {
	w := &recordingWriter{}
	o := New(identityEncryptor{}, w)
	require.NoError(t, o.MarkReady())
	require.NoError(t, o.Send(wire.ChannelVideo, wire.MessageType(3), []byte("z")))
	require.Len(t, w.writes, 1)
}

func TestOutbox_SendPropagatesEncryptionError(t *testing.T) {
	w := &recordingWriter{}
	wantErr := errors.New("tls record too large")
	o := New(failingEncryptor{err: wantErr}, w)
	require.NoError(t, o.MarkReady())
	err := o.Send(wire.ChannelControl, wire.MessageType(1), []byte("x"))
	require.ErrorIs(t, err, wantErr)
	require.Empty(t, w.writes)
}
