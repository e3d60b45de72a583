// Package transport abstracts the two physical endpoints an AAP session can
// run over: a USB accessory-mode file descriptor, or a plain TCP socket.
// Both backends satisfy the same Transport contract so the rest of the
// engine (Framer, Outbox) never branches on which one is in use. The shape
// mirrors internal/rtmp/conn.Connection's ctx/cancel/wg lifecycle and
// single-writer-mutex discipline, generalized to a pluggable backend.
package transport

import (
	"context"
	"time"
)

// OnRawBytes is invoked from the transport's I/O goroutine for every chunk
// of bytes read from the peer. Implementations (the parser) must not block
// for long inside this callback — spec.md §4.4 calls for a simple push into
// the RingBuffer.
type OnRawBytes func([]byte)

// OnError is invoked once, from the I/O goroutine, when the read loop
// terminates due to an error. After OnError fires, StartReading's goroutine
// has exited.
type OnError func(error)

// Transport is the common contract both backends implement.
type Transport interface {
	// Open establishes the endpoint. A TransportUnavailable error means the
	// caller should fail connect() without ever reaching a session.
	Open(ctx context.Context) error
	Close() error
	IsConnected() bool

	// Write sends b. Safe to call concurrently; the implementation serializes
	// writes internally. The socket backend bounds each Write by
	// defaultWriteTimeout; the USB backend's Write is a plain blocking write
	// with no timeout.
	Write(b []byte) (int, error)

	// Read is used only during the version/handshake phase, before
	// StartReading has been called.
	Read(dst []byte, timeout time.Duration) (int, error)

	// StartReading begins asynchronous delivery of raw bytes to onRawBytes
	// on a dedicated goroutine (or goroutines, for the USB backend's
	// concurrent transfers) until StopReading is called or an error occurs.
	StartReading(onRawBytes OnRawBytes, onError OnError)
	StopReading()
}

// defaultWriteTimeout bounds Write calls outside the handshake phase, per
// spec.md §5.
const defaultWriteTimeout = 1 * time.Second

// defaultConnectTimeout bounds the socket dial and is the per-read deadline
// the socket read loop re-arms (a read that times out is retried, not
// reported). Read takes its timeout from the caller instead.
const defaultConnectTimeout = 10 * time.Second
