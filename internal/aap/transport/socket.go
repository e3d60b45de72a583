package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/aap-headunit/internal/logger"

	protoerr "github.com/alxayo/aap-headunit/internal/errors"
)

// SocketConfig is the dial target for the TCP backend.
type SocketConfig struct {
	Host string
	Port int
}

// Socket is the TCP backend: plain net.Dial, then the common Transport
// contract. Mirrors internal/rtmp/conn.Connection's single-writer-mutex and
// ctx/cancel/wg lifecycle.
type Socket struct {
	cfg SocketConfig

	mu      sync.Mutex // serializes Write
	conn    net.Conn
	log     *slog.Logger

	readCancel context.CancelFunc
	readWg     sync.WaitGroup
}

// NewSocket creates a Socket backend for the given dial target.
func NewSocket(cfg SocketConfig) *Socket {
	return &Socket{cfg: cfg, log: logger.Logger()}
}

func (s *Socket) Open(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	d := net.Dialer{Timeout: defaultConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return protoerr.NewTransportUnavailable("socket.open", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Socket) Close() error {
	s.StopReading()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Socket) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	if conn == nil {
		return 0, protoerr.NewTransportPeerGone("socket.write", errNotOpen)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	n, err := conn.Write(b)
	if err != nil {
		return n, protoerr.NewTransportIo("socket.write", err)
	}
	return n, nil
}

func (s *Socket) Read(dst []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, protoerr.NewTransportPeerGone("socket.read", errNotOpen)
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(dst)
	if err != nil {
		if isPeerGone(err) {
			return n, protoerr.NewTransportPeerGone("socket.read", err)
		}
		return n, protoerr.NewTransportIo("socket.read", err)
	}
	return n, nil
}

func (s *Socket) StartReading(onRawBytes OnRawBytes, onError OnError) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		onError(protoerr.NewTransportPeerGone("socket.start_reading", errNotOpen))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.readCancel = cancel
	s.readWg.Add(1)
	go func() {
		defer s.readWg.Done()
		buf := make([]byte, 16*1024)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
			n, err := conn.Read(buf)
			if n > 0 {
				dup := make([]byte, n)
				copy(dup, buf[:n])
				onRawBytes(dup)
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if isPeerGone(err) {
					onError(protoerr.NewTransportPeerGone("socket.read_loop", err))
				} else if isTimeout(err) {
					continue
				} else {
					onError(protoerr.NewTransportIo("socket.read_loop", err))
				}
				return
			}
		}
	}()
}

func (s *Socket) StopReading() {
	if s.readCancel != nil {
		s.readCancel()
	}
	s.readWg.Wait()
}

var errNotOpen = notOpenError{}

type notOpenError struct{}

func (notOpenError) Error() string { return "transport: socket not open" }

func isPeerGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
