// Package tlssession implements the client-side TLS 1.2 engine used to
// wrap/unwrap post-handshake AAP frame payloads. Android Auto's head unit
// never actually verifies the phone's chain (it presents its own pinned
// chain and accepts whatever the peer sends back), so the trust model here
// is deliberately "accept-all": verification is disabled and replaced with
// a no-op VerifyPeerCertificate, matching rustyguts-bken's self-signed
// certificate generation pattern adapted to client rather than server mode.
//
// crypto/tls does not expose a "hand me the next handshake flight bytes"
// primitive directly; it only drives a net.Conn. TlsSession bridges that gap
// with an in-memory pipeConn so the handshake can be driven by
// Dispatcher-owned bytes rather than a real socket, while the underlying
// cryptography stays entirely inside the standard library.
package tlssession

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"time"

	protoerr "github.com/alxayo/aap-headunit/internal/errors"
)

// Config carries the pinned certificate chain/key and the cipher-suite
// allow-list from spec.md §4.3.
type Config struct {
	CertificateChain [][]byte // DER-encoded chain, leaf first
	PrivateKey       any      // crypto.Signer implementation matching the leaf

	// CipherSuites overrides the default allow-list when non-empty.
	CipherSuites []uint16
}

// defaultCipherSuites is the ECDHE/RSA + AES-GCM/CBC-SHA256/384 allow-list
// from spec.md §4.3, in the order the observed peer implementation uses.
var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
}

// minAppBuffer is the minimum wrap/unwrap buffer size from spec.md §4.3.
const minAppBuffer = 131072

// Session is a single client-mode TLS 1.2 engine instance, scoped to one
// AAP session. Not safe for concurrent use except through the exported
// methods, each of which locks internally — matching spec.md §5's "all
// wrap/unwrap operations are serialized by an internal mutex" requirement.
type Session struct {
	mu sync.Mutex

	conn     *tls.Conn
	pipe     *pipeConn
	complete bool
	handErr  error
	doneCh   chan struct{}
}

// Prepare constructs the TLS engine and starts the handshake goroutine. It
// does not block for the handshake to finish; callers drive it forward with
// HandshakeRead/HandshakeWrite.
func Prepare(cfg Config) (*Session, error) {
	tlsCert := tls.Certificate{Certificate: cfg.CertificateChain, PrivateKey: cfg.PrivateKey}
	if len(cfg.CertificateChain) > 0 {
		leaf, err := x509.ParseCertificate(cfg.CertificateChain[0])
		if err != nil {
			return nil, protoerr.NewTlsHandshakeFailed("tlssession.prepare", err)
		}
		tlsCert.Leaf = leaf
	}

	suites := cfg.CipherSuites
	if len(suites) == 0 {
		suites = defaultCipherSuites
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		Certificates:       []tls.Certificate{tlsCert},
		CipherSuites:       suites,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			return nil // accept-all trust manager
		},
	}

	pipe := newPipeConn()
	conn := tls.Client(pipe, tlsCfg)

	s := &Session{
		conn:   conn,
		pipe:   pipe,
		doneCh: make(chan struct{}),
	}

	go func() {
		err := conn.Handshake()
		s.mu.Lock()
		s.handErr = err
		s.complete = err == nil
		s.mu.Unlock()
		close(s.doneCh)
	}()

	return s, nil
}

// HandshakeRead returns the next bytes the engine wants sent to the peer.
// An empty (nil) result paired with IsHandshakeComplete()==true means the
// handshake is done; an empty result while not yet complete means the
// engine is waiting on more input from HandshakeWrite.
func (s *Session) HandshakeRead() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handErr != nil {
		return nil, protoerr.NewTlsHandshakeFailed("tlssession.handshake_read", s.handErr)
	}
	return s.pipe.drainOutbound(), nil
}

// HandshakeWrite feeds bytes received from the peer into the engine.
func (s *Session) HandshakeWrite(b []byte) error {
	s.pipe.feedInbound(b)
	s.mu.Lock()
	err := s.handErr
	s.mu.Unlock()
	if err != nil {
		return protoerr.NewTlsHandshakeFailed("tlssession.handshake_write", err)
	}
	return nil
}

// IsHandshakeComplete reports whether the TLS handshake has finished
// successfully.
func (s *Session) IsHandshakeComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Encrypt wraps plaintext into one or more TLS records, returning the
// wire-ready ciphertext. The caller back-fills the 4-byte frame header
// around the result.
func (s *Session) Encrypt(buf []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.complete {
		return nil, protoerr.NewTlsRecordError("tlssession.encrypt", errNotReady)
	}
	if _, err := s.conn.Write(buf); err != nil {
		return nil, protoerr.NewTlsRecordError("tlssession.encrypt", err)
	}
	return s.pipe.drainOutbound(), nil
}

// Decrypt unwraps a received TLS record, returning any plaintext it
// produced. It may return zero bytes if the record only advanced internal
// TLS state (e.g. a session ticket) without yielding application data.
func (s *Session) Decrypt(record []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.complete {
		return nil, protoerr.NewTlsRecordError("tlssession.decrypt", errNotReady)
	}
	s.pipe.feedInbound(record)
	out := make([]byte, 0, len(record))
	buf := make([]byte, 4096)
	s.pipe.setReadNonBlocking(true)
	defer s.pipe.setReadNonBlocking(false)
	// A single wire record yields at most a handful of TLS application-data
	// reads; cap iterations so a record that never completes (truncated,
	// corrupt) can't spin this call forever. pipeConn.Read returns a timeout
	// net.Error once the fed record is exhausted, which crypto/tls surfaces
	// here rather than retrying internally (it does retry forever on a
	// (0, nil) read, per io.Reader's "don't return that" contract).
	for i := 0; i < 16; i++ {
		n, err := s.conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return out, protoerr.NewTlsRecordError("tlssession.decrypt", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// Close tears down the engine and its internal pipe.
func (s *Session) Close() error {
	s.pipe.close()
	return s.conn.Close()
}

var errNotReady = notReadyError{}

type notReadyError struct{}

func (notReadyError) Error() string { return "tlssession: handshake not complete" }

// pipeConn is a minimal in-memory net.Conn substitute: Write buffers bytes
// for HandshakeRead/Encrypt to drain; Read blocks (or returns a timeout
// net.Error in non-blocking mode) waiting for HandshakeWrite/Decrypt to feed
// bytes in. crypto/tls only needs Read/Write/Close/deadline no-ops.
type pipeConn struct {
	mu          sync.Mutex
	cond        *sync.Cond
	inbound     bytes.Buffer
	outbound    bytes.Buffer
	closed      bool
	nonBlocking bool
}

func newPipeConn() *pipeConn {
	p := &pipeConn{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inbound.Len() == 0 && !p.closed {
		if p.nonBlocking {
			// (0, nil) is explicitly discouraged by io.Reader's contract and
			// is fatal here in practice: crypto/tls's handshake/record
			// reader loops (io.ReadAtLeast-style) treat it as "keep trying"
			// and spin forever inside this single call instead of returning
			// to Decrypt's bounded retry loop. A timeout net.Error is the
			// one error class crypto/tls passes back up without poisoning
			// the connection's permanent error state.
			return 0, errPipeWouldBlock
		}
		p.cond.Wait()
	}
	if p.inbound.Len() == 0 {
		return 0, errPipeClosed
	}
	return p.inbound.Read(b)
}

func (p *pipeConn) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPipeClosed
	}
	n, _ := p.outbound.Write(b)
	return n, nil
}

func (p *pipeConn) feedInbound(b []byte) {
	p.mu.Lock()
	p.inbound.Write(b)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *pipeConn) drainOutbound() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbound.Len() == 0 {
		return nil
	}
	out := make([]byte, p.outbound.Len())
	p.outbound.Read(out)
	return out
}

func (p *pipeConn) setReadNonBlocking(v bool) {
	p.mu.Lock()
	p.nonBlocking = v
	p.mu.Unlock()
}

func (p *pipeConn) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Close, LocalAddr, RemoteAddr, and the deadline setters satisfy net.Conn;
// tls.Conn never relies on real deadlines here since HandshakeRead/
// HandshakeWrite/Decrypt drive the pipe explicitly.
func (p *pipeConn) Close() error                       { p.close(); return nil }
func (p *pipeConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *pipeConn) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *pipeConn) SetDeadline(time.Time) error        { return nil }
func (p *pipeConn) SetReadDeadline(time.Time) error    { return nil }
func (p *pipeConn) SetWriteDeadline(time.Time) error   { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "aap-tls-pipe" }
func (pipeAddr) String() string  { return "aap-tls-pipe" }

var errPipeClosed = pipeClosedError{}

type pipeClosedError struct{}

func (pipeClosedError) Error() string { return "tlssession: pipe closed" }

var errPipeWouldBlock = pipeWouldBlockError{}

// pipeWouldBlockError satisfies net.Error with Timeout()==true, the one
// error class crypto/tls treats as "try again later" rather than a fatal,
// connection-poisoning read failure.
type pipeWouldBlockError struct{}

func (pipeWouldBlockError) Error() string   { return "tlssession: pipe read would block" }
func (pipeWouldBlockError) Timeout() bool   { return true }
func (pipeWouldBlockError) Temporary() bool { return true }
