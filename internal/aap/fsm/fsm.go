// Package fsm implements the AAP session's monotonic protocol state
// machine: version exchange, TLS handshake bootstrap, service discovery, and
// the streaming-phase message routing table. The state enum and the
// one-way, single-entry, checked-per-transition shape are grounded on
// internal/rtmp/handshake.Handshake/State — generalized from that type's
// five linear states to spec.md §4.7's nine states, one of which
// (TlsHandshaking) carries a round counter.
package fsm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
	protoerr "github.com/alxayo/aap-headunit/internal/errors"
	"github.com/alxayo/aap-headunit/internal/logger"
)

// SessionState enumerates the protocol's lifecycle, traversed monotonically:
// no state is ever re-entered once left.
type SessionState int

const (
	StateOpened SessionState = iota
	StateVersionRequested
	StateVersionNegotiated
	StateTlsHandshaking
	StateStatusSent
	StateDiscovering
	StateStreaming
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateOpened:
		return "Opened"
	case StateVersionRequested:
		return "VersionRequested"
	case StateVersionNegotiated:
		return "VersionNegotiated"
	case StateTlsHandshaking:
		return "TlsHandshaking"
	case StateStatusSent:
		return "StatusSent"
	case StateDiscovering:
		return "Discovering"
	case StateStreaming:
		return "Streaming"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// maxVersionAttempts and versionRetryBackoff implement the Opened →
// VersionRequested retry policy from spec.md §4.7.
const (
	maxVersionAttempts  = 3
	versionRetryBackoff = 500 * time.Millisecond
)

// maxTlsRounds bounds TlsHandshaking(n); reaching it without completion
// fails the session per spec.md §4.7.
const maxTlsRounds = 10

// versionRequestPayload is the literal unencrypted version-request frame
// payload spec.md §4.7 specifies byte-for-byte.
var versionRequestPayload = []byte{0x01, 0x00, 0x00, 0x07}

// statusOKBody is the body spec.md §4.7 specifies for the "status OK"
// message that follows TLS completion, carried under MsgAuthComplete.
var statusOKBody = []byte{0x08, 0x00}

// FrameWriter writes one already-framed unit to the transport. The FSM uses
// it directly for the handshake bootstrap frames (version request, TLS
// handshake bytes, status OK) that precede any application-level send —
// those never pass through the Outbox's pending-list/encryption logic
// because they establish the session the Outbox depends on.
type FrameWriter interface {
	WriteFrame(ch wire.ChannelID, flags wire.Flags, payload []byte) error
}

// TlsEngine is the subset of tlssession.Session the FSM drives.
type TlsEngine interface {
	HandshakeRead() ([]byte, error)
	HandshakeWrite([]byte) error
	IsHandshakeComplete() bool
	Encrypt([]byte) ([]byte, error)
	Decrypt([]byte) ([]byte, error)
}

// TlsFactory constructs a fresh TlsEngine; invoked once per session at
// VersionNegotiated→TlsHandshaking(0), mirroring spec.md §4.7's
// "Call TlsSession.prepare()".
type TlsFactory func() (TlsEngine, error)

// Clock abstracts wall-clock access for the retry back-off and
// stabilisation delay, so tests can run them instantly.
type Clock interface {
	Now() time.Time
}

// ServiceCatalog answers service-discovery requests and tells the FSM which
// channels must be configured (via ChannelOpenRequest) before the session
// may enter Streaming. Implemented by the discovery package.
type ServiceCatalog interface {
	DiscoveryResponsePayload() []byte
	ExpectedServices() map[wire.ChannelID]bool
}

// StreamHandlers routes decrypted Streaming-phase messages to the owning
// channel logic. Each field is optional; a nil handler means the message
// is dropped without logging (audio, video and playback messages still get
// their MediaAck).
type StreamHandlers struct {
	Audio    func(msg *wire.Message)
	Video    func(msg *wire.Message)
	Playback func(msg *wire.Message)
	Control  func(msg *wire.Message) error
}

// Config bundles everything a Session needs beyond the live connection
// bytes it's fed via NegotiateVersion, FeedTlsHandshake and the Handle*
// methods.
type Config struct {
	Writer             FrameWriter
	TlsFactory         TlsFactory
	Catalog            ServiceCatalog
	Handlers           StreamHandlers
	Clock              Clock
	StabilisationDelay time.Duration
	Log                *slog.Logger
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CloseReason classifies why a session entered Closing, surfaced to the
// events package.
type CloseReason int

const (
	CloseUnspecified CloseReason = iota
	CloseByeBye
	CloseTlsFailed
	CloseTransportError
	CloseProtocolError
)

// Session is the per-connection FSM instance. Exclusive to the dispatcher
// thread that owns it per spec.md §3 — no internal locking beyond the
// mutex guarding State()/CloseReason() so other threads (events, metrics)
// can read them safely.
type Session struct {
	cfg Config

	mu          sync.Mutex
	state       SessionState
	closeReason CloseReason

	versionAttempts int
	lastAttemptAt   time.Time
	peerMajor       uint16
	peerMinor       uint16

	tlsRound int
	tls      TlsEngine

	tlsCompletedAt time.Time
	sessionID      string

	expectedServices   map[wire.ChannelID]bool
	configuredServices map[wire.ChannelID]bool
}

// New creates a Session in Opened state. Call Open to begin the version
// exchange.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Logger()
	}
	if cfg.StabilisationDelay == 0 {
		cfg.StabilisationDelay = 200 * time.Millisecond
	}
	return &Session{
		cfg:                cfg,
		state:              StateOpened,
		configuredServices: make(map[wire.ChannelID]bool),
	}
}

// State returns the current state. Safe for concurrent use.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseReason returns why the session closed (StateClosed/StateClosing
// only; zero value otherwise).
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// transitionErr reports an attempt to act on a session outside the state
// that action requires — the FSM equivalent of handshake.go's
// "h.state != StateX" guards.
func (s *Session) transitionErr(op string, want SessionState) error {
	return protoerr.NewProtocolError(op, errUnexpectedState{have: s.State(), want: want})
}

type errUnexpectedState struct {
	have, want SessionState
}

func (e errUnexpectedState) Error() string {
	return "fsm: expected state " + e.want.String() + ", have " + e.have.String()
}

// Open begins the session: Opened → VersionRequested, writing the first
// version-request attempt.
func (s *Session) Open() error {
	if s.State() != StateOpened {
		return s.transitionErr("fsm.open", StateOpened)
	}
	s.setState(StateVersionRequested)
	return s.sendVersionRequest()
}

func (s *Session) sendVersionRequest() error {
	s.versionAttempts++
	s.lastAttemptAt = s.cfg.Clock.Now()
	return s.cfg.Writer.WriteFrame(wire.ChannelControl, wire.FlagsHandshakeUnencypted, versionRequestPayload)
}

// RetryVersionRequest re-sends the version request if the back-off window
// has elapsed and the attempt budget remains. Callers (the engine's timer
// loop) poll this; it is a no-op otherwise. Returns an error once the
// attempt budget is exhausted, which the caller should treat as a
// Closing-worthy protocol failure.
func (s *Session) RetryVersionRequest() error {
	if s.State() != StateVersionRequested {
		return nil
	}
	if s.cfg.Clock.Now().Sub(s.lastAttemptAt) < versionRetryBackoff {
		return nil
	}
	if s.versionAttempts >= maxVersionAttempts {
		return protoerr.NewProtocolError("fsm.retry_version", errVersionExhausted{})
	}
	return s.sendVersionRequest()
}

type errVersionExhausted struct{}

func (errVersionExhausted) Error() string { return "fsm: version request attempts exhausted" }

// NegotiateVersion handles VersionRequested's "bytes received, length>=10"
// transition. frame is the decoded reply frame; frameHeader is the 4 raw
// header bytes the Framer consumed for it, needed because spec.md §4.7
// computes the major/minor offsets against the full wire buffer (header +
// payload), not the payload alone — see scenario A: a frame with header
// `00 03 00 08` and payload `01 00 00 07 01 01 00 00` yields major=1 from
// byte 8 and minor=1 from byte 9 of that concatenation.
func (s *Session) NegotiateVersion(frameHeader [wire.HeaderSize]byte, payload []byte) error {
	if s.State() != StateVersionRequested {
		return s.transitionErr("fsm.negotiate_version", StateVersionRequested)
	}
	full := make([]byte, 0, wire.HeaderSize+len(payload))
	full = append(full, frameHeader[:]...)
	full = append(full, payload...)
	if len(full) < 10 {
		return nil // not enough bytes yet; caller re-invokes once more arrive
	}
	s.peerMajor = uint16(full[8])
	s.peerMinor = uint16(full[9])
	s.setState(StateVersionNegotiated)
	return s.enterTlsHandshaking()
}

// PeerVersion returns the negotiated major/minor, valid from
// VersionNegotiated onward.
func (s *Session) PeerVersion() (major, minor uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMajor, s.peerMinor
}

func (s *Session) enterTlsHandshaking() error {
	if s.State() != StateVersionNegotiated {
		return s.transitionErr("fsm.enter_tls", StateVersionNegotiated)
	}
	tls, err := s.cfg.TlsFactory()
	if err != nil {
		return s.failTls(err)
	}
	s.tls = tls
	s.tlsRound = 0
	s.setState(StateTlsHandshaking)
	return s.pumpTlsHandshake()
}

// FeedTlsHandshake delivers handshake bytes received from the peer (a
// channel-0 type-3 frame's payload) into the TLS engine and advances the
// round.
func (s *Session) FeedTlsHandshake(payload []byte) error {
	if s.State() != StateTlsHandshaking {
		return s.transitionErr("fsm.feed_tls", StateTlsHandshaking)
	}
	if err := s.tls.HandshakeWrite(payload); err != nil {
		return s.failTls(err)
	}
	return s.pumpTlsHandshake()
}

// pumpTlsHandshake implements the TlsHandshaking(n) row: a non-empty
// handshake_read keeps the round going (n → n+1, write the handshake
// frame); an empty read means the handshake finished, so the FSM writes
// "status OK" and advances to StatusSent; n >= maxTlsRounds without
// completion fails the session.
func (s *Session) pumpTlsHandshake() error {
	if s.tlsRound >= maxTlsRounds {
		return s.failTls(errTlsRoundsExhausted{})
	}
	b, err := s.tls.HandshakeRead()
	if err != nil {
		return s.failTls(err)
	}
	if len(b) == 0 {
		if !s.tls.IsHandshakeComplete() {
			return nil // waiting on more peer bytes before next round
		}
		return s.enterStatusSent()
	}
	s.tlsRound++
	return s.cfg.Writer.WriteFrame(wire.ChannelControl, wire.FlagsHandshakeUnencypted,
		wire.EncodeMessage(wire.MsgSSLHandshake, b))
}

func (s *Session) enterStatusSent() error {
	s.tlsCompletedAt = s.cfg.Clock.Now()
	s.setState(StateStatusSent)
	return s.cfg.Writer.WriteFrame(wire.ChannelControl, wire.FlagsHandshakeUnencypted,
		wire.EncodeMessage(wire.MsgAuthComplete, statusOKBody))
}

func (s *Session) failTls(cause error) error {
	s.closeReason = CloseTlsFailed
	s.setState(StateClosing)
	return protoerr.NewTlsHandshakeFailed("fsm.tls_handshake", cause)
}

type errTlsRoundsExhausted struct{}

func (errTlsRoundsExhausted) Error() string { return "fsm: tls handshake round budget exhausted" }

// StabilisationElapsed reports whether the configured delay has passed
// since TLS completed, per spec.md §5's requirement that the first control
// message wait for the remote to settle.
func (s *Session) StabilisationElapsed() bool {
	return s.cfg.Clock.Now().Sub(s.tlsCompletedAt) >= s.cfg.StabilisationDelay
}

// HandleServiceDiscoveryRequest implements StatusSent's
// ServiceDiscoveryRequest row: reply with the catalog's response and move
// to Discovering.
func (s *Session) HandleServiceDiscoveryRequest() error {
	if s.State() != StateStatusSent {
		return s.transitionErr("fsm.service_discovery", StateStatusSent)
	}
	s.mu.Lock()
	s.expectedServices = s.cfg.Catalog.ExpectedServices()
	s.mu.Unlock()
	s.setState(StateDiscovering)
	return s.sendEncrypted(wire.ChannelControl, wire.MsgServiceDiscoveryResponse, s.cfg.Catalog.DiscoveryResponsePayload())
}

// HandleChannelOpenRequest implements Discovering's ChannelOpenRequest row:
// reply OK, record the opened channel, store the session id, and move to
// Streaming once every expected service has been configured.
func (s *Session) HandleChannelOpenRequest(ch wire.ChannelID, sessionID string) error {
	if s.State() != StateDiscovering {
		return s.transitionErr("fsm.channel_open", StateDiscovering)
	}
	s.mu.Lock()
	if sessionID != "" {
		s.sessionID = sessionID
	}
	s.configuredServices[ch] = true
	allConfigured := true
	for want := range s.expectedServices {
		if !s.configuredServices[want] {
			allConfigured = false
			break
		}
	}
	s.mu.Unlock()

	if err := s.sendEncrypted(ch, wire.MsgChannelOpenResponse, []byte{0x00}); err != nil { // 0x00 == OK
		return err
	}
	if allConfigured {
		s.setState(StateStreaming)
	}
	return nil
}

// SessionID returns the session id recorded from ChannelOpenRequest, once
// Discovering or later.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Decrypt unwraps one incoming TLS application-data record using this
// session's TLS engine. Exposed so the engine's parser can decrypt
// StatusSent-and-later frames before parsing them into wire.Messages —
// the TLS engine itself stays a private field, matching spec.md §5's
// "TlsSession: only accessed from Parser ... and from the writer mutex
// holder" rule.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	tls := s.tls
	s.mu.Unlock()
	if tls == nil {
		return nil, protoerr.NewTlsRecordError("fsm.decrypt", errTlsNotEstablished{})
	}
	plain, err := tls.Decrypt(ciphertext)
	if err != nil {
		return nil, protoerr.NewTlsRecordError("fsm.decrypt", err)
	}
	return plain, nil
}

type errTlsNotEstablished struct{}

func (errTlsNotEstablished) Error() string { return "fsm: tls engine not yet established" }

// sendEncrypted frames and writes a control-channel message using the
// completed TLS session. Used for the FSM's own protocol replies (service
// discovery, channel open) that must go out ahead of any Outbox-queued
// application traffic — §4.8's pending list is for messages enqueued by
// channel handlers, not these bootstrap replies.
func (s *Session) sendEncrypted(ch wire.ChannelID, t wire.MessageType, body []byte) error {
	plain := wire.EncodeMessage(t, body)
	cipher, err := s.tls.Encrypt(plain)
	if err != nil {
		return protoerr.NewTlsRecordError("fsm.send_encrypted", err)
	}
	return s.cfg.Writer.WriteFrame(ch, wire.FlagsEncryptedComplete, cipher)
}

// HandleStreamingMessage routes one decrypted Streaming-phase message per
// spec.md §4.7's classification table: audio/video data get a MediaAck plus
// their sink; music-playback flag combinations go to the playback handler;
// control types go to the control handler; anything else is logged and the
// session is left open.
func (s *Session) HandleStreamingMessage(msg *wire.Message) error {
	if s.State() != StateStreaming {
		return s.transitionErr("fsm.streaming_message", StateStreaming)
	}

	switch {
	case msg.Channel == wire.ChannelAudioSpeech || msg.Channel == wire.ChannelAudioSystem || msg.Channel == wire.ChannelAudioMedia:
		if err := s.sendMediaAck(msg.Channel); err != nil {
			return err
		}
		if s.cfg.Handlers.Audio != nil {
			s.cfg.Handlers.Audio(msg)
		}
		return nil

	case msg.Channel == wire.ChannelVideo:
		if err := s.sendMediaAck(msg.Channel); err != nil {
			return err
		}
		if s.cfg.Handlers.Video != nil {
			s.cfg.Handlers.Video(msg)
		}
		return nil

	case msg.Channel == wire.ChannelMusicPlayback && isMusicPlaybackFlags(msg.Flags):
		if err := s.sendMediaAck(msg.Channel); err != nil {
			return err
		}
		if s.cfg.Handlers.Playback != nil {
			s.cfg.Handlers.Playback(msg)
		}
		return nil

	case msg.Type.IsControl():
		if s.cfg.Handlers.Control == nil {
			return nil
		}
		if err := s.cfg.Handlers.Control(msg); err != nil {
			s.cfg.Log.Warn("control handler returned error, continuing session", "error", err, "channel", msg.Channel.String())
		}
		if msg.Type == wire.MsgByeByeRequest {
			s.closeReason = CloseByeBye
			s.setState(StateClosing)
		}
		return nil

	default:
		s.cfg.Log.Warn("unclassified streaming message, ignoring", "channel", msg.Channel.String(), "msg_type", uint16(msg.Type))
		return nil
	}
}

// isMusicPlaybackFlags reports whether flags match one of the three
// combined flag-byte values spec.md §3 assigns to music-playback metadata
// messages (0x08 middle, 0x09 first, 0x0A last — the same values the video
// channel uses for its fragments).
func isMusicPlaybackFlags(f wire.Flags) bool {
	switch f {
	case wire.FlagsEncryptedMiddle, wire.FlagsEncryptedFirst, wire.FlagsEncryptedLast:
		return true
	default:
		return false
	}
}

func (s *Session) sendMediaAck(ch wire.ChannelID) error {
	return s.sendEncrypted(ch, wire.MsgMediaAck, nil)
}

// HandlePing replies to a Ping with a PingResponse echoing its timestamp
// body verbatim, per the control channel's keep-alive contract.
func (s *Session) HandlePing(msg *wire.Message) error {
	return s.sendEncrypted(msg.Channel, wire.MsgPingResponse, msg.Body())
}

// HandleAudioFocusRequest grants the requested gain locally — this engine
// has no OS audio manager to arbitrate against, per the Open Question
// resolution recorded for spec.md §9 — and replies with the same gain.
func (s *Session) HandleAudioFocusRequest(msg *wire.Message) error {
	body := append([]byte(nil), msg.Body()...)
	return s.sendEncrypted(msg.Channel, wire.MsgAudioFocusResponse, body)
}

// HandleVideoFocusRequest always grants video focus; there is only ever
// one video sink.
func (s *Session) HandleVideoFocusRequest(msg *wire.Message) error {
	return s.sendEncrypted(msg.Channel, wire.MsgVideoFocusResponse, []byte{0x01})
}

// HandleNightModeRequest acknowledges a night-mode push from the peer.
// Actually propagating the value to the configured sensor/UI surface is the
// caller's responsibility via StreamHandlers.Control.
func (s *Session) HandleNightModeRequest(msg *wire.Message) error {
	return s.sendEncrypted(msg.Channel, wire.MsgNightModeResponse, msg.Body())
}

// Close transitions Closing → Closed. Idempotent once Closed.
func (s *Session) Close(reason CloseReason) {
	cur := s.State()
	if cur == StateClosed {
		return
	}
	if cur != StateClosing {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		s.setState(StateClosing)
	}
	s.setState(StateClosed)
}

// FailTransport moves the session to Closing from any state, per spec.md
// §4.7's "any Transport error → Closing" catch-all row.
func (s *Session) FailTransport(cause error) {
	s.mu.Lock()
	s.closeReason = CloseTransportError
	s.mu.Unlock()
	s.setState(StateClosing)
	_ = cause
}
