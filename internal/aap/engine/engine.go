// Package engine assembles one AAP session end to end: transport, ring
// buffer, framer, TLS engine, protocol FSM, dispatcher, channel handlers,
// outbox, and the event stream — the "service locator / Application
// singleton" wiring point a real deployment would otherwise scatter across
// main(). Grounded on internal/rtmp/conn.Connection's Accept-then-wire-
// everything-together shape and internal/rtmp/server.Server's component
// ownership, generalized from RTMP's fixed conn/chunk/control stack to
// AAP's transport/framer/tlssession/fsm stack.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alxayo/aap-headunit/internal/aap/channels"
	"github.com/alxayo/aap-headunit/internal/aap/config"
	"github.com/alxayo/aap-headunit/internal/aap/dispatch"
	"github.com/alxayo/aap-headunit/internal/aap/discovery"
	"github.com/alxayo/aap-headunit/internal/aap/events"
	"github.com/alxayo/aap-headunit/internal/aap/framer"
	"github.com/alxayo/aap-headunit/internal/aap/fsm"
	"github.com/alxayo/aap-headunit/internal/aap/outbox"
	"github.com/alxayo/aap-headunit/internal/aap/ports"
	"github.com/alxayo/aap-headunit/internal/aap/reassemble"
	"github.com/alxayo/aap-headunit/internal/aap/ringbuf"
	"github.com/alxayo/aap-headunit/internal/aap/tlssession"
	"github.com/alxayo/aap-headunit/internal/aap/transport"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
	"github.com/alxayo/aap-headunit/internal/bufpool"
	protoerr "github.com/alxayo/aap-headunit/internal/errors"
)

// ringCapacity is the RingBuffer's default size, per spec.md §4.1.
const ringCapacity = 512 * 1024

// versionRetryInterval is how often the connect-phase ticker polls
// fsm.Session.RetryVersionRequest.
const versionRetryInterval = 100 * time.Millisecond

// HostPorts bundles every ports.* collaborator the embedding application
// supplies. Any field may be nil; the corresponding channel handler then
// becomes a no-op (spec.md leaves host hardware integration out of scope).
type HostPorts struct {
	VideoSink    ports.VideoDecoderSink
	SpeechSink   ports.AudioSink
	SystemSink   ports.AudioSink
	MediaSink    ports.AudioSink
	MicSource    ports.MicSource
	SensorFeed   ports.SensorFeed
	PlaybackSink ports.PlaybackSink
}

// Engine owns every per-session component and wires them together for
// exactly one connect/disconnect lifecycle — "nothing survives a session"
// per spec.md §3.
type Engine struct {
	cfg  *config.Config
	host HostPorts
	log  *slog.Logger

	// sessionID correlates one Engine's log lines across a connect/
	// disconnect lifecycle. Distinct from the small-integer wire session id
	// the peer assigns during the handshake — this one never goes on the
	// wire, it only exists to make grep-by-session possible in logs.
	sessionID string

	transport  transport.Transport
	ring       *ringbuf.RingBuffer
	framer     *framer.Framer
	session    *fsm.Session
	dispatcher *dispatch.Dispatcher
	outboxBus  *outbox.Outbox
	catalog    *discovery.Catalog
	eventBus   *events.Bus

	tls tlsEngine

	video       *channels.Video
	speechAudio *channels.Audio
	systemAudio *channels.Audio
	mediaAudio  *channels.Audio
	playback    *channels.Playback
	bluetooth   *channels.Bluetooth
	sensors     *channels.Sensors
	mic         *channels.Mic
	input       *channels.Input

	controlHandler func(*wire.Message) error

	stopRetry    chan struct{}
	teardownOnce sync.Once
}

// tlsEngine is the subset of tlssession.Session's surface this package
// needs directly (Encrypt/Decrypt for the Outbox/parser), kept local to
// avoid a second name for the same shape fsm.TlsEngine already declares.
type tlsEngine interface {
	Encrypt([]byte) ([]byte, error)
	Decrypt([]byte) ([]byte, error)
}

// New builds an Engine for one upcoming session. It performs no I/O; call
// Connect to open the transport and begin the protocol.
func New(cfg *config.Config, host HostPorts, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	sessionID := uuid.NewString()
	e := &Engine{
		cfg:       cfg,
		host:      host,
		log:       log.With("session_id", sessionID),
		sessionID: sessionID,
		catalog:   discovery.New(cfg),
		eventBus:  events.NewBus(),
		stopRetry: make(chan struct{}),
	}

	switch cfg.Transport.Kind {
	case config.TransportUSB:
		e.transport = transport.NewUSB(transport.USBConfig{FD: cfg.Transport.FD})
	case config.TransportSocket:
		e.transport = transport.NewSocket(transport.SocketConfig{Host: cfg.Transport.Host, Port: cfg.Transport.Port})
	default:
		return nil, fmt.Errorf("engine: unknown transport kind %q", cfg.Transport.Kind)
	}

	e.ring = ringbuf.New(ringCapacity)
	e.framer = framer.New()

	e.video = channels.NewVideo(reassemble.New(host.VideoSink))
	e.speechAudio = channels.NewAudio(host.SpeechSink)
	e.systemAudio = channels.NewAudio(host.SystemSink)
	e.mediaAudio = channels.NewAudio(host.MediaSink)
	e.playback = channels.NewPlayback(host.PlaybackSink)
	e.bluetooth = channels.NewBluetooth()

	e.outboxBus = outbox.New(lazyEncryptor{e}, e.transport)
	e.sensors = channels.NewSensors(host.SensorFeed, e.outboxBus.Send)
	e.mic = channels.NewMic(host.MicSource, cfg.MicSampleRate, e.outboxBus.Send)
	e.input = channels.NewInput(cfg, cfg.Resolution.Width, cfg.Resolution.Height, e.outboxBus.Send, e.toggleNightMode)

	e.dispatcher = dispatch.New(e.routeQueued, e.routeQueued, e.routeQueued)

	e.session = fsm.New(fsm.Config{
		Writer:             frameWriter{e.transport},
		TlsFactory:         e.prepareTls,
		Catalog:            e.catalog,
		StabilisationDelay: time.Duration(cfg.StabilisationDelayMS) * time.Millisecond,
		Log:                log,
		Handlers: fsm.StreamHandlers{
			Audio:    e.routeAudio,
			Video:    e.video.Handle,
			Playback: e.playback.Handle,
			Control:  func(msg *wire.Message) error { return e.controlHandler(msg) },
		},
	})
	e.controlHandler = channels.NewControlHandler(e.session)

	return e, nil
}

// lazyEncryptor defers to the TLS engine the FSM establishes mid-session;
// the Outbox is constructed before that engine exists.
type lazyEncryptor struct{ e *Engine }

func (l lazyEncryptor) Encrypt(b []byte) ([]byte, error) {
	if l.e.tls == nil {
		return nil, protoerr.NewTlsRecordError("outbox.encrypt", errTlsNotReady{})
	}
	return l.e.tls.Encrypt(b)
}

type errTlsNotReady struct{}

func (errTlsNotReady) Error() string { return "engine: tls engine not yet established" }

func (e *Engine) prepareTls() (fsm.TlsEngine, error) {
	s, err := tlssession.Prepare(tlssession.Config{
		CertificateChain: e.cfg.PinnedCertificateChain,
		PrivateKey:       e.cfg.PinnedPrivateKey,
	})
	if err != nil {
		return nil, err
	}
	e.tls = s
	return s, nil
}

// frameWriter adapts a transport.Transport into fsm.FrameWriter: encode
// the 4-byte header, concatenate with payload, write.
type frameWriter struct{ t transport.Transport }

func (w frameWriter) WriteFrame(ch wire.ChannelID, flags wire.Flags, payload []byte) error {
	buf := bufpool.Get(wire.HeaderSize + len(payload))
	framed := framer.EncodeFrame(buf, ch, flags, payload)
	_, err := w.t.Write(framed)
	bufpool.Put(buf)
	return err
}

// Connect opens the transport, performs the version/TLS bootstrap, and
// starts asynchronous frame delivery. It returns once the transport is
// open and the version request has been sent; the remainder of the
// handshake happens on the transport's read callback.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.transport.Open(ctx); err != nil {
		return err
	}
	e.dispatcher.Start()
	if err := e.session.Open(); err != nil {
		return err
	}
	go e.runVersionRetryTicker()
	e.transport.StartReading(e.onRawBytes, e.onTransportError)
	e.eventBus.Publish(events.Connected(timeNow()))
	return nil
}

func (e *Engine) runVersionRetryTicker() {
	t := time.NewTicker(versionRetryInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stopRetry:
			return
		case <-t.C:
			if e.session.State() != fsm.StateVersionRequested {
				return
			}
			if err := e.session.RetryVersionRequest(); err != nil {
				e.log.Error("version negotiation exhausted", "error", err)
				e.teardown(events.ReasonProtocolError)
				return
			}
		}
	}
}

// onTransportError runs on the transport's own read-loop goroutine, which
// only finishes unwinding (and joins teardown's StopReading call) after
// this callback returns — so teardown must run on a fresh goroutine here,
// never inline, or StopReading's wait would deadlock against its own
// caller.
func (e *Engine) onTransportError(err error) {
	e.log.Error("transport read loop ended", "error", err)
	e.session.FailTransport(err)
	go e.teardown(events.ReasonTransportError)
}

// onRawBytes runs on the transport's single reordering goroutine (both
// backends serialize calls to this callback — see transport/usb.go's
// ticket reassembly), so it is safe to treat the ring buffer as
// single-producer here and drain frames inline rather than handing off to
// a separate parser goroutine.
func (e *Engine) onRawBytes(b []byte) {
	e.ring.Write(b)
	if err := e.framer.Drain(e.ring, e.handleFrame); err != nil {
		e.log.Error("framing failed", "error", err)
		e.session.FailTransport(err)
		go e.teardown(events.ReasonProtocolError)
	}
}

func (e *Engine) handleFrame(frame *wire.Frame) error {
	prev := e.session.State()
	var err error
	switch prev {
	case fsm.StateOpened, fsm.StateVersionRequested:
		var hdr [wire.HeaderSize]byte
		if encErr := wire.EncodeHeader(hdr[:], frame.Channel, frame.Flags, len(frame.Payload)); encErr != nil {
			return encErr
		}
		err = e.session.NegotiateVersion(hdr, frame.Payload)
	case fsm.StateVersionNegotiated, fsm.StateTlsHandshaking:
		var msg *wire.Message
		msg, err = wire.ParseMessage(frame.Channel, frame.Flags, frame.Payload)
		if err == nil {
			err = e.session.FeedTlsHandshake(msg.Body())
		}
	case fsm.StateStatusSent, fsm.StateDiscovering:
		err = e.handleControlFrame(frame)
	case fsm.StateStreaming:
		err = e.handleStreamingFrame(frame)
	default:
		return nil // Closing/Closed: drop
	}
	if err != nil {
		return err
	}
	e.onStateSettled(prev)
	return nil
}

// onStateSettled reacts to state transitions handleFrame just caused,
// since fsm.Session has no change-notification hook of its own: flushing
// the Outbox's pending list on StatusSent entry, and starting the
// outbound-only channels (sensors, mic) once Streaming begins.
func (e *Engine) onStateSettled(prev fsm.SessionState) {
	cur := e.session.State()
	if cur == prev {
		return
	}
	switch cur {
	case fsm.StateStatusSent:
		e.framer.SetPostHandshake(true)
		if err := e.outboxBus.MarkReady(); err != nil {
			e.log.Error("outbox flush failed", "error", err)
		}
	case fsm.StateStreaming:
		go e.onStreamingEntered()
	case fsm.StateClosing:
		// handleFrame runs inline on the transport's read-loop goroutine;
		// teardown's StopReading call joins that same goroutine, so it must
		// run on a fresh one here too (see onTransportError's comment).
		go e.teardown(e.closeReasonToEventReason())
	}
}

func (e *Engine) onStreamingEntered() {
	for !e.session.StabilisationElapsed() {
		time.Sleep(20 * time.Millisecond)
	}
	e.sensors.Start(e.cfg.SensorsEnabled)
	if err := e.mic.Start(); err != nil {
		e.log.Warn("mic start failed", "error", err)
	}
}

func (e *Engine) handleControlFrame(frame *wire.Frame) error {
	plain, err := e.session.Decrypt(frame.Payload)
	if err != nil {
		return err
	}
	msg, err := wire.ParseMessage(frame.Channel, frame.Flags, plain)
	if err != nil {
		return protoerr.NewFramingError("engine.parse_control", err)
	}
	switch msg.Type {
	case wire.MsgServiceDiscoveryRequest:
		return e.session.HandleServiceDiscoveryRequest()
	case wire.MsgChannelOpenRequest:
		body := msg.Body()
		if len(body) < 1 {
			return protoerr.NewProtocolError("engine.channel_open", errMalformedChannelOpen{})
		}
		return e.session.HandleChannelOpenRequest(wire.ChannelID(body[0]), string(body[1:]))
	default:
		e.log.Warn("unexpected message before streaming", "type", uint16(msg.Type), "state", e.session.State().String())
		return nil
	}
}

type errMalformedChannelOpen struct{}

func (errMalformedChannelOpen) Error() string { return "engine: channel open request missing channel id" }

func (e *Engine) handleStreamingFrame(frame *wire.Frame) error {
	plain, err := e.session.Decrypt(frame.Payload)
	if err != nil {
		return err
	}
	e.dispatcher.Dispatch(frame.Channel, frame.Flags, plain)
	return nil
}

// routeQueued is the shared handler for all three dispatch lanes: parse
// the decrypted payload into a wire.Message and let the FSM's own
// classification table (spec.md §4.7) decide where it goes. Runs on a
// dispatcher worker goroutine, not the parser goroutine handleFrame runs
// on — a ByeBye here drives the session into Closing asynchronously, so
// this is the one place (besides handleFrame) that must watch for the
// transition itself rather than relying on onStateSettled.
func (e *Engine) routeQueued(m dispatch.QueuedMessage) {
	msg, err := wire.ParseMessage(m.Channel, m.Flags, m.Payload)
	if err != nil {
		e.log.Warn("dropping malformed streaming message", "channel", m.Channel.String(), "error", err)
		return
	}
	if err := e.session.HandleStreamingMessage(msg); err != nil {
		e.log.Warn("streaming message handling failed", "error", err)
		return
	}
	if e.session.State() == fsm.StateClosing {
		// teardown joins the dispatcher's worker goroutines, one of which is
		// this very call stack — run it from a fresh goroutine so Stop()
		// waits on the *other* two workers instead of deadlocking on itself.
		go e.teardown(e.closeReasonToEventReason())
	}
}

func (e *Engine) routeAudio(msg *wire.Message) {
	switch msg.Channel {
	case wire.ChannelAudioSpeech:
		e.speechAudio.Handle(msg)
	case wire.ChannelAudioSystem:
		e.systemAudio.Handle(msg)
	case wire.ChannelAudioMedia:
		e.mediaAudio.Handle(msg)
	}
}

func (e *Engine) toggleNightMode(on bool) {
	e.log.Info("night mode toggled by KEY_N", "on", on)
}

func (e *Engine) closeReasonToEventReason() events.DisconnectReason {
	switch e.session.CloseReason() {
	case fsm.CloseByeBye:
		return events.ReasonByeBye
	case fsm.CloseTlsFailed:
		return events.ReasonTlsFailed
	case fsm.CloseTransportError:
		return events.ReasonTransportError
	case fsm.CloseProtocolError:
		return events.ReasonProtocolError
	default:
		return events.ReasonUnspecified
	}
}

// Touch forwards one local touch event to the peer. See channels.Input.
func (e *Engine) Touch(action channels.TouchAction, pointers []channels.TouchPointer) error {
	return e.input.Touch(action, pointers)
}

// Key forwards one local key event to the peer. See channels.Input.
func (e *Engine) Key(localCode int32, down bool) error {
	return e.input.Key(localCode, down)
}

// Events returns the session's event stream for the host application to
// subscribe to.
func (e *Engine) Events() *events.Bus { return e.eventBus }

// Stats reports the dispatcher's current drop counters.
func (e *Engine) Stats() dispatch.Stats { return e.dispatcher.Stats() }

// teardown implements the Closing→Closed row: stop the dispatcher, close
// the transport, flush queues (the dispatcher's own Stop already drains
// and joins with a deadline), and publish Disconnected exactly once.
// teardownOnce guards against the several independent callers (transport
// error, framing failure, version-retry exhaustion, a ByeBye routed
// through the dispatcher, an explicit Disconnect) racing each other.
func (e *Engine) teardown(reason events.DisconnectReason) {
	e.teardownOnce.Do(func() {
		close(e.stopRetry)
		e.sensors.Stop()
		e.mic.Stop()
		e.speechAudio.Stop()
		e.systemAudio.Stop()
		e.mediaAudio.Stop()
		e.video.Reset()
		e.transport.StopReading()
		e.dispatcher.Stop()
		_ = e.transport.Close()
		e.eventBus.Publish(events.Disconnected(timeNow(), reason))
	})
}

// Disconnect tears the session down on request (not peer-initiated),
// mirroring Transport.disconnect() from spec.md §4.4.
func (e *Engine) Disconnect() {
	e.session.Close(fsm.CloseUnspecified)
	e.teardown(events.ReasonUnspecified)
}

func timeNow() time.Time { return time.Now() }
