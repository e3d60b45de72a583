// Package dispatch implements the three bounded, priority-classified
// message queues that keep audio jitter-free under contention: one worker
// goroutine per queue, drop-oldest backpressure, and panic-contained
// callback invocation. The worker-pool and panic-recovery shape follows
// internal/rtmp/server/hooks.executionPool; the fan-out/classify style
// follows internal/rtmp/relay.DestinationManager.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
	protoerr "github.com/alxayo/aap-headunit/internal/errors"
	"github.com/alxayo/aap-headunit/internal/logger"
)

// QueuedMessage is the unit of work each queue carries: a channel, its
// frame flags, and the decrypted message payload (type prefix included,
// see wire.ParseMessage).
type QueuedMessage struct {
	Channel wire.ChannelID
	Flags   wire.Flags
	Payload []byte
}

// Handler processes one queued message. Invoked synchronously on the
// owning worker goroutine; a panic inside Handler is recovered, logged as
// a HandlerError, and does not stop the worker.
type Handler func(QueuedMessage)

// queueName identifies one of the three dispatch lanes, used for logging
// and BackpressureDrop's Queue field.
type queueName string

const (
	queueAudio   queueName = "audio"
	queueVideo   queueName = "video"
	queueControl queueName = "control"
)

// capacities per spec.md §4.5.
const (
	audioCapacity   = 64
	videoCapacity   = 16
	controlCapacity = 32
)

type boundedQueue struct {
	name     queueName
	capacity int

	mu     sync.Mutex
	items  []QueuedMessage
	drops  uint64
	notify chan struct{}
}

func newBoundedQueue(name queueName, capacity int) *boundedQueue {
	return &boundedQueue{
		name:     name,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends m, dropping the oldest entry if the queue is at capacity.
// Never blocks.
func (q *boundedQueue) push(m QueuedMessage) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		atomic.AddUint64(&q.drops, 1)
		logger.Warn("dispatch queue full, dropped oldest", "queue", string(q.name))
	}
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *boundedQueue) pop() (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

func (q *boundedQueue) dropCount() uint64 { return atomic.LoadUint64(&q.drops) }

// Dispatcher owns the three bounded queues and their worker goroutines.
type Dispatcher struct {
	audio   *boundedQueue
	video   *boundedQueue
	control *boundedQueue

	audioHandler   Handler
	videoHandler   Handler
	controlHandler Handler

	shutdown chan struct{}
	wg       sync.WaitGroup
	started  bool

	log *slog.Logger
}

// New creates a Dispatcher with one handler per lane. Call Start to begin
// the worker goroutines.
func New(audioHandler, videoHandler, controlHandler Handler) *Dispatcher {
	return &Dispatcher{
		audio:          newBoundedQueue(queueAudio, audioCapacity),
		video:          newBoundedQueue(queueVideo, videoCapacity),
		control:        newBoundedQueue(queueControl, controlCapacity),
		audioHandler:   audioHandler,
		videoHandler:   videoHandler,
		controlHandler: controlHandler,
		shutdown:       make(chan struct{}),
		log:            logger.Logger(),
	}
}

// Start launches the three worker goroutines.
func (d *Dispatcher) Start() {
	if d.started {
		return
	}
	d.started = true
	d.runWorker(d.audio, d.audioHandler)
	d.runWorker(d.video, d.videoHandler)
	d.runWorker(d.control, d.controlHandler)
}

func (d *Dispatcher) runWorker(q *boundedQueue, handle Handler) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.shutdown:
				// Drain whatever is still queued, then exit.
				for {
					m, ok := q.pop()
					if !ok {
						return
					}
					d.invoke(q.name, handle, m)
				}
			case <-q.notify:
			}
			for {
				m, ok := q.pop()
				if !ok {
					break
				}
				d.invoke(q.name, handle, m)
			}
		}
	}()
}

func (d *Dispatcher) invoke(name queueName, handle Handler, m QueuedMessage) {
	defer func() {
		if r := recover(); r != nil {
			err := protoerr.NewHandlerError("dispatch."+string(name), panicAsError(r))
			d.log.Error("handler panicked", "queue", string(name), "error", err)
		}
	}()
	if handle != nil {
		handle(m)
	}
}

// Dispatch classifies payload by channel (audio channels → audio queue,
// video → video queue, everything else → control queue) and pushes.
// Never blocks the caller.
func (d *Dispatcher) Dispatch(ch wire.ChannelID, flags wire.Flags, payload []byte) {
	m := QueuedMessage{Channel: ch, Flags: flags, Payload: payload}
	switch ch.Priority() {
	case wire.PriorityHigh:
		d.audio.push(m)
	case wire.PriorityMedium:
		d.video.push(m)
	default:
		d.control.push(m)
	}
}

// Stats reports the current drop counters for each lane.
type Stats struct {
	AudioDrops   uint64
	VideoDrops   uint64
	ControlDrops uint64
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		AudioDrops:   d.audio.dropCount(),
		VideoDrops:   d.video.dropCount(),
		ControlDrops: d.control.dropCount(),
	}
}

// Stop signals shutdown and joins all workers with a 500ms deadline, per
// spec.md §4.5. Each worker drains its queue before exiting.
func (d *Dispatcher) Stop() {
	close(d.shutdown)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		d.log.Warn("dispatcher workers did not join within deadline")
	}
}

func panicAsError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return panicValueError{r}
}

type panicValueError struct{ v any }

func (p panicValueError) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return "non-string panic value"
}
