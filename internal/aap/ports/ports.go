// Package ports defines the interfaces the engine consumes from its host
// application — the hardware/platform collaborators spec.md §6 lists as
// "Consumed interfaces". Every channel handler in internal/aap/channels is
// built against these, never against a concrete decoder/audio-HAL/sensor
// stack, matching internal/rtmp/media's Subscriber/CodecStore interface
// style of depending on behavior rather than concrete types.
package ports

import "time"

// VideoDecoderSink receives reassembled H.264 NAL units. Ready gates the
// Reassembler's one-shot SPS/PPS re-injection (spec.md §4.6); Reset clears
// any buffered state on disconnect or channel close.
type VideoDecoderSink interface {
	Offer(nal []byte)
	Reset()
	Ready() bool
}

// AudioSink receives linear PCM for one audio channel (speech, system, or
// media — spec.md §3 keeps these as three independent streams with
// independent start/stop lifecycles).
type AudioSink interface {
	Write(pcm []byte)
	Start(sampleRate int, channels int)
	Stop()
}

// MicSource is the uplink counterpart: the engine pulls captured audio from
// it to forward over the MIC channel while a session is active.
type MicSource interface {
	Start(sampleRate int) error
	Stop()
}

// SensorFeed lets the engine subscribe to one sensor type's live readings;
// cancel unsubscribes. Only sensor types present in the session's
// sensors_enabled configuration are ever subscribed to, per spec.md §4.9.
type SensorFeed interface {
	Subscribe(sensorType uint8, onReading func(payload []byte)) (cancel func())
}

// PlaybackSink receives now-playing metadata and album art pushed over the
// MUSIC_PLAYBACK channel (spec.md §3, §4.7 "flags 8/9/10"). Fields carries
// whatever key/value pairs the peer sent (track, artist, album, ...); Go
// has no fixed schema for these beyond what the peer chooses to include.
type PlaybackSink interface {
	Metadata(fields map[string]string)
	AlbumArt(data []byte)
}

// Clock abstracts elapsed-time queries so components needing relative
// timing (stabilisation delay, retry back-off) don't depend on wall clock
// directly, matching fsm.Clock's shape but expressed in milliseconds per
// spec.md §6's interface table.
type Clock interface {
	ElapsedMs() int64
}

// SystemClock is the default Clock, backed by time.Now against a fixed
// epoch recorded at construction.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock starts the epoch at the moment of construction.
func NewSystemClock() *SystemClock { return &SystemClock{epoch: time.Now()} }

func (c *SystemClock) ElapsedMs() int64 { return time.Since(c.epoch).Milliseconds() }

// Logger is the minimal structured-logging surface channel handlers take,
// satisfied directly by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
