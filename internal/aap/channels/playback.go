package channels

import (
	"encoding/binary"

	"github.com/alxayo/aap-headunit/internal/aap/ports"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Playback kind byte prefixing a MUSIC_PLAYBACK data payload, following
// the same leading-discriminator-byte convention channels/input.go uses
// (the protocol has no separate message types for metadata vs album
// art on this channel).
const (
	playbackKindMetadata byte = iota
	playbackKindAlbumArt
)

// Playback consumes music-playback metadata and album art and forwards
// each to a ports.PlaybackSink. Shaped after media/recorder.go's
// consume-then-write loop: parse a small fixed header, hand the rest to
// the sink, and never let a malformed message take the session down.
type Playback struct {
	sink ports.PlaybackSink
}

// NewPlayback creates a Playback handler. sink may be nil, in which case
// Handle silently discards incoming metadata/art.
func NewPlayback(sink ports.PlaybackSink) *Playback {
	return &Playback{sink: sink}
}

// Handle parses one decrypted MUSIC_PLAYBACK message and routes it to
// the sink. Malformed bodies are dropped silently; the session stays
// open (spec.md §4.7's default "log and continue" posture for anything
// that isn't itself a protocol violation).
func (p *Playback) Handle(msg *wire.Message) {
	if p.sink == nil {
		return
	}
	body := msg.Body()
	if len(body) < 1 {
		return
	}
	switch body[0] {
	case playbackKindMetadata:
		fields, ok := decodeMetadata(body[1:])
		if !ok {
			return
		}
		p.sink.Metadata(fields)
	case playbackKindAlbumArt:
		p.sink.AlbumArt(body[1:])
	}
}

// decodeMetadata parses a count-prefixed key/value list:
// [count(1)][keyLen(1) key][valLen(2) val]*.
func decodeMetadata(b []byte) (map[string]string, bool) {
	if len(b) < 1 {
		return nil, false
	}
	count := int(b[0])
	b = b[1:]
	fields := make(map[string]string, count)
	for i := 0; i < count; i++ {
		if len(b) < 1 {
			return nil, false
		}
		keyLen := int(b[0])
		b = b[1:]
		if len(b) < keyLen+2 {
			return nil, false
		}
		key := string(b[:keyLen])
		b = b[keyLen:]
		valLen := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < valLen {
			return nil, false
		}
		fields[key] = string(b[:valLen])
		b = b[valLen:]
	}
	return fields, true
}
