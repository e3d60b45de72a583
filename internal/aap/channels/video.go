package channels

import (
	"github.com/alxayo/aap-headunit/internal/aap/reassemble"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Video wires the fsm's video-channel routing directly into a
// reassemble.Reassembler, which owns the fragment-stitching and SPS/PPS
// injection logic (spec.md §4.6). This adapter exists only so the fsm
// package doesn't need to import reassemble directly — engine.go wires the
// two together here instead, keeping fsm's StreamHandlers field a plain
// func(*wire.Message).
type Video struct {
	reassembler *reassemble.Reassembler
}

// NewVideo creates a Video adapter around an existing Reassembler.
func NewVideo(r *reassemble.Reassembler) *Video {
	return &Video{reassembler: r}
}

// Handle forwards one decrypted video-channel message to the reassembler.
func (v *Video) Handle(msg *wire.Message) {
	v.reassembler.Handle(msg)
}

// Reset clears in-progress reassembly state and the SPS/PPS cache, called
// at session teardown.
func (v *Video) Reset() {
	v.reassembler.Reset()
}
