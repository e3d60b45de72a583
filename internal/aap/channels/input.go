package channels

import (
	"sync"

	"github.com/alxayo/aap-headunit/internal/aap/config"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

// Local (head-unit side) key codes recognized before the user key_map
// remap is applied. These are the two synthetic behaviors named in
// spec.md §4.9; all other codes pass through config.Config.KeyMap.
const (
	KeyGuide     int32 = -1
	KeyNightMode int32 = -2
	KeySoftLeft  int32 = -3
	KeySoftRight int32 = -4
)

// Input event kinds, carried as the first body byte of a generic
// MsgMediaData0 message on the INPUT channel — the protocol has no
// dedicated touch/key/scroll message types (spec.md §9 Open Questions),
// so this engine discriminates inside the data payload the way
// internal/rtmp/media/audio.go discriminates AAC vs other codecs from a
// leading header byte.
type inputEventKind uint8

const (
	inputKindTouch inputEventKind = iota
	inputKindKey
	inputKindScroll
)

// TouchAction mirrors the five actions spec.md §4.9 names.
type TouchAction uint8

const (
	TouchDown TouchAction = iota
	TouchUp
	TouchMove
	TouchPointerDown
	TouchPointerUp
)

const maxTouchPointers = 10

// TouchPointer is one finger contact in view-local coordinates.
type TouchPointer struct {
	ID   uint8
	X, Y int
}

// guideTapPoint is the fixed point KEY_GUIDE synthesizes a touch-down/up
// at: (1,1), next to the top-left corner (the peer only needs a
// consistent, in-bounds location to interpret it as a navigation
// gesture).
var guideTapPoint = TouchPointer{ID: 0, X: 1, Y: 1}

// Input translates local touch/key events into wire messages on the
// INPUT channel, scaling view-local touch coordinates into the
// negotiated phone resolution and remapping key codes through the
// user's key_map. Grounded on internal/rtmp/control/handler.go's
// decode-validate-send shape, adapted to an outbound (head-unit →
// phone) direction rather than control-reply.
type Input struct {
	mu sync.Mutex

	send SendFunc
	cfg  *config.Config

	viewWidth, viewHeight int
	nightMode             bool
	onNightModeToggle     func(on bool)
}

// NewInput creates an Input handler. viewWidth/viewHeight are the local
// display's touch-surface dimensions; touch coordinates are scaled from
// this space into cfg.Resolution. onNightModeToggle, if non-nil, is
// invoked whenever KEY_N flips the local night-mode flag.
func NewInput(cfg *config.Config, viewWidth, viewHeight int, send SendFunc, onNightModeToggle func(on bool)) *Input {
	return &Input{
		cfg:               cfg,
		viewWidth:         viewWidth,
		viewHeight:        viewHeight,
		send:              send,
		onNightModeToggle: onNightModeToggle,
	}
}

// Touch translates and sends a multitouch event. Pointers beyond
// maxTouchPointers are ignored; any pointer whose scaled coordinate
// lands outside [0, 65535) drops the whole event, per spec.md §4.9 and
// scenario F.
func (in *Input) Touch(action TouchAction, pointers []TouchPointer) error {
	if len(pointers) > maxTouchPointers {
		pointers = pointers[:maxTouchPointers]
	}
	scaled := make([]TouchPointer, 0, len(pointers))
	for _, p := range pointers {
		x := scaleCoord(p.X, in.viewWidth, in.cfg.Resolution.Width)
		y := scaleCoord(p.Y, in.viewHeight, in.cfg.Resolution.Height)
		if x < 0 || x >= 65535 || y < 0 || y >= 65535 {
			return nil
		}
		scaled = append(scaled, TouchPointer{ID: p.ID, X: x, Y: y})
	}
	return in.sendTouch(action, scaled)
}

func scaleCoord(v, from, to int) int {
	if from <= 0 {
		return v
	}
	return v * to / from
}

func (in *Input) sendTouch(action TouchAction, pointers []TouchPointer) error {
	body := make([]byte, 0, 3+4*len(pointers))
	body = append(body, byte(inputKindTouch), byte(action), byte(len(pointers)))
	for _, p := range pointers {
		body = append(body, p.ID, byte(p.X>>8), byte(p.X), byte(p.Y>>8), byte(p.Y))
	}
	return in.send(wire.ChannelInput, wire.MsgMediaData0, body)
}

// Key handles one local key press/release. down reports whether this is
// a key-down (true) or key-up (false) transition. KEY_GUIDE synthesizes
// a touch-down/up pair at a fixed point on key-down only; KEY_N toggles
// night mode on key-down only; SOFT_LEFT/RIGHT emit a scroll delta of
// ±1 on key-down only. Everything else is remapped through
// cfg.KeyMap and forwarded as a key event.
func (in *Input) Key(localCode int32, down bool) error {
	switch localCode {
	case KeyGuide:
		if !down {
			return nil
		}
		if err := in.sendTouch(TouchDown, []TouchPointer{guideTapPoint}); err != nil {
			return err
		}
		return in.sendTouch(TouchUp, []TouchPointer{guideTapPoint})
	case KeyNightMode:
		if !down {
			return nil
		}
		in.mu.Lock()
		in.nightMode = !in.nightMode
		on := in.nightMode
		in.mu.Unlock()
		if in.onNightModeToggle != nil {
			in.onNightModeToggle(on)
		}
		return nil
	case KeySoftLeft:
		if !down {
			return nil
		}
		return in.sendScroll(-1)
	case KeySoftRight:
		if !down {
			return nil
		}
		return in.sendScroll(1)
	default:
		mapped := localCode
		if in.cfg.KeyMap != nil {
			if m, ok := in.cfg.KeyMap[localCode]; ok {
				mapped = m
			}
		}
		return in.sendKey(mapped, down)
	}
}

func (in *Input) sendKey(keycode int32, down bool) error {
	body := make([]byte, 6)
	body[0] = byte(inputKindKey)
	body[1] = byte(keycode >> 24)
	body[2] = byte(keycode >> 16)
	body[3] = byte(keycode >> 8)
	body[4] = byte(keycode)
	if down {
		body[5] = 1
	}
	return in.send(wire.ChannelInput, wire.MsgMediaData0, body)
}

func (in *Input) sendScroll(delta int8) error {
	body := []byte{byte(inputKindScroll), byte(delta)}
	return in.send(wire.ChannelInput, wire.MsgMediaData0, body)
}
