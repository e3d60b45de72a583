package channels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alxayo/aap-headunit/internal/aap/config"
	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

func newTestInput(t *testing.T, onNightMode func(bool)) (*Input, *[]byte) {
	t.Helper()
	var lastBody []byte
	cfg := &config.Config{Resolution: config.Resolution1280x720, KeyMap: map[int32]int32{100: 200}}
	in := NewInput(cfg, 1280, 720, func(ch wire.ChannelID, typ wire.MessageType, body []byte) error {
		require.Equal(t, wire.ChannelInput, ch)
		lastBody = body
		return nil
	}, onNightMode)
	return in, &lastBody
}

func TestInput_TouchScalesCoordinatesOneToOne(t *testing.T) {
	in, body := newTestInput(t, nil)
	require.NoError(t, in.Touch(TouchDown, []TouchPointer{{ID: 0, X: 640, Y: 360}}))
	require.Equal(t, []byte{byte(inputKindTouch), byte(TouchDown), 1, 0, 640 >> 8, 640 & 0xFF, 360 >> 8, 360 & 0xFF}, *body)
}

func TestInput_TouchOutOfRangeDropsEvent(t *testing.T) {
	in, body := newTestInput(t, nil)
	*body = nil
	err := in.Touch(TouchDown, []TouchPointer{{ID: 0, X: -1, Y: 0}})
	require.NoError(t, err)
	require.Nil(t, *body)
}

func TestInput_TouchTruncatesExcessPointers(t *testing.T) {
	in, body := newTestInput(t, nil)
	pointers := make([]TouchPointer, maxTouchPointers+5)
	for i := range pointers {
		pointers[i] = TouchPointer{ID: uint8(i), X: 10, Y: 10}
	}
	require.NoError(t, in.Touch(TouchMove, pointers))
	require.Equal(t, byte(maxTouchPointers), (*body)[2])
}

func TestInput_KeyGuideSynthesizesTouchDownUp(t *testing.T) {
	in, body := newTestInput(t, nil)
	require.NoError(t, in.Key(KeyGuide, true))
	require.Equal(t, byte(TouchUp), (*body)[1]) // last send observed is the touch-up half of the pair
}

func TestInput_KeyNightModeTogglesAndCallsHook(t *testing.T) {
	var calls []bool
	in, _ := newTestInput(t, func(on bool) { calls = append(calls, on) })
	require.NoError(t, in.Key(KeyNightMode, true))
	require.NoError(t, in.Key(KeyNightMode, true))
	require.Equal(t, []bool{true, false}, calls)
}

func TestInput_KeySoftLeftRightSendScrollDelta(t *testing.T) {
	in, body := newTestInput(t, nil)
	require.NoError(t, in.Key(KeySoftLeft, true))
	require.Equal(t, []byte{byte(inputKindScroll), byte(int8(-1))}, *body)
	require.NoError(t, in.Key(KeySoftRight, true))
	require.Equal(t, []byte{byte(inputKindScroll), byte(int8(1))}, *body)
}

func TestInput_KeyRemapsThroughKeyMap(t *testing.T) {
	in, body := newTestInput(t, nil)
	require.NoError(t, in.Key(100, true))
	require.Equal(t, int32(200), int32(uint32((*body)[1])<<24|uint32((*body)[2])<<16|uint32((*body)[3])<<8|uint32((*body)[4])))
}

func TestInput_KeyUnmappedPassesThrough(t *testing.T) {
	in, body := newTestInput(t, nil)
	require.NoError(t, in.Key(42, false))
	require.Equal(t, byte(0), (*body)[5]) // key-up
}
