package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/alxayo/aap-headunit/internal/aap/wire"
)

func TestDispatcher_RoutesByChannelPriority(t *testing.T) {
	var mu sync.Mutex
	var audioSeen, videoSeen, controlSeen []wire.ChannelID

	d := New(
		func(m QueuedMessage) { mu.Lock(); audioSeen = append(audioSeen, m.Channel); mu.Unlock() },
		func(m QueuedMessage) { mu.Lock(); videoSeen = append(videoSeen, m.Channel); mu.Unlock() },
		func(m QueuedMessage) { mu.Lock(); controlSeen = append(controlSeen, m.Channel); mu.Unlock() },
	)
	d.Start()
	defer d.Stop()

	d.Dispatch(wire.ChannelAudioMedia, wire.FlagsEncryptedComplete, []byte("a"))
	d.Dispatch(wire.ChannelVideo, wire.FlagsEncryptedComplete, []byte("v"))
	d.Dispatch(wire.ChannelControl, wire.FlagsEncryptedComplete, []byte("c"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(audioSeen) == 1 && len(videoSeen) == 1 && len(controlSeen) == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(audioSeen) != 1 || audioSeen[0] != wire.ChannelAudioMedia {
		t.Fatalf("audio queue got %v", audioSeen)
	}
	if len(videoSeen) != 1 || videoSeen[0] != wire.ChannelVideo {
		t.Fatalf("video queue got %v", videoSeen)
	}
	if len(controlSeen) != 1 || controlSeen[0] != wire.ChannelControl {
		t.Fatalf("control queue got %v", controlSeen)
	}
}

// TestBoundedQueue_DropsOldestRetainsNewest exercises invariant 3 from
// spec.md §8: after pushing k > capacity messages into an undrained queue,
// exactly `capacity` remain, drops == k - capacity, and the retained items
// are the most recently pushed.
func TestBoundedQueue_DropsOldestRetainsNewest(t *testing.T) {
	q := newBoundedQueue(queueAudio, audioCapacity)
	const k = 100
	for i := 0; i < k; i++ {
		q.push(QueuedMessage{Payload: []byte{byte(i)}})
	}
	if got := q.dropCount(); got != uint64(k-audioCapacity) {
		t.Fatalf("dropCount() = %d, want %d", got, k-audioCapacity)
	}
	var got []byte
	for {
		m, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, m.Payload[0])
	}
	if len(got) != audioCapacity {
		t.Fatalf("retained %d items, want %d", len(got), audioCapacity)
	}
	want := byte(k - audioCapacity)
	if got[0] != want {
		t.Fatalf("oldest retained = %d, want %d", got[0], want)
	}
	if got[len(got)-1] != byte(k-1) {
		t.Fatalf("newest retained = %d, want %d", got[len(got)-1], k-1)
	}
}
