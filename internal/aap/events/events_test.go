package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToEverySubscriberInOrder(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var calls []int

	b.Subscribe(func(Event) { mu.Lock(); calls = append(calls, 1); mu.Unlock() })
	b.Subscribe(func(Event) { mu.Lock(); calls = append(calls, 2); mu.Unlock() })

	b.Publish(Connected(time.Now()))

	require.Equal(t, []int{1, 2}, calls)
}

func TestBus_PublishBeforeAnySubscriberIsANoop(t *testing.T) {
	b := NewBus()
	require.NotPanics(t, func() { b.Publish(Connected(time.Now())) })
}

func TestConnected_BuildsConnectedKindEvent(t *testing.T) {
	at := time.Now()
	ev := Connected(at)
	require.Equal(t, KindConnected, ev.Kind)
	require.Equal(t, at, ev.Timestamp)
}

func TestDisconnected_CarriesReason(t *testing.T) {
	ev := Disconnected(time.Now(), ReasonByeBye)
	require.Equal(t, KindDisconnected, ev.Kind)
	require.Equal(t, ReasonByeBye, ev.Reason)
}

func TestStatsUpdate_CarriesCounters(t *testing.T) {
	stats := Stats{FramingResyncDrops: 1, DecoderQueueDrops: 2, MissedPongs: 3}
	ev := StatsUpdate(time.Now(), stats)
	require.Equal(t, KindStats, ev.Kind)
	require.Equal(t, stats, ev.Stats)
}

func TestBus_SubscribeDuringPublishDoesNotRace(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	b.Subscribe(func(Event) {})

	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Connected(time.Now()))
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		b.Subscribe(func(Event) {})
	}
	<-done
}
