package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Subscription) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestFanOutPreservesOrder(t *testing.T) {
	b := NewBroadcaster(16, nil)
	a := b.Subscribe()
	c := b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: ProcessOutput, Coin: "rvn", Data: ProcessOutputData{Line: fmt.Sprint(i)}})
	}
	b.Close()

	for _, s := range []*Subscription{a, c} {
		got := drain(s)
		require.Len(t, got, 5)
		for i, ev := range got {
			assert.Equal(t, fmt.Sprint(i), ev.Data.(ProcessOutputData).Line)
			assert.False(t, ev.Time.IsZero())
		}
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	b := NewBroadcaster(2, nil)
	slow := b.Subscribe()
	fast := b.Subscribe()

	for i := 0; i < 3; i++ {
		// the third publish finds slow's queue full and drops it
		b.Publish(Event{Type: HealthUpdated, Data: i})
		ev, ok := <-fast.Events()
		require.True(t, ok)
		assert.Equal(t, i, ev.Data)
	}

	got := drain(slow)
	assert.Len(t, got, 2)
	assert.True(t, slow.Dropped())
	assert.False(t, fast.Dropped())

	again := b.Subscribe()
	b.Publish(Event{Type: HealthUpdated, Data: 3})
	ev, ok := <-again.Events()
	require.True(t, ok, "a dropped subscriber can resubscribe")
	assert.Equal(t, 3, ev.Data)
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster(4, nil)
	s := b.Subscribe()
	s.Close()
	s.Close()
	assert.False(t, s.Dropped())

	b.Publish(Event{Type: ProcessStarted})
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestSubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(4, nil)
	b.Close()
	s := b.Subscribe()
	_, ok := <-s.Events()
	assert.False(t, ok)
	b.Publish(Event{Type: ProcessStarted})
}
