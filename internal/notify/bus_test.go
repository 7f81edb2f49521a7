package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Change{Entity: EntityClip, ID: 7, State: StateSaved})

	select {
	case c := <-ch:
		assert.Equal(t, EntityClip, c.Entity)
		assert.Equal(t, int64(7), c.ID)
		assert.Equal(t, StateSaved, c.State)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Change{Entity: EntityFile, ID: int64(i), State: StateProgress, Percent: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	require.False(t, ok)

	// canceled subscriber receives nothing further
	b.Publish(Change{Entity: EntityClip, ID: 1, State: StateSaved})
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe()
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	// publish and subscribe after close are harmless
	b.Publish(Change{})
	ch2, cancel2 := b.Subscribe()
	cancel2()
	_, ok = <-ch2
	require.False(t, ok)
}
