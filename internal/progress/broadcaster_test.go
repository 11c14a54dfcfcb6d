package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/mpcrawl/internal/domain"
)

func event(task string, seq uint64) domain.ProgressEvent {
	return domain.ProgressEvent{TaskID: task, Sequence: seq, Kind: domain.EventItemProcessed, Timestamp: time.Now()}
}

func collect(sub *Subscription, n int) []domain.ProgressEvent {
	out := make([]domain.ProgressEvent, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			return out
		}
	}
	return out
}

func TestPublishFansOutWithFilter(t *testing.T) {
	b := New(16)
	all := b.Subscribe()
	onlyA := b.Subscribe("a")
	defer all.Close()
	defer onlyA.Close()

	b.Publish(event("a", 1))
	b.Publish(event("b", 1))
	b.Publish(event("a", 2))

	got := collect(all, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "a"}, []string{got[0].TaskID, got[1].TaskID, got[2].TaskID})

	gotA := collect(onlyA, 2)
	require.Len(t, gotA, 2)
	assert.Equal(t, uint64(1), gotA[0].Sequence)
	assert.Equal(t, uint64(2), gotA[1].Sequence)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(4)
	slow := b.Subscribe()
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 10; i++ {
			b.Publish(event("t", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	got := collect(slow, 4)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, uint64(7+i), ev.Sequence)
	}
	assert.Equal(t, uint64(6), slow.Dropped())
}

func TestConcurrentReaderSeesIncreasingSequence(t *testing.T) {
	b := New(8)
	sub := b.Subscribe("t")

	var wg sync.WaitGroup
	var seen []uint64
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sub.Events() {
			seen = append(seen, ev.Sequence)
		}
	}()

	for i := uint64(1); i <= 500; i++ {
		b.Publish(event("t", i))
	}
	sub.Close()
	wg.Wait()

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Equal(t, uint64(500), uint64(len(seen))+sub.Dropped())
}

func TestCloseClosesSubscriptions(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Zero(t, b.SubscriberCount())

	// Safe after close.
	sub.Close()
	b.Publish(event("t", 1))

	late := b.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()
	sub.Close()
	sub.Close()

	assert.Zero(t, b.SubscriberCount())
	b.Publish(event("t", 1))
}
