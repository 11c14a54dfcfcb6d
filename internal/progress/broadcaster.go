// Package progress fans task progress events out to any number of
// subscribers without ever blocking the publisher.
package progress

import (
	"sync"

	"github.com/timmy/mpcrawl/internal/domain"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// Broadcaster is a non-blocking pub/sub hub for progress events.
//
// Each subscriber owns a bounded queue. When it is full the oldest queued
// event is discarded and counted, so a slow reader sees a gap rather than
// stalling the crawl. Events reach a subscriber in publish order.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	closed     bool
}

// New creates a Broadcaster. A bufferSize below 1 uses DefaultBufferSize.
func New(bufferSize int) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a subscriber for the given task IDs; none means all
// tasks. Subscribing to a closed broadcaster returns a closed subscription.
func (b *Broadcaster) Subscribe(taskIDs ...string) *Subscription {
	sub := &Subscription{
		b:  b,
		ch: make(chan domain.ProgressEvent, b.bufferSize),
	}
	if len(taskIDs) > 0 {
		sub.filter = make(map[string]struct{}, len(taskIDs))
		for _, id := range taskIDs {
			sub.filter[id] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every matching subscriber. It never blocks on a
// subscriber.
func (b *Broadcaster) Publish(ev domain.ProgressEvent) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.matches(ev.TaskID) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the event stream.
type Subscription struct {
	b      *Broadcaster
	filter map[string]struct{}

	mu      sync.Mutex
	ch      chan domain.ProgressEvent
	dropped uint64
	closed  bool
}

// Events returns the channel events arrive on. It is closed by Close.
func (s *Subscription) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// Dropped returns how many events were discarded because the reader lagged.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes and closes the events channel. It is idempotent.
func (s *Subscription) Close() {
	s.b.remove(s)
	s.shutdown()
}

func (s *Subscription) matches(taskID string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[taskID]
	return ok
}

func (s *Subscription) deliver(ev domain.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Full: make room by discarding the oldest queued event.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
