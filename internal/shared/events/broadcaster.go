package events

import (
	"context"
	"sync"
)

// Broadcaster fans events out to in-process subscribers such as the
// websocket feed. Slow subscribers drop events rather than block the
// publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan *Event
	nextID int
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan *Event),
	}
}

// Subscribe registers a subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *Event, buffer)

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer
// space. It never blocks and never fails.
func (b *Broadcaster) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// SubscriberCount reports the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscriptions.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}

// Tee publishes every event to each of the given publishers, ignoring
// individual failures. It lets Kafka and the in-process feed share one
// Publisher seam.
type Tee struct {
	publishers []Publisher
}

// NewTee combines publishers into one.
func NewTee(publishers ...Publisher) *Tee {
	return &Tee{publishers: publishers}
}

// Publish forwards the event to every underlying publisher. The first
// error is returned after all publishers have been attempted.
func (t *Tee) Publish(ctx context.Context, event *Event) error {
	var firstErr error
	for _, p := range t.publishers {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every underlying publisher.
func (t *Tee) Close() error {
	var firstErr error
	for _, p := range t.publishers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
