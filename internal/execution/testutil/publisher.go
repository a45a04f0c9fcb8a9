package testutil

import (
	"context"
	"sync"

	"github.com/miniflow-io/miniflow/internal/shared/events"
)

// CapturePublisher records every published event for assertions.
//
// Usage:
//
//	pub := &testutil.CapturePublisher{}
//	...
//	require.Len(t, pub.OfType("execution.started"), 1)
type CapturePublisher struct {
	mu     sync.Mutex
	events []*events.Event
	closed bool

	// Err, when set, is returned by Publish. Publishing is best effort
	// in the engine, so a failing publisher must never fail a launch.
	Err error
}

// Publish records the event, or returns Err when set.
func (p *CapturePublisher) Publish(ctx context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, event)
	return nil
}

// Close marks the publisher closed.
func (p *CapturePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Events returns a copy of everything published so far.
func (p *CapturePublisher) Events() []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*events.Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType returns the published events with the given event type, in
// publish order.
func (p *CapturePublisher) OfType(eventType string) []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []*events.Event
	for _, e := range p.events {
		if e.EventType == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

// Types returns the event type of every published event, in order.
func (p *CapturePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.EventType
	}
	return types
}

var _ events.Publisher = (*CapturePublisher)(nil)
