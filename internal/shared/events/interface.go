package events

import (
	"context"
	"sync"
)

// Publisher appends domain events to a stream store.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Health(ctx context.Context) error
	Close() error
}

// Noop discards events. Used when KurrentDB is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Health(context.Context) error         { return nil }
func (Noop) Close() error                         { return nil }

// Recorder keeps published events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Health(context.Context) error { return nil }
func (r *Recorder) Close() error                 { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every published event in order.
func (r *Recorder) Types() []string {
	var types []string
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}
