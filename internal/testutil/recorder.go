package testutil

import (
	"context"
	"sync"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
)

// Recorder is an events.Publisher that keeps everything it is given.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *Recorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []events.Type {
	var out []events.Type
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}
