package testsupport

import (
	"sync"

	"github.com/trafficlens/trafficlens/pkg/notify"
)

// EventRecorder is a notify.Sink that keeps every event
type EventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

// Emit implements notify.Sink
func (r *EventRecorder) Emit(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of what was recorded
func (r *EventRecorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// Messages returns the recorded messages in order
func (r *EventRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Message)
	}
	return out
}

// Count returns how many events of type kind were recorded
func (r *EventRecorder) Count(kind notify.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == kind {
			n++
		}
	}
	return n
}
