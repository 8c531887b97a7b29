package notify

import "time"

// Type is the visual category of a notification
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

// Event is something a component wants the user to know about
type Event struct {
	Source   string // "feed", "stream", "upload"
	Key      string // throttle key, empty means never throttled
	Message  string
	Type     Type
	Duration time.Duration // zero means the dispatcher default
}

// Sink consumes events
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// OrDiscard returns s, or Discard when s is nil
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
