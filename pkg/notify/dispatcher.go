package notify

import (
	"sync"
	"time"

	"github.com/trafficlens/trafficlens/pkg/logging"
	"github.com/trafficlens/trafficlens/pkg/metrics"
)

// DefaultDuration is how long a notification stays visible
const DefaultDuration = 5 * time.Second

// Notification is the state of the single notification slot
type Notification struct {
	ID       uint64
	Show     bool
	Message  string
	Type     Type
	Duration time.Duration
}

// Timer is the part of *time.Timer the dispatcher needs
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Dispatcher keeps at most one notification visible at a time
type Dispatcher struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	current   Notification
	timer     Timer
	seq       uint64
	observers map[uint64]func(Notification)
	nextObs   uint64

	defaultDuration time.Duration
	afterFunc       AfterFunc
	metrics         *metrics.Metrics
	logger          *logging.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDefaultDuration overrides DefaultDuration
func WithDefaultDuration(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.defaultDuration = d
		}
	}
}

// WithAfterFunc replaces time.AfterFunc (tests)
func WithAfterFunc(fn AfterFunc) Option {
	return func(disp *Dispatcher) {
		disp.afterFunc = fn
	}
}

// WithMetrics records shown notifications
func WithMetrics(m *metrics.Metrics) Option {
	return func(disp *Dispatcher) {
		disp.metrics = m
	}
}

// WithLogger mirrors notifications into the log
func WithLogger(l *logging.Logger) Option {
	return func(disp *Dispatcher) {
		disp.logger = l
	}
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		observers:       make(map[uint64]func(Notification)),
		defaultDuration: DefaultDuration,
		afterFunc:       realAfterFunc,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Show replaces whatever is visible with message. The previous auto-hide
// timer is stopped before the new one is armed, so exactly one is pending.
func (d *Dispatcher) Show(message string, kind Type, duration time.Duration) {
	if duration <= 0 {
		duration = d.defaultDuration
	}
	if kind == "" {
		kind = TypeInfo
	}

	d.mu.Lock()
	d.stopTimerLocked()
	d.seq++
	id := d.seq
	d.current = Notification{
		ID:       id,
		Show:     true,
		Message:  message,
		Type:     kind,
		Duration: duration,
	}
	d.timer = d.afterFunc(duration, func() { d.expire(id) })
	state := d.current
	d.deliverLocked(state)

	d.metrics.NotificationShown(string(kind))
	d.logger.Debug("Notification shown", map[string]interface{}{
		"type":    string(kind),
		"message": message,
	})
}

// Emit implements Sink
func (d *Dispatcher) Emit(e Event) {
	d.Show(e.Message, e.Type, e.Duration)
}

// Dismiss hides the current notification and cancels its timer
func (d *Dispatcher) Dismiss() {
	d.mu.Lock()
	d.stopTimerLocked()
	if !d.current.Show {
		d.mu.Unlock()
		return
	}
	d.current.Show = false
	d.deliverLocked(d.current)
}

// expire runs on the timer goroutine; stale timers are ignored
func (d *Dispatcher) expire(id uint64) {
	d.mu.Lock()
	if d.current.ID != id || !d.current.Show {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.current.Show = false
	d.deliverLocked(d.current)
}

// Current returns the notification slot
func (d *Dispatcher) Current() Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Subscribe registers fn for every state change. fn must not call back
// into the dispatcher synchronously.
func (d *Dispatcher) Subscribe(fn func(Notification)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextObs++
	id := d.nextObs
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

func (d *Dispatcher) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// deliverLocked releases d.mu and delivers state to observers in order
func (d *Dispatcher) deliverLocked(state Notification) {
	observers := make([]func(Notification), 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.deliverMu.Lock()
	d.mu.Unlock()
	defer d.deliverMu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}
