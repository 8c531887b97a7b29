package notify

import (
	"time"

	"github.com/trafficlens/trafficlens/pkg/ratelimit"
)

// Throttle forwards at most one event per key per interval
type Throttle struct {
	next    Sink
	limiter *ratelimit.Limiter
}

// NewThrottle wraps next
func NewThrottle(next Sink, interval time.Duration) *Throttle {
	return &Throttle{
		next:    OrDiscard(next),
		limiter: ratelimit.NewLimiter(interval, 1),
	}
}

// Emit implements Sink
func (t *Throttle) Emit(e Event) {
	if e.Key != "" && !t.limiter.Allow(e.Key) {
		return
	}
	t.next.Emit(e)
}

// Reset lets the next event for key through immediately
func (t *Throttle) Reset(key string) {
	t.limiter.Reset(key)
}
