package upload

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trafficlens/trafficlens/pkg/notify"
)

// Guard protects an upload batch against accidental termination
type Guard interface {
	// Arm installs the guard; cancel aborts the batch
	Arm(cancel func())
	// Disarm removes the guard
	Disarm()
}

// DefaultConfirmWindow is how long a second interrupt counts as confirmation
const DefaultConfirmWindow = 3 * time.Second

// SignalGuard intercepts SIGINT/SIGTERM while armed. The first signal only
// warns; a second one within the confirm window cancels the batch.
type SignalGuard struct {
	window      time.Duration
	sink        notify.Sink
	subscribe   func(chan<- os.Signal, ...os.Signal)
	unsubscribe func(chan<- os.Signal)
	now         func() time.Time

	mu   sync.Mutex
	sigs chan os.Signal
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSignalGuard creates a guard that reports through sink
func NewSignalGuard(window time.Duration, sink notify.Sink) *SignalGuard {
	if window <= 0 {
		window = DefaultConfirmWindow
	}
	return &SignalGuard{
		window:      window,
		sink:        notify.OrDiscard(sink),
		subscribe:   signal.Notify,
		unsubscribe: signal.Stop,
		now:         time.Now,
	}
}

// Arm starts intercepting signals. Arming an armed guard does nothing.
func (g *SignalGuard) Arm(cancel func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sigs != nil {
		return
	}
	g.sigs = make(chan os.Signal, 2)
	g.done = make(chan struct{})
	g.subscribe(g.sigs, os.Interrupt, syscall.SIGTERM)

	g.wg.Add(1)
	go g.loop(g.sigs, g.done, cancel)
}

// Disarm stops intercepting and restores default signal handling
func (g *SignalGuard) Disarm() {
	g.mu.Lock()
	if g.sigs == nil {
		g.mu.Unlock()
		return
	}
	g.unsubscribe(g.sigs)
	close(g.done)
	g.sigs = nil
	g.done = nil
	g.mu.Unlock()

	g.wg.Wait()
}

// Armed reports whether the guard is installed
func (g *SignalGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sigs != nil
}

func (g *SignalGuard) loop(sigs <-chan os.Signal, done <-chan struct{}, cancel func()) {
	defer g.wg.Done()
	var first time.Time
	for {
		select {
		case <-done:
			return
		case <-sigs:
			now := g.now()
			if !first.IsZero() && now.Sub(first) <= g.window {
				g.sink.Emit(notify.Event{
					Source:  "upload",
					Message: "Cancelling upload...",
					Type:    notify.TypeWarning,
				})
				cancel()
				first = time.Time{}
				continue
			}
			first = now
			g.sink.Emit(notify.Event{
				Source:  "upload",
				Message: "Upload in progress. Press Ctrl+C again to cancel it.",
				Type:    notify.TypeWarning,
			})
		}
	}
}
