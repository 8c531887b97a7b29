// Package feed keeps the job-status WebSocket open and mirrors its snapshots
// into a jobstore.Store.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/jobstore"
	"github.com/trafficlens/trafficlens/pkg/logging"
	"github.com/trafficlens/trafficlens/pkg/metrics"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/notify"
	"github.com/trafficlens/trafficlens/pkg/wsconn"
)

// DefaultReconnectDelay is the fixed pause before re-dialing
const DefaultReconnectDelay = 3 * time.Second

// State of the job feed connection
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Status is a point-in-time view of the manager
type Status struct {
	State        State
	Error        string // classified, safe to show
	Reconnects   int
	Snapshots    int
	LastSnapshot time.Time
}

// Config wires a Manager
type Config struct {
	URL               string // full ws(s) URL of /ws/jobs
	ReconnectDelay    time.Duration
	Dialer            wsconn.Dialer
	Store             *jobstore.Store
	Sink              notify.Sink
	Logger            *logging.Logger
	Metrics           *metrics.Metrics
	NotifyTransitions bool
}

// Manager owns the single job feed socket
type Manager struct {
	url     string
	delay   time.Duration
	dialer  wsconn.Dialer
	store   *jobstore.Store
	sink    notify.Sink
	banner  *notify.Throttle
	logger  *logging.Logger
	metrics *metrics.Metrics
	notifyT bool
	slot    *wsconn.Slot

	mu              sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	stopWatch       func() bool
	shouldReconnect bool
	timer           *time.Timer
	status          Status
	observers       []func(Status)
	wg              sync.WaitGroup
}

// New creates a stopped manager
func New(cfg Config) *Manager {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = wsconn.NewWebsocketDialer()
	}
	store := cfg.Store
	if store == nil {
		store = jobstore.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	sink := notify.OrDiscard(cfg.Sink)

	return &Manager{
		url:     cfg.URL,
		delay:   delay,
		dialer:  dialer,
		store:   store,
		sink:    sink,
		banner:  notify.NewThrottle(sink, delay),
		logger:  logger.WithField("component", "feed"),
		metrics: cfg.Metrics,
		notifyT: cfg.NotifyTransitions,
		slot:    wsconn.NewSlot("jobs"),
		status:  Status{State: StateIdle},
	}
}

// Store returns the store snapshots are applied to
func (m *Manager) Store() *jobstore.Store {
	return m.store
}

// Start opens the feed and keeps it open until Stop is called or ctx ends.
// Calling Start on a running manager does nothing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.shouldReconnect = true
	m.stopWatch = context.AfterFunc(ctx, m.Stop)
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("Starting job feed", map[string]interface{}{"url": m.url})

	go func() {
		defer m.wg.Done()
		m.connect(runCtx)
	}()
}

// Stop tears the feed down. The reconnect flag is cleared before the socket
// is closed so close handlers that are already running schedule nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.shouldReconnect = false
	if m.timer != nil {
		if m.timer.Stop() {
			m.wg.Done()
		}
		m.timer = nil
	}
	cancel := m.cancel
	m.cancel = nil
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.mu.Unlock()

	cancel()
	m.slot.Close()
	m.setState(StateDisconnected, "")
	m.logger.Info("Job feed stopped")
}

// Wait blocks until every goroutine started by the manager has exited
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Status returns the current connection status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStateChange registers fn for every state change. fn runs on a manager
// goroutine and must not block.
func (m *Manager) OnStateChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// active reports whether callbacks belonging to ctx may still act
func (m *Manager) active(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(ctx)
}

func (m *Manager) activeLocked(ctx context.Context) bool {
	return ctx.Err() == nil && m.shouldReconnect && m.ctx == ctx
}

func (m *Manager) connect(ctx context.Context) {
	if !m.active(ctx) {
		return
	}
	m.setState(StateConnecting, "")

	socket, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		if !m.active(ctx) {
			return
		}
		m.logger.Warn("Job feed dial failed", map[string]interface{}{"error": err.Error()})
		m.fail(err)
		m.scheduleReconnect(ctx)
		return
	}

	conn := wsconn.NewConn(m.url, socket)
	m.mu.Lock()
	if !m.activeLocked(ctx) {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.slot.Install(conn)
	m.mu.Unlock()

	m.onOpen()
	m.readLoop(ctx, conn)
}

func (m *Manager) onOpen() {
	m.setState(StateConnected, "")
	m.metrics.FeedConnected()
	m.logger.Info("Job feed connected")
	m.banner.Emit(notify.Event{
		Source:  "feed",
		Key:     "feed.connected",
		Message: "Connected to job updates",
		Type:    notify.TypeSuccess,
	})
}

func (m *Manager) readLoop(ctx context.Context, conn *wsconn.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.onClose(ctx, conn, err)
			return
		}
		if !m.owns(ctx, conn) {
			return
		}
		m.handleMessage(data)
	}
}

func (m *Manager) owns(ctx context.Context, conn *wsconn.Conn) bool {
	return m.active(ctx) && m.slot.IsCurrent(conn)
}

func (m *Manager) onClose(ctx context.Context, conn *wsconn.Conn, err error) {
	released := m.slot.Release(conn)
	conn.Close()
	if !released || !m.active(ctx) {
		return
	}

	if wsconn.IsNormalClose(err) {
		m.logger.Info("Job feed closed by server")
		m.setState(StateDisconnected, "")
	} else {
		m.logger.Warn("Job feed connection lost", map[string]interface{}{"error": err.Error()})
		m.fail(err)
	}
	m.scheduleReconnect(ctx)
}

func (m *Manager) fail(err error) {
	msg := errclass.Message(err)
	m.setState(StateError, msg)
	m.banner.Emit(notify.Event{
		Source:  "feed",
		Key:     "feed.error",
		Message: fmt.Sprintf("Job updates unavailable. Reconnecting in %s.", m.delay),
		Type:    notify.TypeWarning,
	})
}

func (m *Manager) scheduleReconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.activeLocked(ctx) {
		return
	}
	if m.timer != nil && m.timer.Stop() {
		m.wg.Done()
	}
	m.status.Reconnects++
	m.wg.Add(1)
	m.timer = time.AfterFunc(m.delay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		if !m.activeLocked(ctx) {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		m.connect(ctx)
	})
	m.metrics.FeedReconnectScheduled()
	m.logger.Debug("Reconnect scheduled", map[string]interface{}{"delay": m.delay.String()})
}

func (m *Manager) handleMessage(data []byte) {
	var resp models.JobsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		m.metrics.MessageDropped("malformed")
		m.logger.Debug("Dropping malformed job snapshot", map[string]interface{}{"error": err.Error()})
		return
	}
	if resp.Status != models.ResponseStatusSuccess {
		m.metrics.MessageDropped("status")
		m.logger.Debug("Dropping job snapshot", map[string]interface{}{"status": resp.Status})
		return
	}

	diff, ok := m.store.Replace(&resp)
	if !ok {
		m.metrics.MessageDropped("stale")
		m.logger.Debug("Dropping stale job snapshot", map[string]interface{}{"sequence": resp.Sequence})
		return
	}
	m.metrics.SnapshotApplied(len(resp.AllJobs))

	m.mu.Lock()
	m.status.Snapshots++
	m.status.LastSnapshot = time.Now()
	m.mu.Unlock()

	if m.notifyT {
		m.announceTransitions(diff)
	}
}

func (m *Manager) announceTransitions(diff jobstore.Diff) {
	for _, tr := range diff.Transitions {
		switch tr.Job.Status {
		case models.JobStatusCompleted:
			m.sink.Emit(notify.Event{
				Source:  "feed",
				Message: fmt.Sprintf("Processing complete: %s", tr.Job.FileName),
				Type:    notify.TypeSuccess,
			})
		case models.JobStatusFailed:
			m.sink.Emit(notify.Event{
				Source:  "feed",
				Message: fmt.Sprintf("Processing failed: %s", tr.Job.FileName),
				Type:    notify.TypeError,
			})
		}
	}
}

func (m *Manager) setState(state State, errMsg string) {
	m.mu.Lock()
	if m.status.State == state && m.status.Error == errMsg {
		m.mu.Unlock()
		return
	}
	m.status.State = state
	m.status.Error = errMsg
	status := m.status
	observers := append([]func(Status){}, m.observers...)
	m.mu.Unlock()

	m.metrics.SetFeedState(string(state))
	for _, fn := range observers {
		fn(status)
	}
}
