// Package stream shows the live annotated frames of one job.
//
// A Session owns a second socket, independent of the job feed. Only the
// newest frame is kept; there is no buffering and no reconnect.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/trafficlens/trafficlens/pkg/errclass"
	"github.com/trafficlens/trafficlens/pkg/logging"
	"github.com/trafficlens/trafficlens/pkg/metrics"
	"github.com/trafficlens/trafficlens/pkg/models"
	"github.com/trafficlens/trafficlens/pkg/notify"
	"github.com/trafficlens/trafficlens/pkg/wsconn"
)

// Status of the stream session
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusEnded      Status = "Stream ended"
	StatusError      Status = "WebSocket error"
)

// ErrNoFrame is returned when no frame has arrived yet
var ErrNoFrame = errors.New("no frame received yet")

// Config wires a Session
type Config struct {
	BaseURL string // ws(s)://host[:port]
	Dialer  wsconn.Dialer
	Sink    notify.Sink
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Stats counts frames of the current session
type Stats struct {
	Received    uint64
	Overwritten uint64 // replaced before anyone read them
	Dropped     uint64 // undecodable
}

// Session streams frames of a single job at a time
type Session struct {
	base    string
	dialer  wsconn.Dialer
	sink    notify.Sink
	logger  *logging.Logger
	metrics *metrics.Metrics
	slot    *wsconn.Slot

	mu        sync.Mutex
	attempt   uint64
	jobID     string
	status    Status
	frame     *models.Frame
	unread    bool
	stats     Stats
	cancel    context.CancelFunc
	observers []func(models.Frame)
	wg        sync.WaitGroup
}

// New creates an idle session
func New(cfg Config) *Session {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = wsconn.NewWebsocketDialer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Session{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		dialer:  dialer,
		sink:    notify.OrDiscard(cfg.Sink),
		logger:  logger.WithField("component", "stream"),
		metrics: cfg.Metrics,
		slot:    wsconn.NewSlot("stream"),
		status:  StatusIdle,
	}
}

// URL returns the stream socket address for jobID
func (s *Session) URL(jobID string) string {
	return s.base + "/ws/video-stream/" + url.PathEscape(jobID)
}

// Open closes any current stream and dials the one for jobID
func (s *Session) Open(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	s.Close()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.jobID = jobID
	s.status = StatusConnecting
	s.stats = Stats{}
	s.cancel = cancel
	s.mu.Unlock()

	target := s.URL(jobID)
	s.logger.Info("Opening live stream", map[string]interface{}{"job_id": jobID})

	socket, err := s.dialer.Dial(runCtx, target)
	if err != nil {
		s.mu.Lock()
		current := s.attempt == attempt
		if current {
			s.status = StatusError
		}
		s.mu.Unlock()
		cancel()
		if !current || errclass.Classify(err) == errclass.ErrorTypeCancelled {
			return err
		}
		s.metrics.StreamError()
		s.logger.Warn("Live stream dial failed", map[string]interface{}{"job_id": jobID, "error": err.Error()})
		s.emitError(err)
		return fmt.Errorf("failed to open stream for job %s: %w", jobID, err)
	}

	conn := wsconn.NewConn(target, socket)
	s.mu.Lock()
	if s.attempt != attempt || runCtx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		cancel()
		return context.Canceled
	}
	s.slot.Install(conn)
	s.status = StatusStreaming
	s.wg.Add(1)
	s.mu.Unlock()

	context.AfterFunc(runCtx, func() { s.closeConn(conn) })

	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
	return nil
}

// Close tears down the current stream. The slot and the last frame are
// cleared under the lock frame updates take, so the old socket cannot
// change anything afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.attempt++
	wasOpen := s.slot.Occupied()
	s.slot.Close()
	s.frame = nil
	s.unread = false
	if s.status != StatusIdle {
		s.status = StatusIdle
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasOpen {
		s.logger.Info("Live stream closed")
	}
}

// closeConn closes conn if it still owns the slot
func (s *Session) closeConn(conn *wsconn.Conn) {
	s.mu.Lock()
	if s.slot.Release(conn) {
		s.frame = nil
		s.status = StatusIdle
	}
	s.mu.Unlock()
	conn.Close()
}

// Wait blocks until the reader goroutines have exited
func (s *Session) Wait() {
	s.wg.Wait()
}

// Frame returns the newest frame
func (s *Session) Frame() (models.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return models.Frame{}, false
	}
	s.unread = false
	return *s.frame, true
}

// Status returns the session status
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// JobID returns the job of the current or last session
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// Stats returns the frame counters of the current session
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// OnFrame registers fn for every accepted frame. fn must not block.
func (s *Session) OnFrame(fn func(models.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// WriteLatest writes the newest frame to path, replacing it atomically
func (s *Session) WriteLatest(path string) error {
	frame, ok := s.Frame()
	if !ok {
		return ErrNoFrame
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".frame-*.jpg")
	if err != nil {
		return fmt.Errorf("failed to create temp frame file: %w", err)
	}
	if _, err := tmp.Write(frame.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close frame file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (s *Session) readLoop(conn *wsconn.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.onClose(conn, err)
			return
		}
		s.handleMessage(conn, data)
	}
}

func (s *Session) handleMessage(conn *wsconn.Conn, data []byte) {
	var msg models.StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.drop(conn, "malformed", err)
		return
	}
	if msg.Type != models.StreamMessageFrame {
		return
	}
	jpeg, err := base64.StdEncoding.DecodeString(msg.FrameData)
	if err != nil || len(jpeg) == 0 {
		s.drop(conn, "bad frame data", err)
		return
	}

	s.mu.Lock()
	if !s.slot.IsCurrent(conn) {
		s.mu.Unlock()
		return
	}
	if s.frame != nil && s.unread {
		s.stats.Overwritten++
	}
	s.stats.Received++
	frame := models.Frame{
		JobID:      s.jobID,
		Data:       jpeg,
		Sequence:   s.stats.Received,
		ReceivedAt: time.Now(),
	}
	s.frame = &frame
	s.unread = true
	observers := append([]func(models.Frame){}, s.observers...)
	s.mu.Unlock()

	s.metrics.FrameReceived()
	for _, fn := range observers {
		fn(frame)
	}
}

func (s *Session) drop(conn *wsconn.Conn, reason string, err error) {
	s.mu.Lock()
	current := s.slot.IsCurrent(conn)
	if current {
		s.stats.Dropped++
	}
	s.mu.Unlock()
	if !current {
		return
	}
	s.metrics.FrameDropped()
	fields := map[string]interface{}{"reason": reason}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Debug("Dropping stream message", fields)
}

func (s *Session) onClose(conn *wsconn.Conn, err error) {
	s.mu.Lock()
	if !s.slot.Release(conn) {
		s.mu.Unlock()
		conn.Close()
		return
	}
	normal := wsconn.IsNormalClose(err)
	if normal {
		s.status = StatusEnded
	} else {
		s.status = StatusError
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	conn.Close()
	if cancel != nil {
		cancel()
	}

	if normal {
		s.logger.Info("Live stream ended by server")
		return
	}
	s.metrics.StreamError()
	s.logger.Warn("Live stream error", map[string]interface{}{"error": err.Error()})
	s.emitError(err)
}

func (s *Session) emitError(err error) {
	s.sink.Emit(notify.Event{
		Source:  "stream",
		Key:     "stream.error",
		Message: "Live stream unavailable: " + errclass.Message(err),
		Type:    notify.TypeError,
	})
}
