package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the client-side Prometheus instruments.
// All recording methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	feedState        *prometheus.GaugeVec
	feedConnects     prometheus.Counter
	feedReconnects   prometheus.Counter
	snapshotsApplied prometheus.Counter
	messagesDropped  *prometheus.CounterVec
	jobsTracked      prometheus.Gauge

	streamFrames  prometheus.Counter
	streamDropped prometheus.Counter
	streamErrors  prometheus.Counter

	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter

	notifications *prometheus.CounterVec
}

// feedStates lists every value the feed state gauge can take
var feedStates = []string{"connecting", "connected", "disconnected", "error"}

// New creates the instruments on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		feedState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trafficlens_feed_state",
				Help: "Current job feed connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		feedConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_feed_connects_total",
			Help: "Successful job feed socket openings",
		}),
		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_feed_reconnects_total",
			Help: "Reconnect attempts scheduled after the job feed dropped",
		}),
		snapshotsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_feed_snapshots_applied_total",
			Help: "Job snapshots applied to the job store",
		}),
		messagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trafficlens_feed_messages_dropped_total",
				Help: "Job feed messages dropped without touching state",
			},
			[]string{"reason"},
		),
		jobsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficlens_jobs_tracked",
			Help: "Jobs in the most recent snapshot",
		}),
		streamFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_stream_frames_total",
			Help: "Video frames received on stream sessions",
		}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_stream_frames_dropped_total",
			Help: "Stream messages ignored or undecodable",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_stream_errors_total",
			Help: "Stream sessions that ended with a socket error",
		}),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trafficlens_uploads_total",
				Help: "Files processed by the upload controller by final status",
			},
			[]string{"status"},
		),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlens_upload_bytes_total",
			Help: "Bytes sent to the upload endpoint",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trafficlens_notifications_total",
				Help: "Notifications shown by type",
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.feedState,
		m.feedConnects,
		m.feedReconnects,
		m.snapshotsApplied,
		m.messagesDropped,
		m.jobsTracked,
		m.streamFrames,
		m.streamDropped,
		m.streamErrors,
		m.uploads,
		m.uploadBytes,
		m.notifications,
	)

	return m
}

// Registry exposes the private registry (tests, custom exporters)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetFeedState marks state as the single active feed state
func (m *Metrics) SetFeedState(state string) {
	if m == nil {
		return
	}
	for _, s := range feedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.feedState.WithLabelValues(s).Set(v)
	}
}

// FeedConnected counts a successful socket opening
func (m *Metrics) FeedConnected() {
	if m == nil {
		return
	}
	m.feedConnects.Inc()
}

// FeedReconnectScheduled counts a scheduled reconnect
func (m *Metrics) FeedReconnectScheduled() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

// SnapshotApplied counts a snapshot and records its size
func (m *Metrics) SnapshotApplied(jobs int) {
	if m == nil {
		return
	}
	m.snapshotsApplied.Inc()
	m.jobsTracked.Set(float64(jobs))
}

// MessageDropped counts a feed message discarded for reason
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// FrameReceived counts a decoded stream frame
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.streamFrames.Inc()
}

// FrameDropped counts an ignored or undecodable stream message
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.streamDropped.Inc()
}

// StreamError counts a stream session that ended on error
func (m *Metrics) StreamError() {
	if m == nil {
		return
	}
	m.streamErrors.Inc()
}

// UploadFinished counts a file by its final upload status
func (m *Metrics) UploadFinished(status string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(status).Inc()
}

// UploadBytes adds n sent bytes
func (m *Metrics) UploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

// NotificationShown counts a notification of the given type
func (m *Metrics) NotificationShown(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus HTTP handler for the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Router builds the metrics/health router
func (m *Metrics) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods("GET")
	return r
}

// WriteText writes every gathered metric family in the Prometheus text format
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Server serves the metrics router until Shutdown is called
type Server struct {
	srv *http.Server
}

// NewServer creates an HTTP server for m on addr
func NewServer(addr string, m *Metrics) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      m.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves in a goroutine; listen errors are reported on the returned channel
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
