package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/trafficlens/trafficlens/internal/config"
	"github.com/trafficlens/trafficlens/pkg/api"
	"github.com/trafficlens/trafficlens/pkg/logging"
	"github.com/trafficlens/trafficlens/pkg/metrics"
	"github.com/trafficlens/trafficlens/pkg/notify"
	"github.com/trafficlens/trafficlens/pkg/shutdown"
	"github.com/trafficlens/trafficlens/pkg/store"
	"github.com/trafficlens/trafficlens/pkg/tlsconfig"
	"github.com/trafficlens/trafficlens/pkg/tracing"
	"github.com/trafficlens/trafficlens/pkg/wsconn"
)

// Version is stamped at build time
var Version = "dev"

// app holds everything a command needs, built from the loaded config
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	tracer     *tracing.Provider
	tls        *tls.Config
	client     *api.Client
	dialer     wsconn.Dialer
	dispatcher *notify.Dispatcher
	shutdown   *shutdown.Manager
	videos     store.VideoStore
}

// newApp wires the ambient stack. component names the log file when
// log_file is configured.
func newApp(component string) (*app, error) {
	cfg := appConfig
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	logger, err := buildLogger(cfg, component)
	if err != nil {
		return nil, err
	}

	tlsCfg, err := tlsconfig.LoadClientTLSConfig(tlsconfig.Options{
		CAFile:             cfg.TLS.CAFile,
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "trafficlens",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without export", map[string]interface{}{"error": err.Error()})
		tracer = tracing.NewNoop()
	}

	m := metrics.New()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		tracer:   tracer,
		tls:      tlsCfg,
		shutdown: shutdown.New(10*time.Second, logger),
	}

	clientOpts := []api.Option{
		api.WithTimeout(cfg.RequestTimeout),
		api.WithUploadTimeout(cfg.UploadTimeout),
		api.WithLogger(logger),
		api.WithTracer(tracer),
	}
	dialOpts := []wsconn.DialerOption{}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, api.WithAPIKey(cfg.APIKey))
		dialOpts = append(dialOpts, wsconn.WithAPIKey(cfg.APIKey))
	}
	if tlsCfg != nil {
		clientOpts = append(clientOpts, api.WithTLSConfig(tlsCfg))
		dialOpts = append(dialOpts, wsconn.WithTLSConfig(tlsCfg))
	}
	a.client = api.NewClient(cfg.APIURL, clientOpts...)
	a.dialer = wsconn.NewWebsocketDialer(dialOpts...)
	a.dispatcher = notify.NewDispatcher(
		notify.WithDefaultDuration(cfg.NotificationDuration),
		notify.WithMetrics(m),
		notify.WithLogger(logger),
	)

	a.shutdown.Register("logger", func(context.Context) error { return logger.Close() })
	a.shutdown.Register("tracer", tracer.Shutdown)
	return a, nil
}

func buildLogger(cfg *config.Config, component string) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.LogLevel)
	jsonFormat := cfg.LogFormat == "json"
	if cfg.LogFile == "" {
		return logging.NewLogger(level, jsonFormat), nil
	}
	dir := filepath.Dir(cfg.LogFile)
	name := strings.TrimSuffix(filepath.Base(cfg.LogFile), filepath.Ext(cfg.LogFile))
	if name == "" || name == "." {
		name = component
	}
	return logging.NewFileLogger(dir, name, level, jsonFormat)
}

// videoStore opens the metadata store on first use
func (a *app) videoStore() (store.VideoStore, error) {
	if a.videos != nil {
		return a.videos, nil
	}
	s, err := store.NewStore(store.Config{
		Type: a.cfg.Database.Type,
		DSN:  a.cfg.Database.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open video store: %w", err)
	}
	a.videos = s
	a.shutdown.Register("video store", shutdown.CloseResource(s))
	return s, nil
}

// startMetrics serves /metrics and /healthz on addr until shutdown
func (a *app) startMetrics(addr string) {
	if addr == "" {
		return
	}
	srv := metrics.NewServer(addr, a.metrics)
	errc := srv.Start()
	go func() {
		if err, ok := <-errc; ok && err != nil {
			a.logger.Error("Metrics server failed", map[string]interface{}{"addr": addr, "error": err.Error()})
		}
	}()
	a.shutdown.Register("metrics server", srv.Shutdown)
	a.logger.Info("Metrics server listening", map[string]interface{}{"addr": addr})
}

func (a *app) close() {
	if err := a.shutdown.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
	}
}

var (
	bannerSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	bannerError   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	bannerWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	bannerInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

func bannerStyle(kind notify.Type) lipgloss.Style {
	switch kind {
	case notify.TypeSuccess:
		return bannerSuccess
	case notify.TypeError:
		return bannerError
	case notify.TypeWarning:
		return bannerWarning
	default:
		return bannerInfo
	}
}

// printNotifications writes every shown notification to w as one line.
// Used by the non-interactive commands.
func (a *app) printNotifications(w io.Writer) (unsubscribe func()) {
	return a.dispatcher.Subscribe(func(n notify.Notification) {
		if !n.Show {
			return
		}
		fmt.Fprintln(w, bannerStyle(n.Type).Render(fmt.Sprintf("[%s] %s", n.Type, n.Message)))
	})
}
