package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trafficlens/trafficlens/pkg/logging"
)

// Manager runs registered cleanup functions in reverse order
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	once          sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Shutdown executes all registered shutdown functions once and returns the
// first error.
func (m *Manager) Shutdown() error {
	var firstErr error
	m.once.Do(func() {
		m.mu.Lock()
		funcs := append([]namedFunc(nil), m.shutdownFuncs...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i].fn(ctx); err != nil {
				m.logger.Warn("Shutdown step failed", map[string]interface{}{
					"step":  funcs[i].name,
					"error": err.Error(),
				})
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", funcs[i].name, err)
				}
				continue
			}
			m.logger.Debug("Shutdown step done", map[string]interface{}{"step": funcs[i].name})
		}
	})
	return firstErr
}

// StopHTTPServer creates a shutdown function for an http.Server-like value
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
