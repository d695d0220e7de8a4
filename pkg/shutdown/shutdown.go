package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/logging"
)

// Hook is a named shutdown step
type Hook struct {
	Name string
	Fn   func(context.Context) error
}

// Manager handles graceful shutdown
type Manager struct {
	hooks   []Hook
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new shutdown manager whose Context is cancelled on SIGINT
// or SIGTERM, or when Trigger is called
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	return &Manager{
		timeout: timeout,
		logger:  logger.WithComponent("shutdown"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a shutdown step. Steps run in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, Hook{Name: name, Fn: fn})
}

// Context is cancelled once shutdown is initiated
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Trigger initiates shutdown without a signal
func (m *Manager) Trigger() {
	m.cancel()
}

// Shutdown runs every registered step within the timeout and returns the
// first error encountered. All steps run even if one fails.
func (m *Manager) Shutdown() error {
	m.cancel()

	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooks = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var first error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		m.logger.Info("Stopping "+h.Name)
		if err := h.Fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", logging.Fields{"step": h.Name, "error": err})
			if first == nil {
				first = fmt.Errorf("%s: %w", h.Name, err)
			}
		}
	}

	m.logger.Info("Graceful shutdown complete")
	return first
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
