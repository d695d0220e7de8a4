package cleanup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/logging"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/store"
)

// Config defines the pending-order expiry policy
type Config struct {
	Enabled      bool
	AgeThreshold time.Duration // pending orders older than this are reclaimed
	PollInterval time.Duration // wait between the end of one cycle and the next
}

// DefaultConfig returns the default expiry policy
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		AgeThreshold: 30 * time.Minute,
		PollInterval: 5 * time.Minute,
	}
}

// UnitOfWorkFactory opens a fresh unit of work for each cycle
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (store.UnitOfWork, error)
}

// Observer is notified after every cycle
type Observer interface {
	CycleCompleted(deleted int, duration time.Duration, err error)
}

// Stats tracks reconciliation cycles
type Stats struct {
	LastCycleTime     time.Time
	LastCycleDuration time.Duration
	LastDeleted       int
	LastError         string
	TotalDeleted      int64
	TotalCycles       int64
	FailedCycles      int64
}

// Manager periodically deletes pending orders that were never confirmed.
// The first cycle runs as soon as the loop starts; a failed cycle is logged
// and the loop carries on after the regular wait.
type Manager struct {
	config   Config
	uows     UnitOfWorkFactory
	logger   *logging.Logger
	observer Observer

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
	cycle int64
}

// NewManager creates a new reconciliation manager. Non-positive durations
// fall back to the defaults.
func NewManager(config Config, uows UnitOfWorkFactory, logger *logging.Logger) *Manager {
	def := DefaultConfig()
	if config.AgeThreshold <= 0 {
		config.AgeThreshold = def.AgeThreshold
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		config: config,
		uows:   uows,
		logger: logger.WithComponent("reconciliation"),
		now:    time.Now,
		wait:   sleepOrDone,
	}
}

// SetObserver registers a cycle observer. Call before Run.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Run executes cycles until ctx is cancelled. It always returns nil; cycle
// failures never terminate the loop.
func (m *Manager) Run(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Info("Reconciliation disabled")
		return nil
	}

	m.logger.Info("Starting reconciliation", logging.Fields{
		"age_threshold": m.config.AgeThreshold.String(),
		"interval":      m.config.PollInterval.String(),
	})

	for {
		if ctx.Err() != nil {
			break
		}
		m.RunCycle(ctx)
		if !m.wait(ctx, m.config.PollInterval) {
			break
		}
	}

	m.logger.Info("Reconciliation stopped")
	return nil
}

// Start runs the loop in the background until Stop is called
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Run(ctx)
	}()
}

// Stop signals the loop and waits for it to exit
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// RunCycle performs a single reconciliation cycle and returns the number
// of orders deleted. Errors are logged and recorded in the stats.
func (m *Manager) RunCycle(ctx context.Context) (int, error) {
	start := m.now()
	m.mu.Lock()
	m.cycle++
	cycle := m.cycle
	m.mu.Unlock()

	deleted, err := m.safeReclaim(ctx, start.Add(-m.config.AgeThreshold))
	duration := m.now().Sub(start)

	if err != nil {
		cause := errors.Unwrap(err)
		if cause == nil {
			cause = err
		}
		fields := logging.Fields{
			"cycle": cycle,
			"error": err.Error(),
			"cause": cause.Error(),
		}
		var pe *PanicError
		if errors.As(err, &pe) {
			fields["stack"] = string(pe.Stack)
		}
		m.logger.Error("Reconciliation cycle failed", fields)
	} else if deleted > 0 {
		m.logger.Info("Reclaimed stale pending orders", logging.Fields{
			"cycle":    cycle,
			"deleted":  deleted,
			"duration": duration.String(),
		})
	} else {
		m.logger.Debug("Reconciliation cycle found nothing to reclaim", logging.Fields{
			"cycle":    cycle,
			"duration": duration.String(),
		})
	}

	m.record(start, duration, deleted, err)
	m.notify(cycle, deleted, duration, err)
	return deleted, err
}

// PanicError is a panic recovered from a reconciliation cycle
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// safeReclaim runs reclaim and turns a panic into a cycle error
func (m *Manager) safeReclaim(ctx context.Context, cutoff time.Time) (deleted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			deleted = 0
			err = fmt.Errorf("reclaim: %w", &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	return m.reclaim(ctx, cutoff)
}

func (m *Manager) notify(cycle int64, deleted int, duration time.Duration, err error) {
	if m.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Reconciliation observer panicked", logging.Fields{
				"cycle": cycle,
				"error": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
	}()
	m.observer.CycleCompleted(deleted, duration, err)
}

func (m *Manager) reclaim(ctx context.Context, cutoff time.Time) (int, error) {
	uow, err := m.uows.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	ids, err := uow.Orders().DeleteStalePendingOrders(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale pending orders: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("commit unit of work: %w", err)
	}
	return len(ids), nil
}

func (m *Manager) record(start time.Time, duration time.Duration, deleted int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastCycleTime = start
	m.stats.LastCycleDuration = duration
	m.stats.LastDeleted = deleted
	m.stats.TotalCycles++
	m.stats.TotalDeleted += int64(deleted)
	m.stats.LastError = ""
	if err != nil {
		m.stats.FailedCycles++
		m.stats.LastError = err.Error()
	}
}

// GetStats returns current reconciliation statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// sleepOrDone waits for d or until ctx is done. It reports whether the
// full duration elapsed.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
