package taskqueue

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	// DefaultQueueDepth bounds each pool's wait queue; submissions
	// beyond it fail fast with ErrPoolSaturated.
	DefaultQueueDepth = 64

	// DefaultJobDeadline bounds how long a dispatched job may run
	// before its handle rejects with ErrJobTimeout.
	DefaultJobDeadline = 30 * time.Second
)

// Config configures a Manager. Zero values are replaced with
// defaults in NewManager.
type Config struct {
	Logger *slog.Logger

	// Mux is the named-handler registry workers resolve against
	// during their init handshake.
	Mux *Mux

	// QueueDepth is the per-pool wait queue bound.
	QueueDepth int

	// JobDeadline is the per-request deadline.
	JobDeadline time.Duration
}

// Manager owns the pool registry: one pool per registered job type,
// each with its own workers, wait queue and correlation state.
// Submit never blocks; results arrive through a ResultHandle.
type Manager struct {
	mux *Mux
	log *slog.Logger

	queueDepth int
	deadline   time.Duration

	mu     sync.RWMutex
	pools  map[string]*pool
	closed bool
}

func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if cfg.Mux == nil {
		cfg.Mux = NewMux()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = DefaultJobDeadline
	}

	return &Manager{
		mux:        cfg.Mux,
		log:        cfg.Logger,
		queueDepth: cfg.QueueDepth,
		deadline:   cfg.JobDeadline,
		pools:      make(map[string]*pool),
	}
}

// Mux returns the handler registry used by this manager's pools.
func (m *Manager) Mux() *Mux {
	return m.mux
}

// Register creates the pool for jobType bound to the named handler,
// with at most capacity workers, and eagerly spawns the first worker.
// A failed initial spawn rolls the registration back: no partial pool
// is left behind. Registering an existing job type fails with
// ErrAlreadyRegistered and leaves the existing pool untouched.
func (m *Manager) Register(jobType, handlerName string, capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("%w: capacity %d for %q", ErrInvalidConfiguration, capacity, jobType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.pools[jobType]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, jobType)
	}

	p := newPool(jobType, handlerName, capacity, m.queueDepth, m.deadline, m.mux, m.log)
	if _, err := p.spawn(); err != nil {
		p.close()
		return err
	}

	m.pools[jobType] = p
	m.log.Info("registered job type", "job_type", jobType, "handler", handlerName, "capacity", capacity)
	return nil
}

// Spawn adds one worker to jobType's pool. It returns false with a
// nil error when the pool is already at its capacity bound.
func (m *Manager) Spawn(jobType string) (bool, error) {
	p, err := m.pool(jobType)
	if err != nil {
		return false, err
	}
	return p.spawn()
}

// Terminate retires one worker from jobType's pool, preferring the
// most recently spawned idle one. It is a no-op when the job type is
// unregistered or the pool is at its floor of one worker.
func (m *Manager) Terminate(jobType string) {
	p, err := m.pool(jobType)
	if err != nil {
		return
	}
	p.terminate()
}

// Submit routes payload to jobType's pool and returns immediately;
// the job's terminal outcome is delivered through the handle.
func (m *Manager) Submit(jobType string, payload any) (*ResultHandle, error) {
	p, err := m.pool(jobType)
	if err != nil {
		return nil, err
	}
	return p.submit(payload)
}

// WorkerCount reports the pool size for jobType, 0 when unregistered.
func (m *Manager) WorkerCount(jobType string) int {
	p, err := m.pool(jobType)
	if err != nil {
		return 0
	}
	return p.workerCount()
}

// CanSpawn reports whether jobType's pool is below its capacity bound.
func (m *Manager) CanSpawn(jobType string) (bool, error) {
	p, err := m.pool(jobType)
	if err != nil {
		return false, err
	}
	return p.canSpawn(), nil
}

// Health reports a snapshot of jobType's pool, including whether a
// respawn back to the floor has failed.
func (m *Manager) Health(jobType string) (PoolHealth, error) {
	p, err := m.pool(jobType)
	if err != nil {
		return PoolHealth{}, err
	}
	return p.health(), nil
}

// Close tears down every pool: queued requests are rejected, in-flight
// requests are rejected and all workers stop. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for jobType, p := range m.pools {
		p.close()
		delete(m.pools, jobType)
	}

	m.log.Info("manager closed")
	return nil
}

func (m *Manager) pool(jobType string) (*pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	p, ok := m.pools[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	return p, nil
}
