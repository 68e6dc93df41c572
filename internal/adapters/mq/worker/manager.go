package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/pkg/logger"
	"github.com/okian/revscore/pkg/metrics"
)

// Manager owns the shared pool. Only the manager swaps the pool, and only
// after a crash was observed on it.
type Manager struct {
	mu     sync.RWMutex
	pool   *Pool
	size   int
	opts   []Option
	logger logger.Logger
	closed bool
}

// NewManager starts a pool of size workers. A size below one uses
// DefaultSize.
func NewManager(size int, opts ...Option) *Manager {
	if size < 1 {
		size = DefaultSize()
	}
	s := newSettings(opts)
	m := &Manager{
		size:   size,
		opts:   opts,
		logger: s.logger,
	}
	m.pool = NewPool(size, m.opts...)
	metrics.UpdateWorkerPoolSize(size)
	return m
}

// Size returns the configured pool size.
func (m *Manager) Size() int { return m.size }

func (m *Manager) current() (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrPoolClosed
	}
	return m.pool, nil
}

// Run executes fn on the pool and returns its result. Errors returned by
// fn pass through unchanged. If the pool breaks while fn is queued or
// running, the pool is recreated and the call fails with an
// errkind.ErrInference error; the next call runs on the fresh pool.
func (m *Manager) Run(ctx context.Context, fn func() (any, error)) (any, error) {
	const op = "run on worker pool"

	p, err := m.current()
	if err != nil {
		return nil, errkind.WrapKind(op, errkind.ErrInference, err)
	}

	start := time.Now()
	metrics.AddWorkerInflight(1)
	v, err := p.Submit(ctx, fn)
	metrics.AddWorkerInflight(-1)
	latency := float64(time.Since(start).Milliseconds())

	switch {
	case err == nil:
		metrics.RecordWorkerTask("ok", latency)
		return v, nil
	case errors.Is(err, ErrBrokenPool):
		metrics.RecordWorkerTask("crashed", latency)
		m.logger.Error(ctx, "task lost to a crashed worker", logger.Error(err))
		m.replace(ctx, p)
		return nil, errkind.WrapKindMsg(op, errkind.ErrInference,
			"a worker crashed while processing the request", err)
	case errors.Is(err, ErrPoolClosed):
		metrics.RecordWorkerTask("closed", latency)
		return nil, errkind.WrapKind(op, errkind.ErrInference, err)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		metrics.RecordWorkerTask("abandoned", latency)
		return nil, err
	default:
		metrics.RecordWorkerTask("error", latency)
		return nil, err
	}
}

// Run is the typed form of Manager.Run.
func Run[T any](ctx context.Context, m *Manager, fn func() (T, error)) (T, error) {
	v, err := m.Run(ctx, func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok && v != nil {
		var zero T
		return zero, fmt.Errorf("worker returned %T", v)
	}
	return t, nil
}

// Recreate shuts down the current pool and starts a new one of the same
// size.
func (m *Manager) Recreate(ctx context.Context) {
	m.mu.RLock()
	p := m.pool
	m.mu.RUnlock()
	m.replace(ctx, p)
}

// replace swaps old for a fresh pool. It is a no-op when old was already
// replaced, so concurrent callers that saw the same crash recreate once.
func (m *Manager) replace(ctx context.Context, old *Pool) {
	m.mu.Lock()
	if m.closed || m.pool != old {
		m.mu.Unlock()
		return
	}
	m.pool = NewPool(m.size, m.opts...)
	fresh := m.pool
	m.mu.Unlock()

	old.shutdownAsync()
	metrics.RecordWorkerPoolRecreation()
	metrics.UpdateWorkerPoolSize(m.size)
	m.logger.Warn(ctx, "worker pool recreated",
		logger.Int64("old_pool", int64(old.id)),   //nolint:gosec // sequence fits in int64
		logger.Int64("new_pool", int64(fresh.id)), //nolint:gosec // sequence fits in int64
		logger.Int("size", m.size),
	)
}

// Shutdown stops the pool. Later Run calls fail.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	p := m.pool
	m.mu.Unlock()
	return p.Shutdown(ctx)
}
