// Package worker runs CPU-bound work on a fixed-size pool of goroutines
// and recovers from worker crashes by replacing the whole pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/revscore/internal/adapters/mq/queue"
	"github.com/okian/revscore/pkg/logger"
)

const maxDefaultSize = 32

// DefaultSize returns min(32, NumCPU+4).
func DefaultSize() int {
	return min(maxDefaultSize, runtime.NumCPU()+4)
}

var poolSeq atomic.Uint64

type result struct {
	value any
	err   error
}

// Pool is a fixed set of workers reading from one queue. A task that
// panics kills its worker and marks the pool broken: the remaining workers
// stop and every task still waiting on the pool fails with ErrBrokenPool.
// A broken pool is never repaired; Manager replaces it.
type Pool struct {
	id     uint64
	size   int
	queue  *queue.InMemoryQueue
	logger logger.Logger

	broken    chan struct{}
	breakOnce sync.Once
	cause     error

	wg sync.WaitGroup
}

// NewPool starts size workers. A size below one uses DefaultSize.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = DefaultSize()
	}
	s := newSettings(opts)
	var qopts []queue.Option
	if s.queueCapacity > 0 {
		qopts = append(qopts, queue.WithCapacity(s.queueCapacity))
	}
	p := &Pool{
		id:     poolSeq.Add(1),
		size:   size,
		queue:  queue.NewInMemoryQueue(qopts...),
		broken: make(chan struct{}),
	}
	p.logger = s.logger.With(logger.Int64("pool", int64(p.id))) //nolint:gosec // sequence fits in int64
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.work("worker-" + strconv.Itoa(i))
	}
	return p
}

// Size returns the number of workers the pool was created with.
func (p *Pool) Size() int { return p.size }

// Broken reports whether a worker has crashed.
func (p *Pool) Broken() bool {
	select {
	case <-p.broken:
		return true
	default:
		return false
	}
}

func (p *Pool) work(name string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.broken:
			return
		case t, ok := <-p.queue.Dequeue():
			if !ok {
				return
			}
			if p.Broken() {
				return
			}
			if crashed := p.run(name, t); crashed {
				return
			}
		}
	}
}

// run executes one task. A panic is reported as a crash of this worker.
func (p *Pool) run(name string, t queue.Task) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			p.markBroken(fmt.Errorf("%w: %s crashed: %v", ErrBrokenPool, name, r), debug.Stack())
			crashed = true
		}
	}()
	t.Run()
	return false
}

func (p *Pool) markBroken(cause error, stack []byte) {
	p.breakOnce.Do(func() {
		p.cause = cause
		close(p.broken)
		p.logger.Error(context.Background(), "worker crashed, pool is broken",
			logger.Error(cause),
			logger.String("stack", string(stack)),
		)
	})
}

// Submit queues fn and waits for its result. It fails with ErrBrokenPool
// when the pool breaks before fn returns. When ctx ends first the task is
// abandoned, not cancelled: it still runs to completion on its worker.
func (p *Pool) Submit(ctx context.Context, fn func() (any, error)) (any, error) {
	if p.Broken() {
		return nil, p.brokenErr()
	}
	done := make(chan result, 1)
	task := queue.Task{Run: func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		if p.Broken() {
			return nil, p.brokenErr()
		}
		if errors.Is(err, queue.ErrClosed) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-p.broken:
		return nil, p.brokenErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) brokenErr() error {
	<-p.broken
	return p.cause
}

// Shutdown stops accepting tasks and waits for the workers to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	_ = p.queue.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// shutdownAsync releases a pool without waiting for its workers.
func (p *Pool) shutdownAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}()
}
