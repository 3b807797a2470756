// Package flushtoken implements the shared, process-wide flush worker
// pool and the per-writer FlushToken that submits memtable flushes to it
// in FIFO order. Grounded on the teacher's engine.WorkerPool, generalized
// so many delta writers can share one bounded pool of flush goroutines
// the way many tablets share one memtable-flush thread pool in the
// original source.
package flushtoken

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ErrPoolClosed is returned by Submit/Run once the pool has been closed.
var ErrPoolClosed = errors.New("flushtoken: pool closed")

// Pool is a fixed-size goroutine pool executing flush work for every
// open delta writer that shares it. Its scheduling policy (plain FIFO
// channel dispatch) is out of scope for this spec's invariants — only
// its existence as a shared, bounded resource is (§1).
type Pool struct {
	workCh   chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex

	limiter *rate.Limiter
}

// PoolOption configures optional Pool behavior at construction time.
type PoolOption func(*Pool)

// WithIOLimitBytesPerSec caps the cumulative byte throughput flush work
// on this pool may report via Throttle, mirroring resource.Controller's
// ioLimiter: a process-wide token bucket that smooths bursty flush I/O
// rather than letting every writer's flush race the object store at
// once. Zero or negative leaves flush I/O unthrottled.
func WithIOLimitBytesPerSec(bytesPerSec int) PoolOption {
	return func(p *Pool) {
		if bytesPerSec <= 0 {
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	}
}

// NewPool creates a pool with numWorkers goroutines. numWorkers <= 0
// defaults to GOMAXPROCS, since flush work is CPU-bound encoding plus
// blocking object-storage uploads.
func NewPool(numWorkers int, opts ...PoolOption) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		workCh: make(chan func(), numWorkers*2),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

// Throttle accounts for n bytes of flush I/O against the pool's
// optional rate limiter, blocking until the token bucket admits them.
// A no-op when the pool was built without WithIOLimitBytesPerSec.
func (p *Pool) Throttle(ctx context.Context, n int) error {
	if p.limiter == nil || n <= 0 {
		return nil
	}
	burst := p.limiter.Burst()
	if n > burst {
		n = burst
	}
	return p.limiter.WaitN(ctx, n)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			for {
				select {
				case work, ok := <-p.workCh:
					if !ok {
						return
					}
					work()
				default:
					return
				}
			}
		case work, ok := <-p.workCh:
			if !ok {
				return
			}
			work()
		}
	}
}

// Submit enqueues task for execution on a pool worker and returns
// immediately, without waiting for it to run.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run submits fn and blocks until a pool worker has executed it,
// returning fn's error. This is the building block FlushToken uses to
// get errgroup-style result propagation while the actual work still
// runs on the bounded pool rather than on an unbounded goroutine.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := p.Submit(ctx, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the pool down, draining queued work before returning.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.submitMu.Lock()
	close(p.stopCh)
	close(p.workCh)
	p.submitMu.Unlock()
	p.wg.Wait()
}
