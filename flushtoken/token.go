package flushtoken

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrTokenClosed is returned by Submit once the token has been closed.
var ErrTokenClosed = errors.New("flushtoken: token closed")

// Token is a per-writer FIFO queue of pending memtable flushes, obtained
// exclusively at open() and drained exactly once at close() (§3
// lifecycle invariants). Submissions within one token complete in the
// order they were submitted; different tokens (different writers) run
// concurrently against the shared Pool.
//
// Wait is a barrier over every submission made before it is called, not
// over the token's entire lifetime — flush() in §4.4 is defined as
// flush_async() followed by exactly this wait.
type Token struct {
	pool *Pool

	mu       sync.Mutex
	g        *errgroup.Group
	pending  int
	lastDone chan struct{}
	closed   bool
}

// New creates a flush token bound to pool.
func New(pool *Pool) *Token {
	done := make(chan struct{})
	close(done) // so the first submission has nothing to wait on
	return &Token{pool: pool, g: &errgroup.Group{}, lastDone: done}
}

// Submit enqueues task, to run after every previously submitted task on
// this token has completed. It returns once task is queued, not once it
// has run.
func (t *Token) Submit(ctx context.Context, task func() error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTokenClosed
	}
	prevDone := t.lastDone
	myDone := make(chan struct{})
	t.lastDone = myDone
	t.pending++
	g := t.g
	t.mu.Unlock()

	g.Go(func() error {
		defer close(myDone)
		defer func() {
			t.mu.Lock()
			t.pending--
			t.mu.Unlock()
		}()

		select {
		case <-prevDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		return t.pool.Run(ctx, task)
	})
	return nil
}

// Wait blocks until every task submitted before this call returns,
// returning the first error among them (if any). Submissions made
// concurrently with or after this call are not waited on.
func (t *Token) Wait() error {
	t.mu.Lock()
	g := t.g
	t.g = &errgroup.Group{}
	t.mu.Unlock()
	return g.Wait()
}

// QueueingMemtableNum reports how many submitted flushes on this token
// have not yet completed, the stats view §3 names.
func (t *Token) QueueingMemtableNum() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Close marks the token closed; further Submit calls fail. It does not
// wait for in-flight work — callers needing that must Wait first.
func (t *Token) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
