// Package taskq is a small bounded-concurrency task queue. Callers add
// tasks and get a handle resolving to the task's value or error; queued
// tasks can be dropped wholesale when their work became pointless (user
// scrolled away, session ended).
package taskq

import (
	"context"
	"fmt"
	"sync"

	"github.com/avelt/photovault/internal/common"
)

// Task is one unit of queued work.
type Task[T any] func(ctx context.Context) (T, error)

// Handle resolves once its task finished, was cancelled or was cleared.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newHandle[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

func (h *Handle[T]) resolve(val T, err error) {
	h.val = val
	h.err = err
	close(h.done)
}

// Wait blocks until the task resolved or ctx expired.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
	}
}

type item[T any] struct {
	ctx    context.Context
	fn     Task[T]
	handle *Handle[T]
}

// Queue runs tasks on a fixed number of workers, FIFO by default.
type Queue[T any] struct {
	name string
	lifo bool

	// onError observes task failures queue-wide, e.g. to abort a sync pass
	// on the first session-expired error.
	onError func(error)

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*item[T]
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithLIFO makes the queue serve the most recently added task first. Useful
// for thumbnail loads where the newest request is the one on screen.
func WithLIFO[T any]() Option[T] {
	return func(q *Queue[T]) { q.lifo = true }
}

// WithErrorCallback registers a queue-level observer of task errors.
func WithErrorCallback[T any](cb func(error)) Option[T] {
	return func(q *Queue[T]) { q.onError = cb }
}

// New starts a queue with the given worker count.
func New[T any](name string, concurrency int, opts ...Option[T]) *Queue[T] {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue[T]{name: name}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	q.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go q.worker()
	}
	return q
}

// Add enqueues a task. The task's ctx is checked again right before it
// starts, so cancelled work never runs. Adding to a closed queue resolves
// the handle immediately with ErrQueueCleared.
func (q *Queue[T]) Add(ctx context.Context, fn Task[T]) *Handle[T] {
	h := newHandle[T]()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero T
		h.resolve(zero, fmt.Errorf("queue %s: %w", q.name, common.ErrQueueCleared))
		return h
	}
	q.pending = append(q.pending, &item[T]{ctx: ctx, fn: fn, handle: h})
	q.cond.Signal()
	q.mu.Unlock()
	return h
}

// Clear drops every queued-but-unstarted task; their handles resolve with
// an error wrapping ErrQueueCleared and the given reason. Running tasks are
// unaffected.
func (q *Queue[T]) Clear(reason error) {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	var zero T
	for _, it := range dropped {
		it.handle.resolve(zero, fmt.Errorf("queue %s cleared (%v): %w", q.name, reason, common.ErrQueueCleared))
	}
}

// Close clears pending tasks and stops the workers once running tasks
// finish.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	var zero T
	for _, it := range dropped {
		it.handle.resolve(zero, fmt.Errorf("queue %s closed: %w", q.name, common.ErrQueueCleared))
	}
	q.wg.Wait()
}

// Len reports how many tasks are queued but not yet started.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[T]) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		var it *item[T]
		if q.lifo {
			it = q.pending[len(q.pending)-1]
			q.pending = q.pending[:len(q.pending)-1]
		} else {
			it = q.pending[0]
			q.pending = q.pending[1:]
		}
		q.mu.Unlock()
		q.run(it)
	}
}

func (q *Queue[T]) run(it *item[T]) {
	if err := it.ctx.Err(); err != nil {
		var zero T
		it.handle.resolve(zero, fmt.Errorf("%w: %w", common.ErrCancelled, err))
		return
	}
	val, err := it.fn(it.ctx)
	if err != nil && q.onError != nil {
		q.onError(err)
	}
	it.handle.resolve(val, err)
}
