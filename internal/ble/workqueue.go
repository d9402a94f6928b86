package ble

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue runs jobs one at a time, in submission order, on the goroutine that
// calls Run. It is the single execution context for stack callbacks and
// deferred work. Post and Work.Submit never block, so they are safe to call
// from button edge handlers and host stack goroutines.
type Queue struct {
	mu   sync.Mutex
	jobs []func()
	wake chan struct{}
}

// NewQueue creates an empty queue. Nothing runs until Run is called.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post appends fn to the queue.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run executes queued jobs until ctx is cancelled. Jobs still queued at
// cancellation are dropped.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	fn := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return fn, true
}

// Sync blocks until every job posted before the call has run.
func (q *Queue) Sync(ctx context.Context) error {
	done := make(chan struct{})
	q.Post(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Work is a reusable job that is queued at most once at a time. Submitting
// it while already pending is a no-op, so repeated triggers coalesce.
type Work struct {
	q       *Queue
	handler func()
	pending atomic.Bool
}

// NewWork binds handler to q.
func NewWork(q *Queue, handler func()) *Work {
	return &Work{q: q, handler: handler}
}

// Submit queues the work unless it is already pending. It reports whether
// the work was newly queued.
func (w *Work) Submit() bool {
	if !w.pending.CompareAndSwap(false, true) {
		return false
	}
	w.q.Post(func() {
		w.pending.Store(false)
		w.handler()
	})
	return true
}

// Pending reports whether the work is queued and has not started yet.
func (w *Work) Pending() bool {
	return w.pending.Load()
}
