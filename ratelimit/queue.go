package ratelimit

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Sentinel errors a ThrottlingQueue can return from Submit. These never
// terminate a run by themselves; the engine records them as failed results
// (spec §7, LimiterError).
var (
	// ErrQueueOverflow is returned when backpressure is enabled and the
	// queue is already at maxQueueSize.
	ErrQueueOverflow = errors.New("ratelimit: queue overflow")
	// ErrWaitTimeout is returned when a waiter's enqueue-age would exceed
	// maxWaitTime before it can be granted tokens.
	ErrWaitTimeout = errors.New("ratelimit: wait timeout")
	// ErrCleared is returned to every waiter still pending when Clear is
	// called.
	ErrCleared = errors.New("ratelimit: queue cleared")
)

// QueuedWaiter is a single pending admission request inside a
// ThrottlingQueue. Waiters for one endpoint resolve strictly in the order
// they were enqueued.
type QueuedWaiter struct {
	tokens    float64
	enqueued  time.Time
	deadline  time.Time // zero means no deadline
	done      chan struct{}
	err       error
	resolved  bool
	elem      *list.Element
}

// ThrottlingQueue admits callers for a single endpoint in FIFO order at
// exactly the rate its TokenBucket permits, bounding queue depth and
// per-waiter wait time.
//
// The queue never synthesizes a rejection on behalf of the caller: Submit
// returns either a (possibly zero) wait duration or one of the well-typed
// errors above. This is what keeps generated load reflective of the server
// under test rather than the client's own saturation policy.
//
// Concurrent wake evaluations (a timer firing while another goroutine just
// enqueued a waiter) are coalesced with a singleflight.Group so only one
// evaluation pass runs at a time per endpoint, mirroring the deduplication
// role singleflight plays for concurrent cache-warm executions in the
// system this engine's worker pool is modeled on.
type ThrottlingQueue struct {
	mu                  sync.Mutex
	bucket              *TokenBucket
	waiters             *list.List // of *QueuedWaiter
	maxQueueSize        int
	backpressureEnabled bool
	maxWaitTime         time.Duration
	timer               *time.Timer
	evalGroup           singleflight.Group

	successfulAcquisitions int64
	failedAcquisitions     int64
	totalWaitMs            int64
}

// ThrottlingQueueOptions configures queue admission limits.
type ThrottlingQueueOptions struct {
	MaxQueueSize        int
	BackpressureEnabled bool
	MaxWaitTime         time.Duration // 0 means no per-waiter timeout
}

// NewThrottlingQueue creates a queue backed by the given bucket.
func NewThrottlingQueue(bucket *TokenBucket, opts ThrottlingQueueOptions) *ThrottlingQueue {
	return &ThrottlingQueue{
		bucket:              bucket,
		waiters:             list.New(),
		maxQueueSize:        opts.MaxQueueSize,
		backpressureEnabled: opts.BackpressureEnabled,
		maxWaitTime:         opts.MaxWaitTime,
	}
}

// Submit blocks until tokens tokens are granted for the endpoint, the
// queue's limits are exceeded, or ctx is cancelled. On success it returns
// the actual time spent waiting (0 for the fast path).
func (q *ThrottlingQueue) Submit(ctx context.Context, tokens float64) (time.Duration, error) {
	q.mu.Lock()

	if ok, err := q.bucket.TryAcquire(tokens); err != nil {
		q.mu.Unlock()
		return 0, err
	} else if ok {
		q.successfulAcquisitions++
		q.mu.Unlock()
		return 0, nil
	}

	if q.backpressureEnabled && q.waiters.Len() >= q.maxQueueSize {
		q.failedAcquisitions++
		q.mu.Unlock()
		return 0, ErrQueueOverflow
	}

	now := time.Now()
	w := &QueuedWaiter{
		tokens:   tokens,
		enqueued: now,
		done:     make(chan struct{}),
	}
	if q.maxWaitTime > 0 {
		w.deadline = now.Add(q.maxWaitTime)
	}
	w.elem = q.waiters.PushBack(w)
	q.mu.Unlock()

	q.triggerEvaluate()

	select {
	case <-w.done:
		if w.err != nil {
			q.mu.Lock()
			q.failedAcquisitions++
			q.mu.Unlock()
			return 0, w.err
		}
		waited := time.Since(w.enqueued)
		q.mu.Lock()
		q.successfulAcquisitions++
		q.totalWaitMs += waited.Milliseconds()
		q.mu.Unlock()
		return waited, nil
	case <-ctx.Done():
		q.removeWaiter(w)
		return 0, ctx.Err()
	}
}

// Clear fails every pending waiter with ErrCleared and resets acquisition
// statistics. The bucket itself is left untouched.
func (q *ThrottlingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*QueuedWaiter)
		q.resolveLocked(w, ErrCleared)
	}
	q.waiters.Init()
	q.stopTimerLocked()

	q.successfulAcquisitions = 0
	q.failedAcquisitions = 0
	q.totalWaitMs = 0
}

// Stats returns a snapshot of this queue's acquisition counters.
func (q *ThrottlingQueue) Stats() (successful, failed int64, averageWaitMs float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	successful = q.successfulAcquisitions
	failed = q.failedAcquisitions
	if successful > 0 {
		averageWaitMs = float64(q.totalWaitMs) / float64(successful)
	}
	return successful, failed, averageWaitMs
}

// Len returns the current number of waiters in the queue.
func (q *ThrottlingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}

// triggerEvaluate coalesces concurrent evaluation requests into a single
// pass over the waiter list.
func (q *ThrottlingQueue) triggerEvaluate() {
	q.evalGroup.Do("evaluate", func() (interface{}, error) {
		q.evaluate()
		return nil, nil
	})

	// singleflight.Do hands the shared result to every caller that arrived
	// while the first was in flight, without re-running the function. A
	// waiter enqueued in the gap between evaluate's internal mu.Unlock and
	// Do's completion can be coalesced away this way and, if the queue had
	// just drained to empty, left with no timer armed to ever wake it.
	// Re-check for that exact situation and re-trigger: this call either
	// finds the in-flight pass already gone (so it genuinely runs
	// evaluate) or, in the rare case it races another straggler, is itself
	// coalesced into one that will.
	q.mu.Lock()
	needsKick := q.waiters.Len() > 0 && q.timer == nil
	q.mu.Unlock()
	if needsKick {
		q.evalGroup.Do("evaluate", func() (interface{}, error) {
			q.evaluate()
			return nil, nil
		})
	}
}

// SwapBucket repoints the queue's bucket to a newly rebuilt one (e.g. after
// Registry.Configure) and re-evaluates, since the new rate or capacity may
// immediately satisfy waiters that were blocked under the old bucket.
func (q *ThrottlingQueue) SwapBucket(bucket *TokenBucket) {
	q.mu.Lock()
	q.bucket = bucket
	q.mu.Unlock()

	q.triggerEvaluate()
}

// evaluate walks the waiter list in FIFO order, resolving every waiter that
// can immediately be satisfied (or whose deadline has passed), then
// reschedules a wake for whatever remains.
func (q *ThrottlingQueue) evaluate() {
	q.mu.Lock()

	now := time.Now()
	for {
		front := q.waiters.Front()
		if front == nil {
			break
		}
		w := front.Value.(*QueuedWaiter)

		if !w.deadline.IsZero() && !now.Before(w.deadline) {
			q.waiters.Remove(front)
			q.resolveLocked(w, ErrWaitTimeout)
			continue
		}

		ok, _ := q.bucket.TryAcquire(w.tokens)
		if !ok {
			break // strict FIFO: a later, smaller waiter may not overtake this one
		}

		q.waiters.Remove(front)
		q.resolveLocked(w, nil)
	}

	q.rescheduleLocked()
	q.mu.Unlock()
}

// rescheduleLocked arms the wake timer for the soonest event among pending
// waiters: either the front waiter's remaining token wait, or the nearest
// deadline, whichever comes first. Must be called with q.mu held.
func (q *ThrottlingQueue) rescheduleLocked() {
	q.stopTimerLocked()

	front := q.waiters.Front()
	if front == nil {
		return
	}

	w := front.Value.(*QueuedWaiter)
	delay := q.bucket.WaitTime(w.tokens)

	if !w.deadline.IsZero() {
		untilDeadline := time.Until(w.deadline)
		if untilDeadline < delay {
			delay = untilDeadline
		}
	}
	if delay < time.Millisecond {
		delay = time.Millisecond
	}

	q.timer = time.AfterFunc(delay, q.triggerEvaluate)
}

func (q *ThrottlingQueue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// resolveLocked marks w resolved with err and closes its done channel. Must
// be called with q.mu held.
func (q *ThrottlingQueue) resolveLocked(w *QueuedWaiter, err error) {
	if w.resolved {
		return
	}
	w.resolved = true
	w.err = err
	close(w.done)
}

// removeWaiter removes w from the list if it hasn't already resolved,
// e.g. because the caller's context was cancelled while queued.
func (q *ThrottlingQueue) removeWaiter(w *QueuedWaiter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w.resolved {
		return
	}
	if w.elem != nil {
		q.waiters.Remove(w.elem)
	}
	w.resolved = true
}
