package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// EndpointKey is the deterministic identity "METHOD SP URL" used to key
// rate limiting, histograms, and status counters (spec §3).
type EndpointKey string

// DefaultCapacity and DefaultRefillRate apply when no override has been
// configured for an endpoint and no global RPS target applies (spec §4.3).
const (
	DefaultCapacity   = 2.0
	DefaultRefillRate = 1.0
)

// EndpointLimiterStats is a point-in-time snapshot of one endpoint's
// limiter state, returned by Registry.Stats.
type EndpointLimiterStats struct {
	CurrentTokens          float64
	Capacity               float64
	RefillRate             float64
	SuccessfulAcquisitions int64
	FailedAcquisitions     int64
	AverageWaitMs          float64
}

// entry bundles one endpoint's bucket and queue together with the LRU
// bookkeeping Registry needs for idle eviction. The LRU list mirrors the
// doubly-linked-list eviction bookkeeping the caching system this engine
// is modeled on uses for its L1 cache, applied here to limiter state
// instead of cached values.
type entry struct {
	key         EndpointKey
	bucket      *TokenBucket
	queue       *ThrottlingQueue
	lastAccess  time.Time
	hasOverride bool
	elem        *list.Element
}

// Registry owns every endpoint's TokenBucket and ThrottlingQueue, creating
// them lazily on first use and evicting idle endpoints on request.
//
// Registry is safe for concurrent use: each endpoint's bucket/queue pair is
// protected implicitly by the ThrottlingQueue's own mutex; Registry's own
// mutex only guards the keyed map and LRU list, never an HTTP suspension
// point (spec §5, locking discipline).
type Registry struct {
	mu        sync.Mutex
	endpoints map[EndpointKey]*entry
	lru       *list.List // front = most recently used
	queueOpts ThrottlingQueueOptions
}

// NewRegistry creates an empty registry. queueOpts is applied to every
// lazily-created ThrottlingQueue.
func NewRegistry(queueOpts ThrottlingQueueOptions) *Registry {
	return &Registry{
		endpoints: make(map[EndpointKey]*entry),
		lru:       list.New(),
		queueOpts: queueOpts,
	}
}

// Configure installs an explicit capacity/refillRate override for key. If a
// bucket already exists, it is rebuilt preserving the token-fill ratio
// (spec §3, "reconfiguration replaces the bucket").
func (r *Registry) Configure(key EndpointKey, capacity, refillRate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.getOrCreateLocked(key, capacity, refillRate)
	if e.bucket.capacity != capacity || e.bucket.refillRate != refillRate {
		e.bucket = e.bucket.Rebuild(capacity, refillRate)
		e.queue.SwapBucket(e.bucket)
	}
	e.hasOverride = true
}

// Acquire delegates to the endpoint's queue, lazily instantiating its
// bucket and queue (at the package defaults) on first use.
func (r *Registry) Acquire(ctx context.Context, key EndpointKey, tokens float64) (time.Duration, error) {
	r.mu.Lock()
	e := r.getOrCreateLocked(key, DefaultCapacity, DefaultRefillRate)
	e.lastAccess = time.Now()
	r.lru.MoveToFront(e.elem)
	queue := e.queue
	r.mu.Unlock()

	return queue.Submit(ctx, tokens)
}

// Stats returns a snapshot of key's limiter state. The zero value is
// returned if the endpoint has never been used.
func (r *Registry) Stats(key EndpointKey) EndpointLimiterStats {
	r.mu.Lock()
	e, ok := r.endpoints[key]
	r.mu.Unlock()

	if !ok {
		return EndpointLimiterStats{}
	}

	successful, failed, avgWait := e.queue.Stats()
	return EndpointLimiterStats{
		CurrentTokens:          e.bucket.Tokens(),
		Capacity:               e.bucket.Capacity(),
		RefillRate:             e.bucket.RefillRate(),
		SuccessfulAcquisitions: successful,
		FailedAcquisitions:     failed,
		AverageWaitMs:          avgWait,
	}
}

// EvictIdle removes every endpoint whose lastAccess age exceeds maxIdle,
// clearing its queue first so any (implausible, since idle means unused)
// pending waiters fail cleanly. Returns the number of endpoints removed.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0

	for e := r.lru.Back(); e != nil; {
		ent := e.Value.(*entry)
		if ent.lastAccess.After(cutoff) {
			break // LRU order: everything in front is even more recently used
		}
		prev := e.Prev()
		ent.queue.Clear()
		delete(r.endpoints, ent.key)
		r.lru.Remove(e)
		removed++
		e = prev
	}

	return removed
}

// Len returns the number of distinct endpoints currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// Shutdown clears every endpoint's queue, failing any pending waiters
// (spec §4.7 Shutdown: "clear the limiter registry's queues").
func (r *Registry) Shutdown() {
	r.mu.Lock()
	queues := make([]*ThrottlingQueue, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		queues = append(queues, e.queue)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.Clear()
	}
}

// getOrCreateLocked returns the entry for key, creating it with the given
// defaults if absent. Must be called with r.mu held.
func (r *Registry) getOrCreateLocked(key EndpointKey, capacity, refillRate float64) *entry {
	if e, ok := r.endpoints[key]; ok {
		return e
	}

	bucket := NewTokenBucket(capacity, refillRate)
	e := &entry{
		key:        key,
		bucket:     bucket,
		queue:      NewThrottlingQueue(bucket, r.queueOpts),
		lastAccess: time.Now(),
	}
	e.elem = r.lru.PushFront(e)
	r.endpoints[key] = e
	return e
}
