package engine

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"encore.app/ratelimit"
	"encore.app/results"
)

const (
	minBatchSize = 1
	maxBatchSize = 50
	// floorRpsPerWorker keeps the autoscaler's avgRpsPerWorker division (in
	// controller.go) from blowing up when the observed rate is effectively zero.
	floorRpsPerWorker = 10.0
)

// Worker is one cooperative load-generation task (spec §4.6). It never
// blocks except while awaiting a rate-limit grant (inside the Registry) or
// an HTTP response (inside the RequestExecutor) — both cancellable.
type Worker struct {
	id            int
	templates     []RequestTemplate
	globalHeaders map[string]string
	registry      *ratelimit.Registry
	sink          *results.Sink
	executor      RequestExecutor
	globalLimiter *rate.Limiter

	concurrentRequestsPerWorker int // 0 means compute per step 2
	targetRPS                   func() float64
	activeWorkers               func() int

	stopRequested *atomic.Bool
	earlyExit     <-chan struct{}

	rng *rand.Rand
}

// NewWorker constructs a worker. rngSeed should differ across workers in
// the same run to avoid correlated template draws.
func NewWorker(id int, templates []RequestTemplate, globalHeaders map[string]string, registry *ratelimit.Registry, sink *results.Sink, executor RequestExecutor, globalLimiter *rate.Limiter, concurrentRequestsPerWorker int, targetRPS func() float64, activeWorkers func() int, stopRequested *atomic.Bool, earlyExit <-chan struct{}, rngSeed int64) *Worker {
	return &Worker{
		id:                          id,
		templates:                   templates,
		globalHeaders:               globalHeaders,
		registry:                    registry,
		sink:                        sink,
		executor:                    executor,
		globalLimiter:               globalLimiter,
		concurrentRequestsPerWorker: concurrentRequestsPerWorker,
		targetRPS:                   targetRPS,
		activeWorkers:               activeWorkers,
		stopRequested:               stopRequested,
		earlyExit:                   earlyExit,
		rng:                         rand.New(rand.NewSource(rngSeed)),
	}
}

// Run drives the worker's loop until stop is requested, the early-exit
// signal fires, or ctx is cancelled (the watchdog's forceful escalation).
func (w *Worker) Run(ctx context.Context) {
	for {
		if w.stopRequested.Load() {
			return
		}
		select {
		case <-w.earlyExit:
			return
		case <-ctx.Done():
			return
		default:
		}

		batch := w.batchSize()
		w.dispatchBatch(ctx, batch)

		runtime.Gosched()
	}
}

// batchSize computes B = concurrentRequestsPerWorker if set, else
// min(50, max(1, ceil(targetRps / activeWorkers))) (spec §4.6 step 2).
func (w *Worker) batchSize() int {
	if w.concurrentRequestsPerWorker > 0 {
		return w.concurrentRequestsPerWorker
	}

	active := w.activeWorkers()
	if active < 1 {
		active = 1
	}

	b := int(math.Ceil(w.targetRPS() / float64(active)))
	if b < minBatchSize {
		b = minBatchSize
	}
	if b > maxBatchSize {
		b = maxBatchSize
	}
	return b
}

// dispatchBatch draws b templates uniformly at random with replacement and
// dispatches each concurrently, submitting every outcome to the Sink
// before returning (spec §4.6 steps 3-5).
func (w *Worker) dispatchBatch(ctx context.Context, b int) {
	var g errgroup.Group

	for i := 0; i < b; i++ {
		t := w.templates[w.rng.Intn(len(w.templates))]
		g.Go(func() error {
			w.dispatchOne(ctx, t)
			return nil
		})
	}

	g.Wait()
}

// dispatchOne acquires a rate-limit grant, dispatches the HTTP request, and
// submits the result. It never returns an error: every failure mode is
// folded into a RequestResult per spec §7.
func (w *Worker) dispatchOne(ctx context.Context, t RequestTemplate) {
	key := t.EndpointKey()

	if w.globalLimiter != nil {
		if err := w.globalLimiter.Wait(ctx); err != nil {
			w.sink.Record(results.RequestResult{
				Method:      t.Method,
				URL:         t.URL,
				EndpointKey: key,
				Status:      0,
				Success:     false,
				Err:         err.Error(),
				CompletedAt: time.Now(),
			})
			return
		}
	}

	if _, err := w.registry.Acquire(ctx, key, 1); err != nil {
		w.sink.Record(results.RequestResult{
			Method:      t.Method,
			URL:         t.URL,
			EndpointKey: key,
			Status:      0,
			Success:     false,
			Err:         err.Error(),
			CompletedAt: time.Now(),
		})
		return
	}

	spec, err := buildRequestSpec(w.globalHeaders, t)
	if err != nil {
		w.sink.Record(results.RequestResult{
			Method:      t.Method,
			URL:         t.URL,
			EndpointKey: key,
			Status:      0,
			Success:     false,
			Err:         err.Error(),
			CompletedAt: time.Now(),
		})
		return
	}

	resp := w.executor.Execute(ctx, spec)

	status := resp.Status
	success := status >= 200 && status < 300
	errMsg := ""
	if resp.Err != nil {
		errMsg = resp.Err.Error()
		success = false
	}

	w.sink.Record(results.RequestResult{
		Method:      spec.Method,
		URL:         spec.URL,
		EndpointKey: key,
		Status:      status,
		LatencyMs:   resp.LatencyMs,
		Success:     success,
		Err:         errMsg,
		Body:        resp.Body,
		CompletedAt: time.Now(),
	})
}
