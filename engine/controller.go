package engine

import (
	"context"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"encore.app/pkg/middleware"
	"encore.app/ratelimit"
	"encore.app/results"
	"encore.app/summary"
)

// RunState is one state of the Controller's Idle -> Running -> Stopping ->
// Stopped lifecycle (spec §4.7).
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	autoscaleInterval   = 2 * time.Second
	autoscaleLowWater   = 0.9
	autoscaleHighWater  = 1.1
	autoscaleAdjustment = 0.25

	testModeEnvVar = "LOADGEN_TEST_MODE"
)

func testModeEnabled() bool {
	v := os.Getenv(testModeEnvVar)
	return v == "1" || v == "true"
}

// defaultQueueOptions governs every per-endpoint ThrottlingQueue. Spec §6
// exposes no config surface for these; the one environment knob the core
// consults (testModeEnvVar) relaxes them under a simulated clock.
func defaultQueueOptions() ratelimit.ThrottlingQueueOptions {
	if testModeEnabled() {
		return ratelimit.ThrottlingQueueOptions{
			MaxQueueSize:        math.MaxInt32,
			BackpressureEnabled: false,
			MaxWaitTime:         0,
		}
	}
	return ratelimit.ThrottlingQueueOptions{
		MaxQueueSize:        100_000,
		BackpressureEnabled: true,
		MaxWaitTime:         30 * time.Second,
	}
}

type workerHandle struct {
	worker *Worker
	cancel context.CancelFunc
}

// Controller owns the RateLimiterRegistry, ResultSink, and every Worker for
// one run (spec §4.7). It is single-use: construct a new Controller per
// run via NewController.
type Controller struct {
	runID    string
	config   RunConfig
	executor RequestExecutor

	registry *ratelimit.Registry
	sink     *results.Sink

	globalLimiter *rate.Limiter

	state atomic.Int32

	workersMu sync.Mutex
	workers   []*workerHandle
	wg        sync.WaitGroup

	stopRequested *atomic.Bool

	targetMu        sync.RWMutex
	effectiveTarget float64
	totalTarget     float64

	shutdownTimeout time.Duration
}

// NewController validates cfg and constructs a Controller ready to Start.
func NewController(cfg RunConfig, executor RequestExecutor) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var predicate *results.EarlyExitPredicate
	if cfg.EarlyExit.Enabled {
		predicate = &results.EarlyExitPredicate{
			ErrorRateThreshold:  cfg.EarlyExit.ErrorRateThreshold,
			ErrorCountThreshold: cfg.EarlyExit.ErrorCountThreshold,
		}
		if len(cfg.EarlyExit.ErrorStatusCodes) > 0 {
			predicate.ErrorStatusCodes = make(map[int]struct{}, len(cfg.EarlyExit.ErrorStatusCodes))
			for _, code := range cfg.EarlyExit.ErrorStatusCodes {
				predicate.ErrorStatusCodes[code] = struct{}{}
			}
		}
	}

	opts := DefaultDefaultExecutorOptions()

	c := &Controller{
		config:          cfg,
		executor:        executor,
		registry:        ratelimit.NewRegistry(defaultQueueOptions()),
		sink:            results.NewSink(predicate),
		stopRequested:   &atomic.Bool{},
		shutdownTimeout: opts.HeadersTimeout + opts.BodyTimeout + time.Second,
	}
	c.state.Store(int32(StateIdle))
	return c, nil
}

// SetRunID attaches a correlation ID used to tag this Controller's
// structured lifecycle logs. Optional: an empty runID simply logs "".
func (c *Controller) SetRunID(runID string) {
	c.runID = runID
}

// State returns the Controller's current lifecycle state.
func (c *Controller) State() RunState {
	return RunState(c.state.Load())
}

// ActiveWorkers returns the current number of live workers.
func (c *Controller) ActiveWorkers() int {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	return len(c.workers)
}

// Sink exposes the run's ResultSink for live status queries mid-run.
func (c *Controller) Sink() *results.Sink {
	return c.sink
}

// Run executes one load-generation run to completion and returns its
// summary. Run blocks until the run's duration elapses, its early-exit
// predicate trips, or ctx is cancelled by the caller (an explicit stop
// request). Run must be called exactly once.
func (c *Controller) Run(ctx context.Context) summary.Summary {
	c.state.Store(int32(StateRunning))
	middleware.LogRunEvent(c.runID, "run_running", map[string]interface{}{
		"workers": c.config.Workers, "autoscale": c.config.Autoscale,
	})

	c.configureRegistry()
	c.totalTarget = c.config.TargetRPSTotal()
	c.setEffectiveTarget(0)

	rootCtx, cancelRoot := context.WithCancel(ctx)
	defer cancelRoot()

	limiterCap := float64(c.config.Workers * maxBatchSize)
	if limiterCap < maxBatchSize {
		limiterCap = maxBatchSize
	}
	c.globalLimiter = rate.NewLimiter(rate.Limit(limiterCap), int(limiterCap))

	initialWorkers := c.config.Workers
	if c.config.Autoscale {
		initialWorkers = 1
	}
	c.addWorkers(rootCtx, initialWorkers)

	go c.rampUpLoop(rootCtx, c.totalTarget, float64(c.config.RampUpTimeSec))
	if c.config.Autoscale {
		go c.autoscaleLoop(rootCtx)
	}

	startTime := time.Now()
	durationTimer := time.NewTimer(time.Duration(c.config.DurationSec) * time.Second)
	defer durationTimer.Stop()

	select {
	case <-durationTimer.C:
	case <-c.sink.EarlyExit():
	case <-ctx.Done():
	}

	c.state.Store(int32(StateStopping))
	middleware.LogRunEvent(c.runID, "run_stopping", nil)
	c.stopRequested.Store(true)

	allDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-time.After(c.shutdownTimeout):
		cancelRoot()
		<-allDone
	}

	if closer, ok := c.executor.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	c.registry.Shutdown()

	actualDuration := time.Since(startTime).Seconds()
	c.state.Store(int32(StateStopped))
	middleware.LogRunEvent(c.runID, "run_stopped", map[string]interface{}{
		"duration_sec": actualDuration,
	})

	return summary.Build(c.sink, actualDuration, c.totalTarget, float64(c.config.RampUpTimeSec))
}

// configureRegistry resolves and installs every endpoint's rate-limit
// override per spec §4.3/§4.7: an explicit per-template targetRps always
// wins; absent that, a global rps is split evenly across every endpoint
// lacking an explicit override (their §4.7 weight is uniformly the
// defaultPerEndpointRPS default, so an even split is the share that
// formula implies); absent both, the endpoint is left to the registry's
// own lazy defaults.
func (c *Controller) configureRegistry() {
	noOverride := 0
	for _, t := range c.config.Requests {
		if t.TargetRPS == nil {
			noOverride++
		}
	}

	for _, t := range c.config.Requests {
		key := t.EndpointKey()
		switch {
		case t.TargetRPS != nil:
			r := *t.TargetRPS
			c.registry.Configure(key, math.Max(2, 2*r), r)
		case c.config.RPS != nil && noOverride > 0:
			share := *c.config.RPS / float64(noOverride)
			c.registry.Configure(key, math.Max(2, 2*share), share)
		}
	}
}

// rampUpLoop advances the effective target RPS linearly from 0 to total
// over rampUpTimeSec, sampled once per second (spec §4.7 Ramp-up).
func (c *Controller) rampUpLoop(ctx context.Context, total, rampUpTimeSec float64) {
	if rampUpTimeSec <= 0 {
		c.setEffectiveTarget(total)
		return
	}

	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		elapsed := time.Since(start).Seconds()
		if elapsed >= rampUpTimeSec {
			c.setEffectiveTarget(total)
			return
		}
		c.setEffectiveTarget(total * elapsed / rampUpTimeSec)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) setEffectiveTarget(v float64) {
	c.targetMu.Lock()
	c.effectiveTarget = v
	c.targetMu.Unlock()
}

func (c *Controller) effectiveTargetRPS() float64 {
	c.targetMu.RLock()
	defer c.targetMu.RUnlock()
	return c.effectiveTarget
}

// autoscaleLoop adjusts the active worker count every 2s to track the
// effective target RPS (spec §4.7 Autoscaler).
func (c *Controller) autoscaleLoop(ctx context.Context) {
	ticker := time.NewTicker(autoscaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		if c.stopRequested.Load() {
			return
		}

		target := c.effectiveTargetRPS()
		_, _, _, reservoir := c.sink.GlobalSnapshot()
		actual := reservoir.CurrentRPS(time.Now())
		active := c.ActiveWorkers()

		avg := actual / float64(active)
		if avg < floorRpsPerWorker {
			avg = floorRpsPerWorker
		}

		switch {
		case actual < autoscaleLowWater*target && active < c.config.Workers:
			add := int(math.Ceil(autoscaleAdjustment * (target - actual) / avg))
			if add < 1 {
				add = 1
			}
			if max := c.config.Workers - active; add > max {
				add = max
			}
			c.addWorkers(ctx, add)

		case actual > autoscaleHighWater*target && active > 1:
			remove := int(math.Ceil(autoscaleAdjustment * (actual - target) / avg))
			if remove < 1 {
				remove = 1
			}
			if max := active - 1; remove > max {
				remove = max
			}
			c.removeWorkers(remove)
		}
	}
}

// logScaleEvent logs a worker count change. Callers must NOT hold
// workersMu: it is only safe to call after releasing the lock that
// protects c.workers.
func (c *Controller) logScaleEvent(delta, active int) {
	middleware.LogRunEvent(c.runID, "workers_scaled", map[string]interface{}{
		"delta": delta, "active": active,
	})
}

// addWorkers spawns n new workers, each derived from parentCtx so it can be
// retired individually (scale-down) without affecting its siblings.
func (c *Controller) addWorkers(parentCtx context.Context, n int) {
	c.workersMu.Lock()

	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(parentCtx)
		id := len(c.workers)
		w := NewWorker(
			id,
			c.config.Requests,
			c.config.GlobalHeaders,
			c.registry,
			c.sink,
			c.executor,
			c.globalLimiter,
			c.config.ConcurrentRequests,
			c.effectiveTargetRPS,
			c.ActiveWorkers,
			c.stopRequested,
			c.sink.EarlyExit(),
			time.Now().UnixNano()+int64(id),
		)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			w.Run(wctx)
		}()

		c.workers = append(c.workers, &workerHandle{worker: w, cancel: cancel})
	}
	active := len(c.workers)
	c.workersMu.Unlock()

	if n > 0 {
		c.logScaleEvent(n, active)
	}
}

// removeWorkers retires the n most recently added workers by cancelling
// their individual contexts. The cancellation aborts their in-flight rate-limit
// waits and HTTP requests (recorded as failed results); each worker exits
// once its current batch returns.
func (c *Controller) removeWorkers(n int) {
	c.workersMu.Lock()

	if n > len(c.workers) {
		n = len(c.workers)
	}
	for i := 0; i < n; i++ {
		last := len(c.workers) - 1
		c.workers[last].cancel()
		c.workers = c.workers[:last]
	}
	active := len(c.workers)
	c.workersMu.Unlock()

	if n > 0 {
		c.logScaleEvent(-n, active)
	}
}
