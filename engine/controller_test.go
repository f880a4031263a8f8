package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// fakeExecutor returns a fixed status and reported latency for every
// request, without any real delay, and counts how many times it was called.
type fakeExecutor struct {
	status  int
	latency float64
	calls   atomic.Int64
}

func (f *fakeExecutor) Execute(ctx context.Context, spec RequestSpec) Response {
	f.calls.Add(1)
	return Response{Status: f.status, LatencyMs: f.latency}
}

func (f *fakeExecutor) CloseIdleConnections() {}

func baseConfig() RunConfig {
	rps := 20.0
	return RunConfig{
		Requests: []RequestTemplate{
			{Method: "GET", URL: "http://example.test/a"},
		},
		Workers:     2,
		DurationSec: 1,
		RPS:         &rps,
	}
}

func TestController_RunReachesStopped(t *testing.T) {
	exec := &fakeExecutor{status: 200, latency: 1}
	c, err := NewController(baseConfig(), exec)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	if c.State() != StateIdle {
		t.Fatalf("initial state = %v, want Idle", c.State())
	}

	sum := c.Run(context.Background())

	if c.State() != StateStopped {
		t.Fatalf("final state = %v, want Stopped", c.State())
	}
	if sum.Global.TotalRequests == 0 {
		t.Fatal("expected at least one recorded request")
	}
	if exec.calls.Load() == 0 {
		t.Fatal("expected the executor to be invoked")
	}
}

func TestController_StopRequestedContext(t *testing.T) {
	exec := &fakeExecutor{status: 200, latency: 1}
	cfg := baseConfig()
	cfg.DurationSec = 60 // would run far longer than the test budget

	c, err := NewController(cfg, exec)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	c.Run(ctx)
	if time.Since(start) > 5*time.Second {
		t.Fatal("Run did not honor caller cancellation promptly")
	}
}

func TestController_EarlyExitStopsRun(t *testing.T) {
	exec := &fakeExecutor{status: 500, latency: 1}
	cfg := baseConfig()
	cfg.DurationSec = 60
	threshold := 0.1
	cfg.EarlyExit = EarlyExitConfig{Enabled: true, ErrorRateThreshold: &threshold}

	c, err := NewController(cfg, exec)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	start := time.Now()
	sum := c.Run(context.Background())
	if time.Since(start) > 5*time.Second {
		t.Fatal("early exit did not stop the run promptly")
	}
	if sum.Global.Failed == 0 {
		t.Fatal("expected failed requests to have been recorded")
	}
}

func TestController_AutoscaleNoWorkersBeforeRun(t *testing.T) {
	exec := &fakeExecutor{status: 200, latency: 1}
	cfg := baseConfig()
	cfg.Workers = 4
	cfg.Autoscale = true
	cfg.DurationSec = 1

	c, err := NewController(cfg, exec)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	if c.ActiveWorkers() != 0 {
		t.Fatalf("ActiveWorkers before Run = %d, want 0", c.ActiveWorkers())
	}

	c.Run(context.Background())
}

func TestController_ConfigureRegistrySplitsSharedRPS(t *testing.T) {
	rps := 100.0
	override := 30.0
	cfg := RunConfig{
		Requests: []RequestTemplate{
			{Method: "GET", URL: "http://example.test/a"},
			{Method: "GET", URL: "http://example.test/b"},
			{Method: "GET", URL: "http://example.test/c", TargetRPS: &override},
		},
		Workers:     1,
		DurationSec: 1,
		RPS:         &rps,
	}

	c, err := NewController(cfg, &fakeExecutor{status: 200})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	c.configureRegistry()

	statsA := c.registry.Stats(cfg.Requests[0].EndpointKey())
	statsC := c.registry.Stats(cfg.Requests[2].EndpointKey())

	if statsA.RefillRate != 50 {
		t.Errorf("endpoint a refill rate = %v, want 50 (100 split across 2 no-override endpoints)", statsA.RefillRate)
	}
	if statsC.RefillRate != override {
		t.Errorf("endpoint c (explicit override) refill rate = %v, want %v", statsC.RefillRate, override)
	}
}
