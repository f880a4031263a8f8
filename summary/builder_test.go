package summary

import (
	"testing"
	"time"

	"encore.app/results"
)

func TestBuild_BasicCounts(t *testing.T) {
	sink := results.NewSink(nil)
	for i := 0; i < 8; i++ {
		sink.Record(results.RequestResult{EndpointKey: "GET /a", Status: 200, Success: true, LatencyMs: 10, CompletedAt: time.Now()})
	}
	for i := 0; i < 2; i++ {
		sink.Record(results.RequestResult{EndpointKey: "GET /a", Status: 500, Success: false, LatencyMs: 20, CompletedAt: time.Now()})
	}

	s := Build(sink, 1.0, 0, 0)

	if s.Global.TotalRequests != 10 {
		t.Errorf("TotalRequests = %d, want 10", s.Global.TotalRequests)
	}
	if s.Global.Successful != 8 || s.Global.Failed != 2 {
		t.Errorf("Successful/Failed = %d/%d, want 8/2", s.Global.Successful, s.Global.Failed)
	}
	if s.Global.ActualRPS != 10 {
		t.Errorf("ActualRPS = %v, want 10", s.Global.ActualRPS)
	}

	ep, ok := s.Endpoints["GET /a"]
	if !ok {
		t.Fatal("missing endpoint summary for GET /a")
	}
	if ep.TotalRequests != 10 {
		t.Errorf("endpoint TotalRequests = %d, want 10", ep.TotalRequests)
	}
}

func TestTheoreticalMaxRequests_NoRampUp(t *testing.T) {
	got := theoreticalMaxRequests(100, 0, 10)
	if got != 1000 {
		t.Errorf("theoreticalMaxRequests = %v, want 1000", got)
	}
}

func TestTheoreticalMaxRequests_WithRampUp(t *testing.T) {
	// target=100, rampUp=5s, duration=10s: triangle (0.5*5*100=250) + rect (5*100=500) = 750
	got := theoreticalMaxRequests(100, 5, 10)
	if got != 750 {
		t.Errorf("theoreticalMaxRequests = %v, want 750", got)
	}
}

func TestTheoreticalMaxRequests_RampExceedsDuration(t *testing.T) {
	// target=100, rampUp=20s, duration=10s: ramp never completes.
	// area = 0.5 * 100 * 10^2 / 20 = 250
	got := theoreticalMaxRequests(100, 20, 10)
	if got != 250 {
		t.Errorf("theoreticalMaxRequests = %v, want 250", got)
	}
}

func TestTheoreticalMaxRequests_NoTarget(t *testing.T) {
	if got := theoreticalMaxRequests(0, 0, 10); got != 0 {
		t.Errorf("theoreticalMaxRequests with no target = %v, want 0", got)
	}
}

func TestBuild_AchievedPercentage(t *testing.T) {
	sink := results.NewSink(nil)
	for i := 0; i < 50; i++ {
		sink.Record(results.RequestResult{EndpointKey: "GET /a", Status: 200, Success: true, LatencyMs: 5, CompletedAt: time.Now()})
	}

	// target=100 rps over 1s with no ramp-up => theoreticalMax=100, achieved=50%
	s := Build(sink, 1.0, 100, 0)
	if s.Global.AchievedPercentage != 50 {
		t.Errorf("AchievedPercentage = %v, want 50", s.Global.AchievedPercentage)
	}
}
