package results

import (
	"testing"
	"time"

	"encore.app/ratelimit"
)

func TestSink_CountersAndHistogram(t *testing.T) {
	s := NewSink(nil)

	s.Record(RequestResult{EndpointKey: "GET /a", Status: 200, Success: true, LatencyMs: 10, CompletedAt: time.Now()})
	s.Record(RequestResult{EndpointKey: "GET /a", Status: 500, Success: false, LatencyMs: 20, CompletedAt: time.Now()})
	s.Record(RequestResult{EndpointKey: "GET /b", Status: 200, Success: true, LatencyMs: 30, CompletedAt: time.Now()})

	successful, failed, statusCounters, reservoir := s.GlobalSnapshot()
	if successful != 2 || failed != 1 {
		t.Errorf("global successful/failed = %d/%d, want 2/1", successful, failed)
	}
	if statusCounters[200] != 2 || statusCounters[500] != 1 {
		t.Errorf("status counters = %+v, want 200:2 500:1", statusCounters)
	}
	if reservoir.Count() != 3 {
		t.Errorf("global histogram count = %d, want 3", reservoir.Count())
	}

	eps := s.EndpointSnapshots()
	a, ok := eps[ratelimit.EndpointKey("GET /a")]
	if !ok {
		t.Fatal("missing snapshot for GET /a")
	}
	if a.Successful != 1 || a.Failed != 1 {
		t.Errorf("GET /a successful/failed = %d/%d, want 1/1", a.Successful, a.Failed)
	}
	if a.Histogram.Count() != 2 {
		t.Errorf("GET /a histogram count = %d, want 2", a.Histogram.Count())
	}
}

func TestSink_SampleDedupePerEndpointStatus(t *testing.T) {
	s := NewSink(nil)

	s.Record(RequestResult{EndpointKey: "GET /a", Status: 200, Success: true, Body: []byte("first")})
	s.Record(RequestResult{EndpointKey: "GET /a", Status: 200, Success: true, Body: []byte("second")})

	sampled := s.SampledResults()
	if len(sampled) != 1 {
		t.Fatalf("len(SampledResults()) = %d, want 1 (second response for same endpoint+status discarded)", len(sampled))
	}
	if string(sampled[0].Body) != "first" {
		t.Errorf("retained body = %q, want %q (first sample wins, kept verbatim)", sampled[0].Body, "first")
	}
	if sampled[0].EndpointKey != "GET /a" || sampled[0].Status != 200 {
		t.Errorf("retained sample = %+v, want EndpointKey=GET /a Status=200", sampled[0])
	}
}

func TestSink_SampleCapAtOneThousand(t *testing.T) {
	s := NewSink(nil)

	for i := 0; i < maxSampledResults+50; i++ {
		ep := ratelimit.EndpointKey(string(rune('a' + i%26)))
		s.Record(RequestResult{EndpointKey: ep, Status: i, Success: true, Body: []byte("x")})
	}

	sampled := s.SampledResults()
	if len(sampled) != maxSampledResults {
		t.Errorf("len(SampledResults()) = %d, want capped at %d", len(sampled), maxSampledResults)
	}
}

func TestSink_SampledResultsReachableAfterRun(t *testing.T) {
	s := NewSink(nil)
	s.Record(RequestResult{EndpointKey: "GET /a", Status: 500, Success: false, Body: []byte(`{"error":"boom"}`)})

	// Sampled bodies must survive past the Record call that produced them:
	// the caller that owned the original RequestResult is long gone here.
	sampled := s.SampledResults()
	if len(sampled) != 1 {
		t.Fatalf("len(SampledResults()) = %d, want 1", len(sampled))
	}
	if string(sampled[0].Body) != `{"error":"boom"}` {
		t.Errorf("retained body = %q, want the original JSON body", sampled[0].Body)
	}
}

func TestSink_EarlyExitFiresOnce(t *testing.T) {
	threshold := int64(2)
	s := NewSink(&EarlyExitPredicate{ErrorCountThreshold: &threshold})

	if s.Record(RequestResult{EndpointKey: "GET /a", Status: 500, Success: false}) {
		t.Error("first failure should not trip (threshold is 2)")
	}

	tripped := s.Record(RequestResult{EndpointKey: "GET /a", Status: 500, Success: false})
	if !tripped {
		t.Error("second failure should trip the predicate")
	}

	select {
	case <-s.EarlyExit():
	default:
		t.Error("EarlyExit channel should be closed after tripping")
	}

	// Further records report the predicate as already-tripped, not tripped-now.
	if s.Record(RequestResult{EndpointKey: "GET /a", Status: 500, Success: false}) {
		t.Error("predicate should only report tripped on the first occurrence")
	}
}

func TestSink_TotalRequests(t *testing.T) {
	s := NewSink(nil)
	for i := 0; i < 5; i++ {
		s.Record(RequestResult{EndpointKey: "GET /a", Status: 200, Success: true})
	}
	if s.TotalRequests() != 5 {
		t.Errorf("TotalRequests() = %d, want 5", s.TotalRequests())
	}
}
