package results

import (
	"sync"
	"time"

	"encore.app/ratelimit"
	"encore.app/telemetry"
)

// maxSampledResults bounds total retained response bodies across the whole
// run, independent of endpoint/status cardinality (spec §5, memory bounds).
const maxSampledResults = 1000

// Sink is the single mutator for every completed request. All of its state
// is protected by one internal mutex: spec §5 permits either a
// single-owner task or internal locking, and locking keeps Worker call
// sites simple (Record never suspends).
type Sink struct {
	mu sync.Mutex

	reservoir            *telemetry.Reservoir
	globalSuccessful     int64
	globalFailed         int64
	globalStatusCounters map[int]int64

	endpoints map[ratelimit.EndpointKey]*EndpointStats

	predicate      *EarlyExitPredicate
	sampled        []SampledResult
	earlyExitCh    chan struct{}
	earlyExitFired bool
}

// NewSink creates an empty Sink evaluating predicate (which may be nil or
// disabled) after every Record call.
func NewSink(predicate *EarlyExitPredicate) *Sink {
	return &Sink{
		reservoir:            telemetry.NewReservoir(),
		globalStatusCounters: make(map[int]int64),
		endpoints:            make(map[ratelimit.EndpointKey]*EndpointStats),
		predicate:            predicate,
		earlyExitCh:          make(chan struct{}),
	}
}

// EarlyExit returns a channel that is closed exactly once, the first time
// the early-exit predicate trips.
func (s *Sink) EarlyExit() <-chan struct{} {
	return s.earlyExitCh
}

// Record applies one result to global and per-endpoint state, following
// the five-step contract in spec §4.5. It returns true if this call is the
// one that tripped the early-exit predicate (false on every subsequent
// call, even though the predicate remains true).
func (s *Sink) Record(r RequestResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Append latency to global and endpoint histograms.
	at := r.CompletedAt
	if at.IsZero() {
		at = time.Now()
	}
	s.reservoir.Record(r.LatencyMs, at)

	ep := s.endpoints[r.EndpointKey]
	if ep == nil {
		ep = newEndpointStats()
		s.endpoints[r.EndpointKey] = ep
	}
	ep.Histogram.Record(r.LatencyMs)

	// 2. Increment status-code counter.
	s.globalStatusCounters[r.Status]++
	ep.StatusCounters[r.Status]++

	// 3. Increment successfulRequests or failedRequests, globally and per endpoint.
	if r.Success {
		s.globalSuccessful++
		ep.Successful++
	} else {
		s.globalFailed++
		ep.Failed++
	}

	// 4. Sample at most once per (endpointKey, status), capped globally at
	// 1,000, and retain the body for post-run inspection.
	if _, seen := ep.sampledStatuses[r.Status]; !seen && len(s.sampled) < maxSampledResults && len(r.Body) > 0 {
		ep.sampledStatuses[r.Status] = struct{}{}
		s.sampled = append(s.sampled, SampledResult{
			EndpointKey: r.EndpointKey,
			Status:      r.Status,
			Body:        r.Body,
			CompletedAt: at,
		})
	} else {
		r.Body = nil
	}

	// 5. Evaluate early-exit predicate; signal the Controller exactly once.
	if s.earlyExitFired {
		return false
	}
	if s.predicate.Evaluate(s.globalSuccessful, s.globalFailed, s.globalStatusCounters) {
		s.earlyExitFired = true
		close(s.earlyExitCh)
		return true
	}
	return false
}

// GlobalSnapshot returns a point-in-time copy of run-wide counters.
func (s *Sink) GlobalSnapshot() (successful, failed int64, statusCounters map[int]int64, reservoir *telemetry.Reservoir) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[int]int64, len(s.globalStatusCounters))
	for k, v := range s.globalStatusCounters {
		cp[k] = v
	}
	return s.globalSuccessful, s.globalFailed, cp, s.reservoir
}

// EndpointSnapshots returns a point-in-time copy of every endpoint's
// counters, keyed by endpoint.
func (s *Sink) EndpointSnapshots() map[ratelimit.EndpointKey]EndpointSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[ratelimit.EndpointKey]EndpointSnapshot, len(s.endpoints))
	for key, ep := range s.endpoints {
		statusCp := make(map[int]int64, len(ep.StatusCounters))
		for k, v := range ep.StatusCounters {
			statusCp[k] = v
		}
		out[key] = EndpointSnapshot{
			Successful:     ep.Successful,
			Failed:         ep.Failed,
			StatusCounters: statusCp,
			Histogram:      ep.Histogram,
		}
	}
	return out
}

// SampledResults returns a copy of every retained sampled response body,
// at most one per (EndpointKey, Status), capped at maxSampledResults.
func (s *Sink) SampledResults() []SampledResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SampledResult, len(s.sampled))
	copy(out, s.sampled)
	return out
}

// TotalRequests returns successful+failed across the whole run so far.
func (s *Sink) TotalRequests() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalSuccessful + s.globalFailed
}
