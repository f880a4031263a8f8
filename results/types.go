// Package results implements the ResultSink: the single mutator through
// which every completed request updates histograms, status counters, and
// the early-exit predicate.
package results

import (
	"time"

	"encore.app/ratelimit"
	"encore.app/telemetry"
)

// RequestResult is the outcome of one dispatched HTTP request, produced by
// a Worker and handed to the Sink.
type RequestResult struct {
	Method      string
	URL         string
	EndpointKey ratelimit.EndpointKey
	Status      int // 0 on transport error or limiter failure
	LatencyMs   float64
	Success     bool // 200 <= Status < 300
	Err         string
	Body        []byte // response body; the Sink retains it only for the first (EndpointKey, Status) it sees
	CompletedAt time.Time
}

// SampledResult is one retained response body, kept at most once per
// (EndpointKey, Status) pair and capped globally at maxSampledResults
// (spec §3 data model, §4.5 step 4): the sampled-response set exists for
// post-run inspection, not just dedup bookkeeping.
type SampledResult struct {
	EndpointKey ratelimit.EndpointKey
	Status      int
	Body        []byte
	CompletedAt time.Time
}

// EndpointStats is the per-endpoint slice of accumulated telemetry.
type EndpointStats struct {
	Successful      int64
	Failed          int64
	Histogram       *telemetry.Histogram
	StatusCounters  map[int]int64
	sampledStatuses map[int]struct{}
}

func newEndpointStats() *EndpointStats {
	return &EndpointStats{
		Histogram:       telemetry.NewHistogram(),
		StatusCounters:  make(map[int]int64),
		sampledStatuses: make(map[int]struct{}),
	}
}

// EndpointSnapshot is an immutable copy of EndpointStats suitable for handing to a
// reader (SummaryBuilder) without holding the Sink's lock.
type EndpointSnapshot struct {
	Successful     int64
	Failed         int64
	StatusCounters map[int]int64
	Histogram      *telemetry.Histogram // histogram itself is internally locked, safe to share
}
