// Package summary collapses ResultSink telemetry into the global and
// per-endpoint summary objects produced when a run stops (spec §4.8).
package summary

import (
	"encore.app/ratelimit"
	"encore.app/results"
)

// EndpointSummary mirrors GlobalSummary but excludes the RPS projection,
// which only makes sense in aggregate.
type EndpointSummary struct {
	TotalRequests  int64         `json:"totalRequests"`
	Successful     int64         `json:"successful"`
	Failed         int64         `json:"failed"`
	AvgLatencyMs   float64       `json:"avgLatencyMs"`
	MinLatencyMs   float64       `json:"minLatencyMs"`
	MaxLatencyMs   float64       `json:"maxLatencyMs"`
	P95LatencyMs   float64       `json:"p95LatencyMs"`
	P99LatencyMs   float64       `json:"p99LatencyMs"`
	StatusCounters map[int]int64 `json:"statusCounters"`
}

// GlobalSummary is the run-wide rollup.
type GlobalSummary struct {
	TotalRequests          int64         `json:"totalRequests"`
	Successful             int64         `json:"successful"`
	Failed                 int64         `json:"failed"`
	AvgLatencyMs           float64       `json:"avgLatencyMs"`
	MinLatencyMs           float64       `json:"minLatencyMs"`
	MaxLatencyMs           float64       `json:"maxLatencyMs"`
	P95LatencyMs           float64       `json:"p95LatencyMs"`
	P99LatencyMs           float64       `json:"p99LatencyMs"`
	ActualRPS              float64       `json:"actualRps"`
	StatusCounters         map[int]int64 `json:"statusCounters"`
	TheoreticalMaxRequests float64       `json:"theoreticalMaxRequests"`
	AchievedPercentage     float64       `json:"achievedPercentage"`
}

// Summary is the complete output of one run.
type Summary struct {
	Global           GlobalSummary                             `json:"global"`
	Endpoints        map[ratelimit.EndpointKey]EndpointSummary `json:"endpoints"`
	SampledResponses []results.SampledResult                   `json:"sampledResponses,omitempty"`
}

// Build derives a Summary from sink's accumulated state.
//
// targetRPS and rampUpTimeSec feed the theoretical-max projection: the sum
// of a triangular ramp-up area (0 to targetRPS over rampUpTimeSec) plus a
// steady-state rectangle for the remainder of the run, per spec §4.8.
func Build(sink *results.Sink, actualDurationSec, targetRPS, rampUpTimeSec float64) Summary {
	successful, failed, statusCounters, reservoir := sink.GlobalSnapshot()
	total := successful + failed

	actualRPS := 0.0
	if actualDurationSec > 0 {
		actualRPS = float64(total) / actualDurationSec
	}

	theoreticalMax := theoreticalMaxRequests(targetRPS, rampUpTimeSec, actualDurationSec)
	achieved := 0.0
	if theoreticalMax > 0 {
		achieved = 100 * float64(total) / theoreticalMax
	}

	global := GlobalSummary{
		TotalRequests:          total,
		Successful:             successful,
		Failed:                 failed,
		AvgLatencyMs:           reservoir.Mean(),
		MinLatencyMs:           reservoir.Min(),
		MaxLatencyMs:           reservoir.Max(),
		P95LatencyMs:           reservoir.Percentile(95),
		P99LatencyMs:           reservoir.Percentile(99),
		ActualRPS:              actualRPS,
		StatusCounters:         statusCounters,
		TheoreticalMaxRequests: theoreticalMax,
		AchievedPercentage:     achieved,
	}

	endpoints := make(map[ratelimit.EndpointKey]EndpointSummary)
	for key, ep := range sink.EndpointSnapshots() {
		endpoints[key] = EndpointSummary{
			TotalRequests:  ep.Successful + ep.Failed,
			Successful:     ep.Successful,
			Failed:         ep.Failed,
			AvgLatencyMs:   ep.Histogram.Mean(),
			MinLatencyMs:   ep.Histogram.Min(),
			MaxLatencyMs:   ep.Histogram.Max(),
			P95LatencyMs:   ep.Histogram.Percentile(95),
			P99LatencyMs:   ep.Histogram.Percentile(99),
			StatusCounters: ep.StatusCounters,
		}
	}

	return Summary{Global: global, Endpoints: endpoints, SampledResponses: sink.SampledResults()}
}

// theoreticalMaxRequests sums a triangular ramp-up area and a steady-state
// rectangle, handling the edge case where rampUpTimeSec extends beyond the
// run's actual duration (spec §4.8).
func theoreticalMaxRequests(targetRPS, rampUpTimeSec, durationSec float64) float64 {
	if targetRPS <= 0 || durationSec <= 0 {
		return 0
	}

	if rampUpTimeSec <= 0 {
		return targetRPS * durationSec
	}

	if rampUpTimeSec >= durationSec {
		// Ramp never completes within the run: triangular area under the
		// line target*(t/rampUp) from 0 to durationSec.
		return 0.5 * targetRPS * durationSec * durationSec / rampUpTimeSec
	}

	rampArea := 0.5 * rampUpTimeSec * targetRPS
	steadyArea := (durationSec - rampUpTimeSec) * targetRPS
	return rampArea + steadyArea
}
