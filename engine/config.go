// Package engine implements the load-generation core: request templates,
// the Worker loop, the Controller state machine, and the Encore service
// boundary that exposes them.
package engine

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"encore.app/ratelimit"
)

// RequestTemplate describes one endpoint to drive load against. Immutable
// after RunConfig is validated.
type RequestTemplate struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Payload   interface{}       `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TargetRPS *float64          `json:"targetRps,omitempty"`
}

// EndpointKey returns the deterministic "METHOD SP URL" identity used for
// rate limiting, histograms, and status counters.
func (t RequestTemplate) EndpointKey() ratelimit.EndpointKey {
	return ratelimit.EndpointKey(strings.ToUpper(t.Method) + " " + t.URL)
}

// EarlyExitConfig mirrors the `earlyExitOnError` configuration surface.
type EarlyExitConfig struct {
	Enabled             bool     `json:"earlyExitOnError"`
	ErrorRateThreshold  *float64 `json:"errorRateThreshold,omitempty"`
	ErrorCountThreshold *int64   `json:"errorCountThreshold,omitempty"`
	ErrorStatusCodes    []int    `json:"errorStatusCodes,omitempty"`
}

// RunConfig is the validated, immutable input to one load-generation run.
type RunConfig struct {
	Requests           []RequestTemplate `json:"requests"`
	GlobalHeaders      map[string]string `json:"headers,omitempty"`
	Workers            int               `json:"workers"`
	ConcurrentRequests int               `json:"concurrentRequests,omitempty"`
	DurationSec        int               `json:"duration"`
	RampUpTimeSec      int               `json:"rampUpTime"`
	RPS                *float64          `json:"rps,omitempty"`
	Autoscale          bool              `json:"autoscale"`
	EarlyExit          EarlyExitConfig   `json:"earlyExit,omitempty"`
	Export             string            `json:"export,omitempty"`
}

// defaultPerEndpointRPS is the per-endpoint target rate assumed for any
// template lacking an explicit TargetRPS when no global rps is set (spec
// §9, Open Question: "the source assigns 100 as the per-endpoint default").
// Exposed as a named constant, per the spec's suggested alternative,
// instead of a silent inline literal.
const defaultPerEndpointRPS = 100

// DefaultRunConfig returns a RunConfig with every optional field at its
// documented default (spec §6).
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Workers:       10,
		DurationSec:   10,
		RampUpTimeSec: 0,
		Autoscale:     false,
	}
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// FieldError is one offending (path, message) pair inside a ValidationError.
type FieldError struct {
	Path    string
	Message string
}

// ValidationError enumerates every offending field path found while
// validating a RunConfig. It is never partial: callers see every violation
// in one pass, not just the first.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid run config:")
	for _, fe := range e.Errors {
		fmt.Fprintf(&b, " [%s: %s]", fe.Path, fe.Message)
	}
	return b.String()
}

func (e *ValidationError) add(path, format string, args ...interface{}) {
	e.Errors = append(e.Errors, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks c against spec §6's rules, returning a *ValidationError
// enumerating every violation, or nil if c is well-formed.
func (c *RunConfig) Validate() error {
	ve := &ValidationError{}

	if len(c.Requests) == 0 {
		ve.add("requests", "must be non-empty")
	}
	for i, r := range c.Requests {
		path := fmt.Sprintf("requests[%d]", i)
		method := r.Method
		if method == "" {
			method = http.MethodGet
		}
		if !validMethods[strings.ToUpper(method)] {
			ve.add(path+".method", "unsupported method %q", r.Method)
		}
		u, err := url.Parse(r.URL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			ve.add(path+".url", "must be an absolute http(s) URL, got %q", r.URL)
		}
		if r.TargetRPS != nil && *r.TargetRPS <= 0 {
			ve.add(path+".targetRps", "must be positive, got %v", *r.TargetRPS)
		}
	}

	if c.Workers <= 0 {
		ve.add("workers", "must be positive, got %d", c.Workers)
	}
	if c.ConcurrentRequests < 0 {
		ve.add("concurrentRequests", "must be positive when set, got %d", c.ConcurrentRequests)
	}
	if c.DurationSec <= 0 {
		ve.add("duration", "must be positive, got %d", c.DurationSec)
	}
	if c.RampUpTimeSec < 0 {
		ve.add("rampUpTime", "must be non-negative, got %d", c.RampUpTimeSec)
	}
	if c.RPS != nil && *c.RPS <= 0 {
		ve.add("rps", "must be positive when set, got %v", *c.RPS)
	}

	if c.EarlyExit.Enabled {
		hasAxis := c.EarlyExit.ErrorRateThreshold != nil ||
			c.EarlyExit.ErrorCountThreshold != nil ||
			len(c.EarlyExit.ErrorStatusCodes) > 0
		if !hasAxis {
			ve.add("earlyExit", "earlyExitOnError requires at least one of errorRateThreshold, errorCountThreshold, errorStatusCodes")
		}
		if c.EarlyExit.ErrorRateThreshold != nil {
			if v := *c.EarlyExit.ErrorRateThreshold; v < 0 || v > 1 {
				ve.add("earlyExit.errorRateThreshold", "must be in [0,1], got %v", v)
			}
		}
		if c.EarlyExit.ErrorCountThreshold != nil && *c.EarlyExit.ErrorCountThreshold < 0 {
			ve.add("earlyExit.errorCountThreshold", "must be non-negative, got %d", *c.EarlyExit.ErrorCountThreshold)
		}
		for _, code := range c.EarlyExit.ErrorStatusCodes {
			if code < 100 || code > 599 {
				ve.add("earlyExit.errorStatusCodes", "status code %d out of range [100,599]", code)
			}
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// TargetRPSTotal resolves the run's aggregate target RPS per §4.7: the
// global rps if set, else the sum of per-template targetRps values with
// missing entries defaulting to defaultPerEndpointRPS.
func (c *RunConfig) TargetRPSTotal() float64 {
	if c.RPS != nil {
		return *c.RPS
	}
	var total float64
	for _, r := range c.Requests {
		if r.TargetRPS != nil {
			total += *r.TargetRPS
		} else {
			total += defaultPerEndpointRPS
		}
	}
	return total
}
