package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"encore.app/summary"
)

// Event versioning strategy:
// - Version 1: Initial schema
// - Future versions: Add fields, never remove (backward compatible)
// - Consumers should check Version and handle appropriately

const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// RunStartedEvent marks the moment a run's worker pool begins dispatching.
// This event is published to TopicRunStarted.
type RunStartedEvent struct {
	// Version of the event schema (for backward compatibility)
	Version int `json:"version"`

	// RunID identifies the run, generated by the engine service.
	RunID string `json:"run_id"`

	// StartedAt is the time dispatching began.
	StartedAt time.Time `json:"started_at"`

	// TargetRPSTotal is the run's resolved aggregate target, before ramp-up.
	TargetRPSTotal float64 `json:"target_rps_total"`
}

// Validate checks if the RunStartedEvent is well-formed.
func (e *RunStartedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	if e.StartedAt.IsZero() {
		return errors.New("started_at cannot be zero")
	}
	return nil
}

// ToJSON serializes the event to JSON.
func (e *RunStartedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RunStartedEventFromJSON deserializes a RunStartedEvent from JSON.
func RunStartedEventFromJSON(data []byte) (*RunStartedEvent, error) {
	var e RunStartedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RunStartedEvent: %w", err)
	}
	return &e, nil
}

// RunCompletedEvent carries a run's final summary. This event is published
// to TopicRunCompleted whether the run stopped by duration, early exit, or
// an explicit StopRun call.
type RunCompletedEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Reason the run stopped: "duration", "early_exit", or "stopped".
	Reason string `json:"reason"`

	// StartedAt is the time the run's workers began dispatching.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is the time the run reached StateStopped.
	CompletedAt time.Time `json:"completed_at"`

	// Summary is the run's full global and per-endpoint rollup.
	Summary summary.Summary `json:"summary"`
}

// Validate checks if the RunCompletedEvent is well-formed.
func (e *RunCompletedEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	validReasons := map[string]bool{"duration": true, "early_exit": true, "stopped": true}
	if !validReasons[e.Reason] {
		return fmt.Errorf("invalid reason: %s (must be duration, early_exit, or stopped)", e.Reason)
	}
	if e.CompletedAt.IsZero() {
		return errors.New("completed_at cannot be zero")
	}
	return nil
}

// ToJSON serializes the event to JSON.
func (e *RunCompletedEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RunCompletedEventFromJSON deserializes a RunCompletedEvent from JSON.
func RunCompletedEventFromJSON(data []byte) (*RunCompletedEvent, error) {
	var e RunCompletedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RunCompletedEvent: %w", err)
	}
	return &e, nil
}

// RunEarlyExitEvent marks the moment a run's early-exit predicate trips,
// ahead of the eventual RunCompletedEvent. This event is published to
// TopicRunEarlyExit.
type RunEarlyExitEvent struct {
	// Version of the event schema
	Version int `json:"version"`

	// RunID identifies the run.
	RunID string `json:"run_id"`

	// TriggeredAt is the time the predicate tripped.
	TriggeredAt time.Time `json:"triggered_at"`

	// SuccessfulRequests and FailedRequests are the global counters read
	// just after the predicate tripped; results recorded in between are
	// included.
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
}

// Validate checks if the RunEarlyExitEvent is well-formed.
func (e *RunEarlyExitEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}
	return nil
}

// ToJSON serializes the event to JSON.
func (e *RunEarlyExitEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RunEarlyExitEventFromJSON deserializes a RunEarlyExitEvent from JSON.
func RunEarlyExitEventFromJSON(data []byte) (*RunEarlyExitEvent, error) {
	var e RunEarlyExitEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RunEarlyExitEvent: %w", err)
	}
	return &e, nil
}
