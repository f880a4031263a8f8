package pubsub

import (
	"testing"
	"time"

	"encore.app/summary"
)

func TestRunStartedEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   RunStartedEvent
		wantErr bool
	}{
		{
			name:    "valid",
			event:   RunStartedEvent{Version: EventVersion1, RunID: "run-123", StartedAt: now, TargetRPSTotal: 100},
			wantErr: false,
		},
		{
			name:    "invalid version",
			event:   RunStartedEvent{Version: 999, RunID: "run-123", StartedAt: now},
			wantErr: true,
		},
		{
			name:    "missing run_id",
			event:   RunStartedEvent{Version: EventVersion1, StartedAt: now},
			wantErr: true,
		},
		{
			name:    "zero started_at",
			event:   RunStartedEvent{Version: EventVersion1, RunID: "run-123"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunStartedEvent_JSON(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	event := RunStartedEvent{
		Version:        EventVersion1,
		RunID:          "run-123",
		StartedAt:      now,
		TargetRPSTotal: 250.5,
	}

	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	decoded, err := RunStartedEventFromJSON(data)
	if err != nil {
		t.Fatalf("RunStartedEventFromJSON() error = %v", err)
	}

	if decoded.RunID != event.RunID {
		t.Errorf("RunID = %v, want %v", decoded.RunID, event.RunID)
	}
	if !decoded.StartedAt.Equal(event.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", decoded.StartedAt, event.StartedAt)
	}
	if decoded.TargetRPSTotal != event.TargetRPSTotal {
		t.Errorf("TargetRPSTotal = %v, want %v", decoded.TargetRPSTotal, event.TargetRPSTotal)
	}
}

func TestRunCompletedEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   RunCompletedEvent
		wantErr bool
	}{
		{
			name:    "valid duration",
			event:   RunCompletedEvent{Version: EventVersion1, RunID: "run-123", Reason: "duration", CompletedAt: now},
			wantErr: false,
		},
		{
			name:    "valid early_exit",
			event:   RunCompletedEvent{Version: EventVersion1, RunID: "run-123", Reason: "early_exit", CompletedAt: now},
			wantErr: false,
		},
		{
			name:    "invalid reason",
			event:   RunCompletedEvent{Version: EventVersion1, RunID: "run-123", Reason: "bogus", CompletedAt: now},
			wantErr: true,
		},
		{
			name:    "missing run_id",
			event:   RunCompletedEvent{Version: EventVersion1, Reason: "duration", CompletedAt: now},
			wantErr: true,
		},
		{
			name:    "zero completed_at",
			event:   RunCompletedEvent{Version: EventVersion1, RunID: "run-123", Reason: "duration"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunCompletedEvent_JSON(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	event := RunCompletedEvent{
		Version:     EventVersion1,
		RunID:       "run-123",
		Reason:      "duration",
		CompletedAt: now,
		Summary: summary.Summary{
			Global: summary.GlobalSummary{TotalRequests: 500, Successful: 490, Failed: 10},
		},
	}

	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	decoded, err := RunCompletedEventFromJSON(data)
	if err != nil {
		t.Fatalf("RunCompletedEventFromJSON() error = %v", err)
	}

	if decoded.RunID != event.RunID {
		t.Errorf("RunID = %v, want %v", decoded.RunID, event.RunID)
	}
	if decoded.Summary.Global.TotalRequests != event.Summary.Global.TotalRequests {
		t.Errorf("Summary.Global.TotalRequests = %v, want %v", decoded.Summary.Global.TotalRequests, event.Summary.Global.TotalRequests)
	}
}

func TestRunEarlyExitEvent_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		event   RunEarlyExitEvent
		wantErr bool
	}{
		{
			name:    "valid",
			event:   RunEarlyExitEvent{Version: EventVersion1, RunID: "run-123", TriggeredAt: now, FailedRequests: 10},
			wantErr: false,
		},
		{
			name:    "missing run_id",
			event:   RunEarlyExitEvent{Version: EventVersion1, TriggeredAt: now},
			wantErr: true,
		},
		{
			name:    "zero triggered_at",
			event:   RunEarlyExitEvent{Version: EventVersion1, RunID: "run-123"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
