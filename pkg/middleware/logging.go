// Package middleware provides structured logging helpers shared across the
// load-generation services.
//
// This file implements structured run-lifecycle logging with:
//   - Correlation ID propagation (RunID) through context.Context
//   - JSON structured logging, one line per lifecycle event
//   - Low-overhead design: called on state transitions, never per request
//
// Design Notes:
//   - Uses standard log package for compatibility
//   - RunIDs let log lines from a single run be correlated; LogRunEvent is
//     called from the engine service only
//   - Deliberately NOT wired into the per-request hot path (engine's
//     Worker loop): logging every dispatched request at load-generation
//     volumes would dominate the cost of the run itself
package middleware

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// contextKey avoids collisions with other packages' context keys.
type contextKey string

const runIDKey contextKey = "run-id"

// NewRunID generates a new correlation ID for a run.
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID attaches runID to ctx for downstream structured logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromCtx retrieves the run ID from ctx, or "" if absent.
func RunIDFromCtx(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}

// LogRunEvent writes one structured JSON log line for a run lifecycle
// event (started, worker scaled, stopped, completed). fields carries
// event-specific details (e.g. "workers", "reason", "target_rps").
func LogRunEvent(runID, event string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"run_id":    runID,
		"event":     event,
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[ERROR] failed to marshal run event %q for run %q: %v", event, runID, err)
		return
	}
	log.Printf("[INFO] %s", string(data))
}
