package history

import (
	"context"
	"fmt"

	"encore.dev/pubsub"

	"encore.app/engine"
	runevents "encore.app/pkg/pubsub"
)

// Subscribe to run completion events from the engine service. This
// persists every run's final summary regardless of how it stopped.
var _ = pubsub.NewSubscription(
	engine.RunCompletedTopic,
	"history-record-run-completed",
	pubsub.SubscriptionConfig[*runevents.RunCompletedEvent]{
		Handler: HandleRunCompleted,
	},
)

// HandleRunCompleted persists one run's final summary.
func HandleRunCompleted(ctx context.Context, event *runevents.RunCompletedEvent) error {
	if svc == nil {
		return nil
	}

	summaryJSON, err := marshalSummary(event.Summary)
	if err != nil {
		svc.metrics.WriteErrors.Add(1)
		return fmt.Errorf("marshal summary for run %q: %w", event.RunID, err)
	}

	rec := RunRecord{
		RunID:       event.RunID,
		Reason:      event.Reason,
		StartedAt:   event.StartedAt,
		CompletedAt: event.CompletedAt,
		Summary:     summaryJSON,
	}

	if err := svc.store.Insert(ctx, rec); err != nil {
		svc.metrics.WriteErrors.Add(1)
		return err
	}

	svc.metrics.RunsRecorded.Add(1)
	return nil
}
