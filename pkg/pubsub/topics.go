// Package pubsub provides topic names and event type definitions for the
// load generator's event-driven architecture.
//
// Topic Naming Convention:
//   - run.started: a run's workers have begun dispatching
//   - run.completed: a run reached its terminal summary
//   - run.early_exit: a run's early-exit predicate tripped
//
// Design Notes:
//   - Topics are defined as constants to avoid typos and enable compile-time checks
//   - Version field in events enables schema evolution without breaking consumers
//   - No direct Encore dependencies to keep pkg/ reusable across services
package pubsub

// Topic name constants for Encore Pub/Sub integration.
// These should be used when defining pubsub.Topic[T] in service code.
const (
	// TopicRunStarted is published when a run's worker pool starts
	// dispatching requests.
	// Event type: RunStartedEvent
	// Publishers: engine
	// Subscribers: none in this repository
	TopicRunStarted = "run.started"

	// TopicRunCompleted is published when a run reaches its terminal
	// summary, whether by duration, early exit, or an explicit stop.
	// Event type: RunCompletedEvent
	// Publishers: engine
	// Subscribers: history
	TopicRunCompleted = "run.completed"

	// TopicRunEarlyExit is published the moment a run's early-exit
	// predicate trips, ahead of the eventual RunCompletedEvent.
	// Event type: RunEarlyExitEvent
	// Publishers: engine
	// Subscribers: none in this repository
	TopicRunEarlyExit = "run.early_exit"
)

// AllTopics returns all defined topic names.
// Useful for validation, testing, and administrative tools.
func AllTopics() []string {
	return []string{
		TopicRunStarted,
		TopicRunCompleted,
		TopicRunEarlyExit,
	}
}

// IsValidTopic checks if the given topic name is recognized.
func IsValidTopic(topic string) bool {
	for _, t := range AllTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// TopicMetadata provides descriptive information about topics.
type TopicMetadata struct {
	Name        string
	Description string
	EventType   string
}

// GetTopicMetadata returns metadata for all topics.
// Useful for documentation generation and admin UIs.
func GetTopicMetadata() []TopicMetadata {
	return []TopicMetadata{
		{
			Name:        TopicRunStarted,
			Description: "A run's worker pool has started dispatching requests",
			EventType:   "RunStartedEvent",
		},
		{
			Name:        TopicRunCompleted,
			Description: "A run reached its terminal summary",
			EventType:   "RunCompletedEvent",
		},
		{
			Name:        TopicRunEarlyExit,
			Description: "A run's early-exit predicate tripped",
			EventType:   "RunEarlyExitEvent",
		},
	}
}
