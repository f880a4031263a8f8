package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encore.dev/pubsub"
	"github.com/google/uuid"

	"encore.app/pkg/middleware"
	runevents "encore.app/pkg/pubsub"
	"encore.app/summary"
)

//encore:service
type Service struct {
	mu   sync.Mutex
	runs map[string]*runState
}

// runState tracks one in-flight or completed run, keyed by its RunID.
type runState struct {
	controller *Controller
	cancel     context.CancelFunc
	startedAt  time.Time
	stopped    atomic.Bool
	done       bool
	summary    summary.Summary
}

var svc *Service

func initService() (*Service, error) {
	return &Service{runs: make(map[string]*runState)}, nil
}

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize engine service: %v", err))
	}
}

var RunStartedTopic = pubsub.NewTopic[*runevents.RunStartedEvent](
	runevents.TopicRunStarted,
	pubsub.TopicConfig{DeliveryGuarantee: pubsub.AtLeastOnce},
)

var RunCompletedTopic = pubsub.NewTopic[*runevents.RunCompletedEvent](
	runevents.TopicRunCompleted,
	pubsub.TopicConfig{DeliveryGuarantee: pubsub.AtLeastOnce},
)

var RunEarlyExitTopic = pubsub.NewTopic[*runevents.RunEarlyExitEvent](
	runevents.TopicRunEarlyExit,
	pubsub.TopicConfig{DeliveryGuarantee: pubsub.AtLeastOnce},
)

// StartRunRequest wraps a RunConfig behind the HTTP boundary.
type StartRunRequest struct {
	Config RunConfig `json:"config"`
}

// StartRunResponse returns the generated RunID the caller polls or stops.
type StartRunResponse struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
}

// StartRun validates and launches one load-generation run asynchronously,
// returning immediately with its RunID.
//
//encore:api public method=POST path=/runs
func StartRun(ctx context.Context, req *StartRunRequest) (*StartRunResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.StartRun(ctx, req)
}

func (s *Service) StartRun(ctx context.Context, req *StartRunRequest) (*StartRunResponse, error) {
	controller, err := NewController(req.Config, NewDefaultExecutor(DefaultDefaultExecutorOptions()))
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	controller.SetRunID(runID)
	runCtx, cancel := context.WithCancel(context.Background())
	startedAt := time.Now()

	rs := &runState{controller: controller, cancel: cancel, startedAt: startedAt}

	s.mu.Lock()
	s.runs[runID] = rs
	s.mu.Unlock()

	go s.drive(runID, rs, runCtx)

	event := &runevents.RunStartedEvent{
		Version:        runevents.EventVersion1,
		RunID:          runID,
		StartedAt:      startedAt,
		TargetRPSTotal: req.Config.TargetRPSTotal(),
	}
	if _, err := RunStartedTopic.Publish(ctx, event); err != nil {
		return nil, fmt.Errorf("publish run started: %w", err)
	}

	return &StartRunResponse{RunID: runID, StartedAt: startedAt}, nil
}

// drive runs the controller to completion off the request goroutine,
// recording its summary and publishing completion events.
func (s *Service) drive(runID string, rs *runState, runCtx context.Context) {
	go func() {
		select {
		case <-rs.controller.Sink().EarlyExit():
			successful, failed, _, _ := rs.controller.Sink().GlobalSnapshot()
			_, _ = RunEarlyExitTopic.Publish(context.Background(), &runevents.RunEarlyExitEvent{
				Version:            runevents.EventVersion1,
				RunID:              runID,
				TriggeredAt:        time.Now(),
				SuccessfulRequests: successful,
				FailedRequests:     failed,
			})
		case <-runCtx.Done():
		}
	}()

	sum := rs.controller.Run(runCtx)

	s.mu.Lock()
	rs.done = true
	rs.summary = sum
	s.mu.Unlock()

	reason := "duration"
	switch {
	case rs.stopped.Load():
		reason = "stopped"
	case sum.Global.Failed > 0:
		select {
		case <-rs.controller.Sink().EarlyExit():
			reason = "early_exit"
		default:
		}
	}

	_, _ = RunCompletedTopic.Publish(context.Background(), &runevents.RunCompletedEvent{
		Version:     runevents.EventVersion1,
		RunID:       runID,
		Reason:      reason,
		StartedAt:   rs.startedAt,
		CompletedAt: time.Now(),
		Summary:     sum,
	})
}

// RunStatusResponse reports a run's live lifecycle state and, once the run
// is done, its final summary.
type RunStatusResponse struct {
	RunID     string          `json:"runId"`
	State     string          `json:"state"`
	StartedAt time.Time       `json:"startedAt"`
	Done      bool            `json:"done"`
	Summary   summary.Summary `json:"summary,omitempty"`
}

// GetRunStatus reports the live or final status of a run by RunID.
//
//encore:api public method=GET path=/runs/:runID
func GetRunStatus(ctx context.Context, runID string) (*RunStatusResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.GetRunStatus(runID)
}

func (s *Service) GetRunStatus(runID string) (*RunStatusResponse, error) {
	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("run %q not found", runID)
	}

	resp := &RunStatusResponse{
		RunID:     runID,
		State:     rs.controller.State().String(),
		StartedAt: rs.startedAt,
	}

	s.mu.Lock()
	if rs.done {
		resp.Done = true
		resp.Summary = rs.summary
	}
	s.mu.Unlock()

	return resp, nil
}

// StopRunResponse confirms a stop request was accepted.
type StopRunResponse struct {
	RunID    string `json:"runId"`
	Accepted bool   `json:"accepted"`
}

// StopRun requests early termination of a run by cancelling its root
// context; the run still produces a summary reflecting work completed so
// far.
//
//encore:api public method=POST path=/runs/:runID/stop
func StopRun(ctx context.Context, runID string) (*StopRunResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.StopRun(runID)
}

func (s *Service) StopRun(runID string) (*StopRunResponse, error) {
	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("run %q not found", runID)
	}

	rs.stopped.Store(true)
	middleware.LogRunEvent(runID, "run_stop_requested", nil)
	rs.cancel()
	return &StopRunResponse{RunID: runID, Accepted: true}, nil
}
