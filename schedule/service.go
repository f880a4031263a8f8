// Package schedule lets an operator register a RunConfig to be replayed
// automatically on a recurring cron schedule, so a load profile (a nightly
// smoke run, an hourly sanity check) doesn't need a human to kick it off
// each time.
//
// Encore's cron.NewJob declarations are fixed at compile time, so this
// package exposes a small set of predefined buckets ("hourly", "nightly")
// rather than arbitrary cron expressions: a registered ScheduledRun names
// the bucket it wants to fire on, and the corresponding cron job fans out
// to every entry registered against it.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"encore.app/engine"
)

//encore:service
type Service struct {
	mu        sync.RWMutex
	schedules map[string]*ScheduledRun
	metrics   *Metrics
}

// Metrics tracks the schedule service's own activity.
type Metrics struct {
	RunsTriggered atomic.Int64
	TriggerErrors atomic.Int64
}

// ScheduledRun is one registered recurring replay of a RunConfig.
type ScheduledRun struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Bucket    string           `json:"bucket"` // "hourly" or "nightly"
	Config    engine.RunConfig `json:"config"`
	Enabled   bool             `json:"enabled"`
	CreatedAt time.Time        `json:"createdAt"`
	LastRunAt *time.Time       `json:"lastRunAt,omitempty"`
	LastRunID string           `json:"lastRunId,omitempty"`
	RunCount  int64            `json:"runCount"`
}

var validBuckets = map[string]bool{"hourly": true, "nightly": true}

var svc *Service

func initService() (*Service, error) {
	return &Service{schedules: make(map[string]*ScheduledRun), metrics: &Metrics{}}, nil
}

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize schedule service: %v", err))
	}
}

// RegisterScheduleRequest registers a RunConfig to replay on a bucket.
type RegisterScheduleRequest struct {
	Name   string           `json:"name"`
	Bucket string           `json:"bucket"`
	Config engine.RunConfig `json:"config"`
}

// RegisterScheduleResponse confirms registration.
type RegisterScheduleResponse struct {
	Schedule ScheduledRun `json:"schedule"`
}

// RegisterSchedule registers a new recurring replay of a RunConfig.
//
//encore:api public method=POST path=/schedules
func RegisterSchedule(ctx context.Context, req *RegisterScheduleRequest) (*RegisterScheduleResponse, error) {
	if svc == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return svc.RegisterSchedule(req)
}

func (s *Service) RegisterSchedule(req *RegisterScheduleRequest) (*RegisterScheduleResponse, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if !validBuckets[req.Bucket] {
		return nil, fmt.Errorf("invalid bucket %q: must be hourly or nightly", req.Bucket)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	entry := &ScheduledRun{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Bucket:    req.Bucket,
		Config:    req.Config,
		Enabled:   true,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.schedules[entry.ID] = entry
	s.mu.Unlock()

	return &RegisterScheduleResponse{Schedule: *entry}, nil
}

// ListSchedulesResponse lists every registered schedule.
type ListSchedulesResponse struct {
	Schedules []ScheduledRun `json:"schedules"`
}

// ListSchedules returns every registered schedule.
//
//encore:api public method=GET path=/schedules
func ListSchedules(ctx context.Context) (*ListSchedulesResponse, error) {
	if svc == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return svc.ListSchedules(), nil
}

func (s *Service) ListSchedules() *ListSchedulesResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledRun, 0, len(s.schedules))
	for _, entry := range s.schedules {
		out = append(out, *entry)
	}
	return &ListSchedulesResponse{Schedules: out}
}

// DeleteScheduleResponse confirms removal.
type DeleteScheduleResponse struct {
	Deleted bool `json:"deleted"`
}

// DeleteSchedule removes a registered schedule by ID.
//
//encore:api public method=DELETE path=/schedules/:scheduleID
func DeleteSchedule(ctx context.Context, scheduleID string) (*DeleteScheduleResponse, error) {
	if svc == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return svc.DeleteSchedule(scheduleID)
}

func (s *Service) DeleteSchedule(scheduleID string) (*DeleteScheduleResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[scheduleID]; !ok {
		return nil, fmt.Errorf("schedule %q not found", scheduleID)
	}
	delete(s.schedules, scheduleID)
	return &DeleteScheduleResponse{Deleted: true}, nil
}

// triggerBucket replays every enabled schedule registered against bucket.
func (s *Service) triggerBucket(ctx context.Context, bucket string) error {
	s.mu.RLock()
	due := make([]*ScheduledRun, 0)
	for _, entry := range s.schedules {
		if entry.Enabled && entry.Bucket == bucket {
			due = append(due, entry)
		}
	}
	s.mu.RUnlock()

	for _, entry := range due {
		resp, err := engine.StartRun(ctx, &engine.StartRunRequest{Config: entry.Config})
		if err != nil {
			s.metrics.TriggerErrors.Add(1)
			continue
		}

		s.metrics.RunsTriggered.Add(1)

		s.mu.Lock()
		now := time.Now()
		entry.LastRunAt = &now
		entry.LastRunID = resp.RunID
		entry.RunCount++
		s.mu.Unlock()
	}

	return nil
}
