// Package history persists the outcome of every load-generation run and
// exposes it for later retrieval, mirroring the audit-trail role
// invalidation/audit.go plays for cache invalidations in the system this
// engine's storage layer is modeled on.
package history

import (
	"context"
	"fmt"
	"sync/atomic"

	"encore.dev/storage/sqldb"
)

//encore:service
type Service struct {
	store   RunStore
	metrics *Metrics
}

// RunStore abstracts persistence so tests can substitute an in-memory
// implementation instead of a real database.
type RunStore interface {
	Insert(ctx context.Context, rec RunRecord) error
	List(ctx context.Context, limit, offset int) ([]RunRecord, error)
	Count(ctx context.Context) (int, error)
	Get(ctx context.Context, runID string) (RunRecord, error)
}

// Metrics tracks the history service's own write/read activity.
type Metrics struct {
	RunsRecorded atomic.Int64
	ListCalls    atomic.Int64
	GetCalls     atomic.Int64
	WriteErrors  atomic.Int64
}

// Database for run history storage.
var db = sqldb.Named("history_db")

func initService() (*Service, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	return &Service{store: store, metrics: &Metrics{}}, nil
}

var svc *Service

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize history service: %v", err))
	}
}

// ListRunsRequest paginates over recorded runs, most recent first.
type ListRunsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ListRunsResponse is a page of recorded run summaries.
type ListRunsResponse struct {
	Runs  []RunRecord `json:"runs"`
	Total int         `json:"total"`
}

// ListRuns returns recorded runs, most recently completed first.
//
//encore:api public method=GET path=/history/runs
func ListRuns(ctx context.Context, req *ListRunsRequest) (*ListRunsResponse, error) {
	if svc == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return svc.ListRuns(ctx, req)
}

func (s *Service) ListRuns(ctx context.Context, req *ListRunsRequest) (*ListRunsResponse, error) {
	s.metrics.ListCalls.Add(1)

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	runs, err := s.store.List(ctx, limit, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	return &ListRunsResponse{Runs: runs, Total: total}, nil
}

// GetRunResponse wraps a single recorded run.
type GetRunResponse struct {
	Run RunRecord `json:"run"`
}

// GetRun returns one recorded run by RunID.
//
//encore:api public method=GET path=/history/runs/:runID
func GetRun(ctx context.Context, runID string) (*GetRunResponse, error) {
	if svc == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return svc.GetRun(ctx, runID)
}

func (s *Service) GetRun(ctx context.Context, runID string) (*GetRunResponse, error) {
	s.metrics.GetCalls.Add(1)

	run, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %q: %w", runID, err)
	}
	return &GetRunResponse{Run: run}, nil
}
