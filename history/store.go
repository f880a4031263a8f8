package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// RunRecord is one persisted run outcome.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Reason      string    `json:"reason"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Summary     []byte    `json:"summary"` // raw JSON of summary.Summary
}

// Store provides persistent storage of run outcomes.
//
// Design decisions:
// - PostgreSQL for durable history across restarts and instances
// - Append-only (no updates) once a run completes
// - Indexed by completed_at for efficient recent-first pagination
// - JSONB for the summary payload to avoid a brittle column-per-metric schema
type Store struct {
	db *sqldb.Database
}

// NewStore creates a Store backed by db, ensuring its schema exists.
func NewStore(db *sqldb.Database) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS run_history (
			run_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			summary JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_run_history_completed_at
		ON run_history(completed_at DESC);
	`
	_, err := s.db.Exec(ctx, query)
	return err
}

// Insert records one completed run. Idempotent on run_id: a duplicate
// insert (e.g. a redelivered pubsub message) is ignored.
func (s *Store) Insert(ctx context.Context, rec RunRecord) error {
	summaryJSON := rec.Summary
	if summaryJSON == nil {
		summaryJSON = []byte("{}")
	}

	query := `
		INSERT INTO run_history (run_id, reason, started_at, completed_at, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query, rec.RunID, rec.Reason, rec.StartedAt, rec.CompletedAt, summaryJSON)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}
	return nil
}

// List returns recorded runs, most recently completed first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]RunRecord, error) {
	query := `
		SELECT run_id, reason, started_at, completed_at, summary
		FROM run_history
		ORDER BY completed_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0, limit)
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.RunID, &rec.Reason, &rec.StartedAt, &rec.CompletedAt, &rec.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run history: %w", err)
	}
	return records, nil
}

// Count returns the total number of recorded runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM run_history`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count run history: %w", err)
	}
	return count, nil
}

// Get returns a single recorded run by RunID.
func (s *Store) Get(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	query := `
		SELECT run_id, reason, started_at, completed_at, summary
		FROM run_history
		WHERE run_id = $1
	`
	err := s.db.QueryRow(ctx, query, runID).Scan(&rec.RunID, &rec.Reason, &rec.StartedAt, &rec.CompletedAt, &rec.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run %q: %w", runID, err)
	}
	return rec, nil
}

// marshalSummary is a convenience wrapper used by the pubsub subscription
// handler to serialize an incoming event's summary before Insert.
func marshalSummary(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
