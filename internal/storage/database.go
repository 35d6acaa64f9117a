// Package storage persists the run journal: one row per durable run so
// operators can inspect recent activity without touching the execution
// engine. Journal writes are best-effort; execution never depends on them.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// import db drivers
	_ "github.com/lib/pq"

	"github.com/casthq/shophand/internal/core"
)

// Store defines the run journal operations.
type Store interface {
	// StartRun records a run entering execution. Re-inserting an id the
	// journal already holds is a no-op, since the host may redeliver.
	StartRun(ctx context.Context, rec *core.RunRecord) error

	// FinishRun stamps the terminal state and error message.
	FinishRun(ctx context.Context, id string, state core.RunState, runErr error) error

	// RecentRuns returns the newest records first.
	RecentRuns(ctx context.Context, limit int) ([]core.RunRecord, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a Postgres-backed Store.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) StartRun(ctx context.Context, rec *core.RunRecord) error {
	query := `INSERT INTO runs (id, shop_domain, job_id, topic, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.ShopDomain, rec.JobID, rec.Topic, rec.State, startedAt)
	if err != nil {
		return fmt.Errorf("failed to journal run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *postgresStore) FinishRun(ctx context.Context, id string, state core.RunState, runErr error) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}

	query := `UPDATE runs SET state = $2, error = $3, finished_at = $4 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, state, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to finish journal entry %s: %w", id, err)
	}
	return nil
}

func (s *postgresStore) RecentRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, shop_domain, job_id, topic, state, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT $1`

	var records []core.RunRecord
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}

// noopStore is used when no database is configured. Runs still execute; the
// journal just records nothing.
type noopStore struct{}

// NewNoopStore returns a Store that drops every write.
func NewNoopStore() Store {
	return noopStore{}
}

func (noopStore) StartRun(context.Context, *core.RunRecord) error { return nil }

func (noopStore) FinishRun(context.Context, string, core.RunState, error) error { return nil }

func (noopStore) RecentRuns(context.Context, int) ([]core.RunRecord, error) {
	return nil, fmt.Errorf("run journal is not configured, set database.dsn")
}
