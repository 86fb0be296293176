package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// SnapshotStore persists terminal pipeline states so an external checkpoint
// collaborator can inspect or replay runs.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *SnapshotStore) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026060901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_snapshots (
			id         UUID PRIMARY KEY,
			run_id     TEXT NOT NULL,
			status     TEXT NOT NULL,
			state      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		return fmt.Errorf("create pipeline_snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_pipeline_snapshots_run_id
		ON pipeline_snapshots (run_id)`); err != nil {
		return fmt.Errorf("create run_id index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SnapshotStore) SaveSnapshot(ctx context.Context, runID string, status domain.RunStatus, state []byte) error {
	if runID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save snapshot", fmt.Errorf("run_id is required"))
	}
	if len(state) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "save snapshot", fmt.Errorf("state is empty"))
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_snapshots (id, run_id, status, state, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), runID, string(status), state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}
