package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// RunRepository keeps the submission run log.
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository constructs a repository.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// Start records a started run and returns its id.
func (r *RunRepository) Start(ctx context.Context, hpoID string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO steward.submission_runs (id, hpo_id, status, started_at)
		VALUES ($1,$2,$3,$4)
	`, id, hpoID, model.RunStarted, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish stores the outcome of a run.
func (r *RunRepository) Finish(ctx context.Context, id string, outcome model.RunOutcome) error {
	return r.updateStatus(ctx, id, outcome.Status, nullable(outcome.Folder), outcome.ErrorOccurred, nullable(outcome.Message))
}

func (r *RunRepository) updateStatus(ctx context.Context, id string, status model.RunStatus, folder *string, errorOccurred bool, msg *string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE steward.submission_runs
		SET status=$1,
			folder = COALESCE($2, folder),
			error_occurred=$3,
			message=$4,
			finished_at=$5
		WHERE id=$6
	`, status, folder, errorOccurred, msg, now, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Recent returns the latest runs for hpoID, newest first. An empty hpoID
// returns runs for every site.
func (r *RunRepository) Recent(ctx context.Context, hpoID string, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, hpo_id, folder, status, error_occurred, message, started_at, finished_at
		FROM steward.submission_runs
		WHERE $1 = '' OR hpo_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, hpoID, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Run, error) {
		var run model.Run
		err := row.Scan(&run.ID, &run.HPOID, &run.Folder, &run.Status, &run.ErrorOccurred, &run.Message, &run.StartedAt, &run.FinishedAt)
		return run, err
	})
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return runs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
