package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// CheckpointRepository persists scheduler checkpoints so restarts resume the cadence
type CheckpointRepository struct {
	db dbtx
}

func NewCheckpointRepository(pool *pgxpool.Pool) *CheckpointRepository {
	return &CheckpointRepository{db: pool}
}

func (r *CheckpointRepository) Load(ctx context.Context, name string) (*domain.SchedulerCheckpoint, error) {
	var cp domain.SchedulerCheckpoint
	err := r.db.QueryRow(ctx,
		`SELECT name, last_run_started_at, last_run_finished_at, last_run_status, next_run_at, updated_at
		 FROM scheduler_checkpoints WHERE name = $1`,
		name,
	).Scan(&cp.Name, &cp.LastRunStartedAt, &cp.LastRunFinishedAt, &cp.LastRunStatus, &cp.NextRunAt, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, err
	}
	return &cp, nil
}

func (r *CheckpointRepository) Save(ctx context.Context, cp *domain.SchedulerCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO scheduler_checkpoints (name, last_run_started_at, last_run_finished_at, last_run_status, next_run_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
			last_run_started_at = EXCLUDED.last_run_started_at,
			last_run_finished_at = EXCLUDED.last_run_finished_at,
			last_run_status = EXCLUDED.last_run_status,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = EXCLUDED.updated_at`,
		cp.Name, cp.LastRunStartedAt, cp.LastRunFinishedAt, cp.LastRunStatus, cp.NextRunAt, cp.UpdatedAt,
	)
	return err
}
