package repository

import (
	"context"
	"fmt"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type jobRunRepository struct {
	pool *pgxpool.Pool
}

// NewJobRunRepository wires a repository backed by pgxpool.
func NewJobRunRepository(pool *pgxpool.Pool) JobRunRepository {
	return &jobRunRepository{pool: pool}
}

func (r *jobRunRepository) Start(ctx context.Context, run domain.JobRun) (domain.JobRun, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = domain.RunStatusRunning

	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO job_runs (id, status, process_date)
		 VALUES ($1, $2, $3)
		 RETURNING started_at`,
		run.ID,
		run.Status,
		run.ProcessDate,
	).Scan(&run.StartedAt)
	if err != nil {
		return domain.JobRun{}, fmt.Errorf("failed to start job run: %w", err)
	}
	return run, nil
}

func (r *jobRunRepository) MarkSuccess(ctx context.Context, id uuid.UUID, rowCount int64) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE job_runs
		 SET status = $1, row_count = $2, ended_at = NOW()
		 WHERE id = $3`,
		domain.RunStatusSuccess,
		rowCount,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job run success: %w", err)
	}
	return nil
}

func (r *jobRunRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE job_runs
		 SET status = $1, error_message = $2, ended_at = NOW()
		 WHERE id = $3`,
		domain.RunStatusFailed,
		errorMessage,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job run failed: %w", err)
	}
	return nil
}

func (r *jobRunRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.JobRun, error) {
	run, err := scanJobRun(r.pool.QueryRow(
		ctx,
		`SELECT id, status, process_date, started_at, ended_at, row_count, error_message
		 FROM job_runs
		 WHERE id = $1`,
		id,
	))
	if err != nil {
		return domain.JobRun{}, fmt.Errorf("failed to get job run %s: %w", id, err)
	}
	return run, nil
}

func (r *jobRunRepository) List(ctx context.Context, limit int, offset int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, status, process_date, started_at, ended_at, row_count, error_message
		 FROM job_runs
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.JobRun{}
	for rows.Next() {
		run, scanErr := scanJobRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job runs: %w", err)
	}
	return runs, nil
}

func scanJobRun(row pgx.Row) (domain.JobRun, error) {
	var run domain.JobRun
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.ProcessDate,
		&run.StartedAt,
		&run.EndedAt,
		&run.RowCount,
		&run.ErrorMessage,
	)
	if err != nil {
		return domain.JobRun{}, err
	}
	return run, nil
}
