package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrExportJobStatusConflict indicates that a job cannot transition to the
// requested state, typically because another worker got there first.
var ErrExportJobStatusConflict = errors.New("export job status conflict")

type exportJobRepository struct {
	pool *pgxpool.Pool
}

// NewExportJobRepository wires a repository backed by pgxpool.
func NewExportJobRepository(pool *pgxpool.Pool) ExportJobRepository {
	return &exportJobRepository{pool: pool}
}

const exportJobColumns = `id, job_type, customer_id, application_id,
	rows_requested, rows_exported, bytes_written,
	file_path, file_mime_type, file_byte_size,
	status, error_message, enqueued_at, started_at, completed_at, updated_at`

func (r *exportJobRepository) Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.RowsRequested < 0 {
		job.RowsRequested = 0
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO agreement_export_jobs (id, job_type, customer_id, application_id, rows_requested, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID,
		job.JobType,
		job.CustomerID,
		job.ApplicationID,
		job.RowsRequested,
		domain.ExportJobStatusPending,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("failed to insert export job: %w", err)
	}
	return r.GetByID(ctx, job.ID)
}

func (r *exportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	job, err := scanExportJob(r.pool.QueryRow(
		ctx,
		`SELECT `+exportJobColumns+` FROM agreement_export_jobs WHERE id = $1`,
		id,
	))
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("failed to get export job %s: %w", id, err)
	}
	return job, nil
}

func (r *exportJobRepository) List(ctx context.Context, statuses []domain.ExportJobStatus, limit int, offset int) ([]domain.ExportJob, error) {
	if len(statuses) == 0 {
		return []domain.ExportJob{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	statusValues := make([]string, len(statuses))
	for i, status := range statuses {
		statusValues[i] = string(status)
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+exportJobColumns+`
		 FROM agreement_export_jobs
		 WHERE status = ANY($1)
		 ORDER BY enqueued_at DESC
		 LIMIT $2 OFFSET $3`,
		statusValues,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list export jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ExportJob{}
	for rows.Next() {
		job, scanErr := scanExportJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate export jobs: %w", err)
	}
	return jobs, nil
}

func (r *exportJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE agreement_export_jobs
		 SET status = $1, started_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		domain.ExportJobStatusRunning,
		id,
		domain.ExportJobStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark export job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStatusConflict
	}
	return nil
}

func (r *exportJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error {
	if rowsExported < 0 {
		rowsExported = 0
	}
	if bytesWritten < 0 {
		bytesWritten = 0
	}

	var requested *int
	if rowsRequested != nil {
		value := *rowsRequested
		if value < rowsExported {
			value = rowsExported
		}
		requested = &value
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE agreement_export_jobs
		 SET rows_exported = $1,
		     bytes_written = $2,
		     rows_requested = COALESCE($3, rows_requested),
		     updated_at = NOW()
		 WHERE id = $4`,
		rowsExported,
		bytesWritten,
		requested,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update export progress: %w", err)
	}
	return nil
}

func (r *exportJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE agreement_export_jobs
		 SET status = $1,
		     rows_exported = $2,
		     bytes_written = $3,
		     file_path = $4,
		     file_mime_type = $5,
		     file_byte_size = $6,
		     completed_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $7`,
		domain.ExportJobStatusCompleted,
		result.RowsExported,
		result.BytesWritten,
		result.FilePath,
		result.FileMimeType,
		result.FileByteSize,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark export job completed: %w", err)
	}
	return nil
}

func (r *exportJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE agreement_export_jobs
		 SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $3`,
		domain.ExportJobStatusFailed,
		errorMessage,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark export job failed: %w", err)
	}
	return nil
}

func (r *exportJobRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE agreement_export_jobs
		 SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $3 AND status = ANY($4)`,
		domain.ExportJobStatusCancelled,
		reason,
		id,
		[]string{string(domain.ExportJobStatusPending), string(domain.ExportJobStatusRunning)},
	)
	if err != nil {
		return fmt.Errorf("failed to mark export job cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStatusConflict
	}
	return nil
}

func scanExportJob(row pgx.Row) (domain.ExportJob, error) {
	var job domain.ExportJob
	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.CustomerID,
		&job.ApplicationID,
		&job.RowsRequested,
		&job.RowsExported,
		&job.BytesWritten,
		&job.FilePath,
		&job.FileMimeType,
		&job.FileByteSize,
		&job.Status,
		&job.ErrorMessage,
		&job.EnqueuedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.ExportJob{}, err
	}
	return job, nil
}
