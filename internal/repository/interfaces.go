package repository

import (
	"context"
	"time"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/google/uuid"
)

// AgreementVersionRepository defines the persistence operations the refresh
// core needs over the version table. The table is append-and-flag-only:
// versions are inserted, expired by flipping is_current, or patched in place
// on the volatile columns. Nothing here deletes rows.
type AgreementVersionRepository interface {
	// ListCurrent returns every version with is_current = true.
	ListCurrent(ctx context.Context) ([]domain.AgreementVersion, error)

	// ListSignatures returns the change signature of every persisted version,
	// current and historical, for the insertion engine's existence check.
	ListSignatures(ctx context.Context) ([]domain.ChangeSignature, error)

	// ExpireVersions flips is_current to false on the given version rows.
	ExpireVersions(ctx context.Context, ids []uuid.UUID) (int64, error)

	// InsertVersions bulk-inserts new current versions.
	InsertVersions(ctx context.Context, versions []domain.AgreementVersion) (int64, error)

	// PatchVolatile overwrites the volatile columns on rows that are still
	// current; rows expired since the patch was planned are skipped.
	PatchVolatile(ctx context.Context, patches []VolatilePatch) (int64, error)

	// CountCurrentByProcessDate counts current versions computed on the given
	// date, for the run auditor.
	CountCurrentByProcessDate(ctx context.Context, processDate time.Time) (int64, error)

	GetByID(ctx context.Context, id uuid.UUID) (domain.AgreementVersion, error)
	ListCurrentPage(ctx context.Context, limit int, offset int) ([]domain.AgreementVersion, int, error)
	ListHistory(ctx context.Context, customerID string, applicationID string) ([]domain.AgreementVersion, error)
}

// VolatilePatch targets one current version row with fresh volatile values.
type VolatilePatch struct {
	VersionID uuid.UUID
	Volatile  domain.VolatileAttributes
}

// JobRunRepository records run audit state.
type JobRunRepository interface {
	Start(ctx context.Context, run domain.JobRun) (domain.JobRun, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, rowCount int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.JobRun, error)
	List(ctx context.Context, limit int, offset int) ([]domain.JobRun, error)
}

// DataQualityRepository stores non-fatal data issues for observability.
type DataQualityRepository interface {
	Record(ctx context.Context, entry domain.DataQualityEntry) error
	List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.DataQualityEntry, error)
}

// ExportJobRepository manages queued CSV export jobs.
type ExportJobRepository interface {
	Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error)
	List(ctx context.Context, statuses []domain.ExportJobStatus, limit int, offset int) ([]domain.ExportJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error
}

// ExportResult captures the outcome of a completed export job.
type ExportResult struct {
	RowsExported int
	BytesWritten int64
	FilePath     *string
	FileMimeType *string
	FileByteSize *int64
}
