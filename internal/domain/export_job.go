package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExportJobType enumerates supported export job types.
type ExportJobType string

const (
	// ExportJobTypeCurrent exports every is-current agreement row.
	ExportJobTypeCurrent ExportJobType = "CURRENT"
	// ExportJobTypeHistory exports the full version history for one
	// customer/application pair.
	ExportJobTypeHistory ExportJobType = "HISTORY"
)

// ExportJobStatus captures lifecycle state for an export job.
type ExportJobStatus string

const (
	ExportJobStatusPending   ExportJobStatus = "PENDING"
	ExportJobStatusRunning   ExportJobStatus = "RUNNING"
	ExportJobStatusCompleted ExportJobStatus = "COMPLETED"
	ExportJobStatusFailed    ExportJobStatus = "FAILED"
	ExportJobStatusCancelled ExportJobStatus = "CANCELLED"
)

// ExportJob mirrors persisted export job metadata for dashboards and workers.
type ExportJob struct {
	ID            uuid.UUID       `json:"id"`
	JobType       ExportJobType   `json:"job_type"`
	CustomerID    *string         `json:"customer_id,omitempty"`
	ApplicationID *string         `json:"application_id,omitempty"`
	RowsRequested int             `json:"rows_requested"`
	RowsExported  int             `json:"rows_exported"`
	BytesWritten  int64           `json:"bytes_written"`
	FilePath      *string         `json:"file_path,omitempty"`
	FileMimeType  *string         `json:"file_mime_type,omitempty"`
	FileByteSize  *int64          `json:"file_byte_size,omitempty"`
	Status        ExportJobStatus `json:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
