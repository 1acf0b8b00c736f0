package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a refresh run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// JobRun is the audit record for one refresh run. A run is opened as running
// before assembly starts; on success it records the count of current versions
// whose process date equals the run's date.
type JobRun struct {
	ID           uuid.UUID  `json:"id"`
	Status       RunStatus  `json:"status"`
	ProcessDate  time.Time  `json:"process_date"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	RowCount     *int64     `json:"row_count,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}
