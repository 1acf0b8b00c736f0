package domain

import (
	"time"

	"github.com/google/uuid"
)

// DataQualityEntry records a non-fatal data issue observed during a run:
// malformed business keys, duplicate snapshot rows, unparseable file cells.
// These are warnings for operators, not errors that abort the run.
type DataQualityEntry struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	Source        string    `json:"source"`
	ApplicationID string    `json:"application_id,omitempty"`
	RowNumber     *int      `json:"row_number,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}
