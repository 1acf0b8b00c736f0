package snapshot

import (
	"context"
	"fmt"

	"github.com/adiwn/agreementmart/internal/domain"
)

// Assembler produces the point-in-time snapshot the refresh runs against.
// Implementations read, never write: the warehouse query assembler pulls from
// staging tables, the file assembler parses an uploaded CSV/XLSX backfill.
type Assembler interface {
	Assemble(ctx context.Context) (Result, error)
}

// Warning is a non-fatal data issue found while assembling, persisted to the
// data-quality log by the refresh service.
type Warning struct {
	Source        string
	ApplicationID string
	RowNumber     *int
	Message       string
}

// Result is the assembled snapshot plus any warnings raised along the way.
type Result struct {
	Rows     []domain.AgreementSnapshotRow
	Warnings []Warning
}

// Dedupe keeps the first row per business key and reports the rest as
// warnings. Later rows for an already-seen key are dropped even when their
// triggering attributes differ: the snapshot must carry at most one row per
// agreement. Rows without a valid business key pass through untouched; the
// planner handles those separately.
func Dedupe(source string, rows []domain.AgreementSnapshotRow) ([]domain.AgreementSnapshotRow, []Warning) {
	seen := make(map[domain.AgreementKey]struct{}, len(rows))
	unique := make([]domain.AgreementSnapshotRow, 0, len(rows))
	var warnings []Warning

	for _, row := range rows {
		if !row.HasValidKey() {
			unique = append(unique, row)
			continue
		}

		key := row.Key()
		if _, dup := seen[key]; dup {
			warnings = append(warnings, Warning{
				Source:        source,
				ApplicationID: row.ApplicationID,
				Message:       fmt.Sprintf("duplicate snapshot row for customer %s, first occurrence kept", row.CustomerID),
			})
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, row)
	}

	return unique, warnings
}
