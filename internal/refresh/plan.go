package refresh

import (
	"fmt"

	"github.com/adiwn/agreementmart/internal/domain"
	"github.com/adiwn/agreementmart/internal/repository"
	"github.com/adiwn/agreementmart/internal/snapshot"

	"github.com/google/uuid"
)

// Plan is the full set of mutations one refresh run will apply, computed
// before anything is written. Expirations apply first, then insertions, then
// volatile patches.
type Plan struct {
	ExpireIDs []uuid.UUID
	Inserts   []domain.AgreementSnapshotRow
	Patches   []repository.VolatilePatch
	Warnings  []snapshot.Warning
}

const planSource = "plan"

// BuildPlan diffs the snapshot against the stored versions.
//
// A current version whose change signature has no match in the snapshot is
// expired; that covers both changed agreements (the snapshot carries a new
// signature) and disappeared ones. A snapshot row whose signature matches no
// stored version, current or historical, becomes a new current version.
// Matching the full history keeps re-runs idempotent: the second run finds
// every signature already stored and inserts nothing. A current version whose
// signature survives in the snapshot gets its volatile attributes overwritten
// in place, with no new version row.
//
// At most one insert is planned per business key. Assemblers deduplicate per
// key already, but the plan enforces it again so a key can never end the run
// with two current versions: a would-be insert for a key that already
// survived or claimed an insert is skipped with a warning.
//
// Rows without a valid business key cannot participate in matching. They are
// always insert candidates and each one raises a warning.
func BuildPlan(
	current []domain.AgreementVersion,
	existing []domain.ChangeSignature,
	rows []domain.AgreementSnapshotRow,
) Plan {
	var plan Plan

	snapshotBySig := make(map[domain.ChangeSignature]domain.AgreementSnapshotRow, len(rows))
	for _, row := range rows {
		if !row.HasValidKey() {
			continue
		}
		sig := row.Signature()
		if _, dup := snapshotBySig[sig]; !dup {
			snapshotBySig[sig] = row
		}
	}

	existingSigs := make(map[domain.ChangeSignature]struct{}, len(existing))
	for _, sig := range existing {
		existingSigs[sig] = struct{}{}
	}

	claimedKeys := make(map[domain.AgreementKey]struct{}, len(current))

	for _, version := range current {
		sig := version.Signature()
		match, survives := snapshotBySig[sig]
		if !survives {
			plan.ExpireIDs = append(plan.ExpireIDs, version.ID)
			continue
		}
		claimedKeys[version.Key()] = struct{}{}
		if !domain.VolatilesEqual(version.Volatile, match.Volatile) {
			plan.Patches = append(plan.Patches, repository.VolatilePatch{
				VersionID: version.ID,
				Volatile:  match.Volatile,
			})
		}
	}

	for _, row := range rows {
		if !row.HasValidKey() {
			plan.Inserts = append(plan.Inserts, row)
			plan.Warnings = append(plan.Warnings, snapshot.Warning{
				Source:        planSource,
				ApplicationID: row.ApplicationID,
				Message: fmt.Sprintf(
					"row with missing business key (customer=%q application=%q) inserted without matching",
					row.CustomerID, row.ApplicationID,
				),
			})
			continue
		}
		if _, known := existingSigs[row.Signature()]; known {
			continue
		}
		key := row.Key()
		if _, taken := claimedKeys[key]; taken {
			plan.Warnings = append(plan.Warnings, snapshot.Warning{
				Source:        planSource,
				ApplicationID: row.ApplicationID,
				Message: fmt.Sprintf(
					"duplicate row for customer %s skipped, agreement already has a current version this run",
					row.CustomerID,
				),
			})
			continue
		}
		plan.Inserts = append(plan.Inserts, row)
		claimedKeys[key] = struct{}{}
	}

	return plan
}
