package domain

import (
	"time"

	"github.com/google/uuid"
)

// AgreementSnapshotRow is one agreement's candidate state as assembled for a
// single run. The snapshot is rebuilt from scratch every run and discarded
// after reconciliation; it carries no version bookkeeping.
type AgreementSnapshotRow struct {
	// Business key. RRDDate is the loan-closure date and may be null for
	// agreements that are still open.
	CustomerID     string
	ApplicationID  string
	ContractStatus string
	RRDDate        *time.Time

	// Change-triggering attributes: a difference in any of these (after
	// null coalescing) mandates a new version.
	InstallmentAmount    *float64
	LTVByTotalOTR        *float64
	OutstandingPrincipal *float64
	ProductSK            *int64

	// Descriptive attributes, carried on the row but never compared.
	BranchCode         string
	BranchName         string
	ProductCode        string
	ProductName        string
	RiskGrade          string
	TenorMonths        *int32
	DisbursementAmount *float64
	InsuranceCompany   string
	AgreementDate      *time.Time

	Volatile VolatileAttributes
}

// VolatileAttributes are late-arriving fields refreshed in place on the
// current version without creating a new one. They are deliberately excluded
// from the change-triggering comparison.
type VolatileAttributes struct {
	LastPaidDate        *time.Time
	NextDueDate         *time.Time
	InstallmentsPaid    *int32
	HighestOverdueCount *int32
	RealLTVGroup        *string
	PefindoScore        *int32
	PefindoScorePartner *int32
	MobilePhone         *string
}

// VolatilesEqual reports whether two volatile attribute sets carry the same
// values, treating nil and the other side's nil as equal. Used to skip no-op
// patches so a re-run touches nothing.
func VolatilesEqual(a, b VolatileAttributes) bool {
	return ptrTimeEqual(a.LastPaidDate, b.LastPaidDate) &&
		ptrTimeEqual(a.NextDueDate, b.NextDueDate) &&
		ptrEqual(a.InstallmentsPaid, b.InstallmentsPaid) &&
		ptrEqual(a.HighestOverdueCount, b.HighestOverdueCount) &&
		ptrEqual(a.RealLTVGroup, b.RealLTVGroup) &&
		ptrEqual(a.PefindoScore, b.PefindoScore) &&
		ptrEqual(a.PefindoScorePartner, b.PefindoScorePartner) &&
		ptrEqual(a.MobilePhone, b.MobilePhone)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrTimeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// AgreementVersion is one persisted version of an agreement's state. Versions
// are append-and-flag-only: they are created by the insertion engine, expired
// by flipping IsCurrent, and patched in place on the volatile fields only.
type AgreementVersion struct {
	ID uuid.UUID

	AgreementSnapshotRow

	// IsCurrent marks the single authoritative version per business key.
	IsCurrent bool

	// ProcessDate is the run date the version was computed on. Set once at
	// insertion, never mutated.
	ProcessDate time.Time

	CreatedAt time.Time
}

// NewVersionFromSnapshot promotes a snapshot row to a new current version for
// the given process date.
func NewVersionFromSnapshot(row AgreementSnapshotRow, processDate time.Time) AgreementVersion {
	return AgreementVersion{
		ID:                   uuid.New(),
		AgreementSnapshotRow: row,
		IsCurrent:            true,
		ProcessDate:          dateOnly(processDate),
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
