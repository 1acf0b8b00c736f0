package domain

import (
	"strings"
	"time"
)

// RRDSentinel is the date substituted for a null RRDDate during comparison.
// SQL-style NULL = NULL yields unknown, so both sides of every match coalesce
// nulls to fixed sentinels before comparing: empty string for identifiers,
// this date for date fields, zero for numerics. A stored literal 1900-01-01
// and a null therefore compare equal by convention.
var RRDSentinel = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// AgreementKey is the composite business key after null coalescing. It is a
// comparable struct so keys can be used directly as map keys, which makes set
// membership null-safe by construction.
type AgreementKey struct {
	CustomerID     string
	ApplicationID  string
	ContractStatus string
	RRDDate        time.Time
}

// ChangeSignature extends the business key with the coalesced
// change-triggering attributes. Two rows with equal signatures represent the
// same version of the same agreement.
type ChangeSignature struct {
	AgreementKey

	InstallmentAmount    float64
	LTVByTotalOTR        float64
	OutstandingPrincipal float64
	ProductSK            int64
}

// Key returns the coalesced business key for the row.
func (r AgreementSnapshotRow) Key() AgreementKey {
	return AgreementKey{
		CustomerID:     r.CustomerID,
		ApplicationID:  r.ApplicationID,
		ContractStatus: r.ContractStatus,
		RRDDate:        coalesceDate(r.RRDDate, RRDSentinel),
	}
}

// Signature returns the coalesced key plus triggering attributes.
func (r AgreementSnapshotRow) Signature() ChangeSignature {
	return ChangeSignature{
		AgreementKey:         r.Key(),
		InstallmentAmount:    coalesceFloat(r.InstallmentAmount),
		LTVByTotalOTR:        coalesceFloat(r.LTVByTotalOTR),
		OutstandingPrincipal: coalesceFloat(r.OutstandingPrincipal),
		ProductSK:            coalesceInt(r.ProductSK),
	}
}

// HasValidKey reports whether the row carries enough of a business key to
// participate in matching. Rows failing this check are always treated as
// new-insert candidates and flagged as data-quality warnings, never as
// matches.
func (r AgreementSnapshotRow) HasValidKey() bool {
	return strings.TrimSpace(r.CustomerID) != "" && strings.TrimSpace(r.ApplicationID) != ""
}

// SignaturesEqual is the comparator contract: true iff every business-key
// field and every triggering attribute are equal after null coalescing.
func SignaturesEqual(a, b AgreementSnapshotRow) bool {
	return a.Signature() == b.Signature()
}

func coalesceDate(t *time.Time, sentinel time.Time) time.Time {
	if t == nil {
		return sentinel
	}
	// Truncate to a calendar date in UTC so a stored midnight timestamp and a
	// plain date compare equal.
	return dateOnly(*t)
}

func coalesceFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func coalesceInt(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}
