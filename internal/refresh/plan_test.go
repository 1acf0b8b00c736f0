package refresh

import (
	"testing"
	"time"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/google/uuid"
)

func currentVersion(row domain.AgreementSnapshotRow) domain.AgreementVersion {
	return domain.AgreementVersion{
		ID:                   uuid.New(),
		AgreementSnapshotRow: row,
		IsCurrent:            true,
		ProcessDate:          time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func signaturesOf(versions []domain.AgreementVersion) []domain.ChangeSignature {
	sigs := make([]domain.ChangeSignature, len(versions))
	for i, v := range versions {
		sigs[i] = v.Signature()
	}
	return sigs
}

func TestBuildPlanMatchesNullRRDAgainstSentinel(t *testing.T) {
	stored := makeRow("C001", "A001", 1000)
	stored.RRDDate = nil
	current := []domain.AgreementVersion{currentVersion(stored)}

	incoming := makeRow("C001", "A001", 1000)
	sentinel := domain.RRDSentinel
	incoming.RRDDate = &sentinel

	plan := BuildPlan(current, signaturesOf(current), []domain.AgreementSnapshotRow{incoming})
	if len(plan.ExpireIDs) != 0 {
		t.Fatal("null RRD must match the sentinel date, nothing should expire")
	}
	if len(plan.Inserts) != 0 {
		t.Fatal("null RRD must match the sentinel date, nothing should insert")
	}
}

func TestBuildPlanMatchesNullNumericAgainstZero(t *testing.T) {
	stored := makeRow("C001", "A001", 1000)
	stored.InstallmentAmount = nil
	current := []domain.AgreementVersion{currentVersion(stored)}

	incoming := makeRow("C001", "A001", 1000)
	incoming.InstallmentAmount = floatPtr(0)

	plan := BuildPlan(current, signaturesOf(current), []domain.AgreementSnapshotRow{incoming})
	if len(plan.ExpireIDs) != 0 || len(plan.Inserts) != 0 {
		t.Fatalf("null numeric must equal zero, got %d expires and %d inserts",
			len(plan.ExpireIDs), len(plan.Inserts))
	}
}

func TestBuildPlanSkipsNoopPatches(t *testing.T) {
	stored := makeRow("C001", "A001", 1000)
	stored.Volatile.InstallmentsPaid = int32Ptr(5)
	current := []domain.AgreementVersion{currentVersion(stored)}

	incoming := makeRow("C001", "A001", 1000)
	incoming.Volatile.InstallmentsPaid = int32Ptr(5)

	plan := BuildPlan(current, signaturesOf(current), []domain.AgreementSnapshotRow{incoming})
	if len(plan.Patches) != 0 {
		t.Fatalf("identical volatile values must not be patched, got %d patches", len(plan.Patches))
	}
}

func TestBuildPlanInsertsOncePerKey(t *testing.T) {
	rows := []domain.AgreementSnapshotRow{
		makeRow("C001", "A001", 1000),
		makeRow("C001", "A001", 2000),
	}

	plan := BuildPlan(nil, nil, rows)
	if len(plan.Inserts) != 1 {
		t.Fatalf("one agreement must yield one insert, got %d", len(plan.Inserts))
	}
	if *plan.Inserts[0].OutstandingPrincipal != 1000 {
		t.Fatalf("expected the first row to win, got principal %v", *plan.Inserts[0].OutstandingPrincipal)
	}
	if len(plan.Warnings) != 1 {
		t.Fatalf("expected a warning for the skipped duplicate, got %d", len(plan.Warnings))
	}
}

func TestBuildPlanSkipsConflictingRowForSurvivingKey(t *testing.T) {
	stored := makeRow("C001", "A001", 1000)
	current := []domain.AgreementVersion{currentVersion(stored)}

	plan := BuildPlan(current, signaturesOf(current), []domain.AgreementSnapshotRow{
		makeRow("C001", "A001", 1000),
		makeRow("C001", "A001", 2000),
	})

	if len(plan.ExpireIDs) != 0 {
		t.Fatal("surviving version must not expire")
	}
	if len(plan.Inserts) != 0 {
		t.Fatalf("conflicting row for a surviving key must not insert, got %d", len(plan.Inserts))
	}
	if len(plan.Warnings) != 1 {
		t.Fatalf("expected a warning for the skipped duplicate, got %d", len(plan.Warnings))
	}
}

func TestBuildPlanPatchesOnlySurvivingVersions(t *testing.T) {
	survivor := makeRow("C001", "A001", 1000)
	changed := makeRow("C002", "A002", 2000)
	current := []domain.AgreementVersion{currentVersion(survivor), currentVersion(changed)}

	freshSurvivor := makeRow("C001", "A001", 1000)
	freshSurvivor.Volatile.MobilePhone = strPtr("0812000000")
	freshChanged := makeRow("C002", "A002", 1500)
	freshChanged.Volatile.MobilePhone = strPtr("0813000000")

	plan := BuildPlan(current, signaturesOf(current), []domain.AgreementSnapshotRow{freshSurvivor, freshChanged})

	if len(plan.Patches) != 1 {
		t.Fatalf("only the surviving version should be patched, got %d", len(plan.Patches))
	}
	if plan.Patches[0].VersionID != current[0].ID {
		t.Fatal("patch targets the wrong version")
	}
	if len(plan.ExpireIDs) != 1 || plan.ExpireIDs[0] != current[1].ID {
		t.Fatalf("changed version should expire, got %v", plan.ExpireIDs)
	}
	if len(plan.Inserts) != 1 {
		t.Fatalf("changed signature should insert once, got %d", len(plan.Inserts))
	}
}
