package snapshot

import (
	"context"
	"strings"
	"testing"

	"github.com/adiwn/agreementmart/internal/domain"
)

func TestFileAssemblerParsesCSV(t *testing.T) {
	csvData := "customer_id,application_id,contract_status,rrd_date,installment_amount,mobile_phone\n" +
		"C001,A001,ACTIVE,2024-05-01,1500.50,0812345678\n" +
		"C002,A002,,,,\n"

	assembler := NewFileAssembler("snapshot.csv", strings.NewReader(csvData))
	result, err := assembler.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}

	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	first := result.Rows[0]
	if first.CustomerID != "C001" || first.ApplicationID != "A001" {
		t.Fatalf("unexpected key on first row: %s/%s", first.CustomerID, first.ApplicationID)
	}
	if first.ContractStatus != "ACTIVE" {
		t.Fatalf("expected contract status ACTIVE, got %q", first.ContractStatus)
	}
	if first.RRDDate == nil || first.RRDDate.Format("2006-01-02") != "2024-05-01" {
		t.Fatalf("unexpected rrd date: %v", first.RRDDate)
	}
	if first.InstallmentAmount == nil || *first.InstallmentAmount != 1500.50 {
		t.Fatalf("unexpected installment amount: %v", first.InstallmentAmount)
	}
	if first.Volatile.MobilePhone == nil || *first.Volatile.MobilePhone != "0812345678" {
		t.Fatalf("unexpected mobile phone: %v", first.Volatile.MobilePhone)
	}

	second := result.Rows[1]
	if second.RRDDate != nil || second.InstallmentAmount != nil || second.Volatile.MobilePhone != nil {
		t.Fatalf("expected empty cells to stay nil, got %+v", second)
	}
}

func TestFileAssemblerStripsByteOrderMark(t *testing.T) {
	csvData := "\xEF\xBB\xBFcustomer_id,application_id\nC001,A001\n"

	assembler := NewFileAssembler("snapshot.csv", strings.NewReader(csvData))
	result, err := assembler.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if result.Rows[0].CustomerID != "C001" {
		t.Fatalf("header with BOM not recognized: %q", result.Rows[0].CustomerID)
	}
}

func TestFileAssemblerNormalizesHeaders(t *testing.T) {
	csvData := "Customer ID,Application-ID,Contract.Status\nC001,A001,ACTIVE\n"

	assembler := NewFileAssembler("snapshot.csv", strings.NewReader(csvData))
	result, err := assembler.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	row := result.Rows[0]
	if row.CustomerID != "C001" || row.ApplicationID != "A001" || row.ContractStatus != "ACTIVE" {
		t.Fatalf("headers not normalized: %+v", row)
	}
}

func TestFileAssemblerWarnsOnBadCell(t *testing.T) {
	csvData := "customer_id,application_id,installment_amount\n" +
		"C001,A001,not-a-number\n" +
		"C002,A002,2000\n"

	assembler := NewFileAssembler("snapshot.csv", strings.NewReader(csvData))
	result, err := assembler.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}

	if len(result.Rows) != 1 {
		t.Fatalf("expected bad row to be dropped, got %d rows", len(result.Rows))
	}
	if result.Rows[0].CustomerID != "C002" {
		t.Fatalf("wrong surviving row: %s", result.Rows[0].CustomerID)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	warning := result.Warnings[0]
	if warning.ApplicationID != "A001" {
		t.Fatalf("warning should carry the application id, got %q", warning.ApplicationID)
	}
	if warning.RowNumber == nil || *warning.RowNumber != 2 {
		t.Fatalf("unexpected warning row number: %v", warning.RowNumber)
	}
}

func TestFileAssemblerRequiresKeyColumns(t *testing.T) {
	csvData := "customer_id,contract_status\nC001,ACTIVE\n"

	assembler := NewFileAssembler("snapshot.csv", strings.NewReader(csvData))
	if _, err := assembler.Assemble(context.Background()); err == nil {
		t.Fatal("expected error for missing application_id column")
	}
}

func TestFileAssemblerRejectsUnknownExtension(t *testing.T) {
	assembler := NewFileAssembler("snapshot.txt", strings.NewReader("a,b\n1,2\n"))
	if _, err := assembler.Assemble(context.Background()); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestDedupeKeepsFirstPerAgreement(t *testing.T) {
	phone := "0800000000"
	rows := []domain.AgreementSnapshotRow{
		{CustomerID: "C001", ApplicationID: "A001"},
		{CustomerID: "C001", ApplicationID: "A001", Volatile: domain.VolatileAttributes{MobilePhone: &phone}},
		{CustomerID: "C002", ApplicationID: "A002"},
	}

	unique, warnings := Dedupe("warehouse", rows)
	if len(unique) != 2 {
		t.Fatalf("expected 2 unique rows, got %d", len(unique))
	}
	if unique[0].Volatile.MobilePhone != nil {
		t.Fatal("expected the first occurrence to win")
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 duplicate warning, got %d", len(warnings))
	}
	if warnings[0].ApplicationID != "A001" {
		t.Fatalf("unexpected warning target: %q", warnings[0].ApplicationID)
	}
}

func TestDedupeDropsSameKeyWithDifferentTriggeringValues(t *testing.T) {
	lowPrincipal := 1000.0
	highPrincipal := 2000.0
	rows := []domain.AgreementSnapshotRow{
		{CustomerID: "C001", ApplicationID: "A001", OutstandingPrincipal: &lowPrincipal},
		{CustomerID: "C001", ApplicationID: "A001", OutstandingPrincipal: &highPrincipal},
	}

	unique, warnings := Dedupe("warehouse", rows)
	if len(unique) != 1 {
		t.Fatalf("one agreement must yield one row regardless of attribute differences, got %d", len(unique))
	}
	if unique[0].OutstandingPrincipal == nil || *unique[0].OutstandingPrincipal != 1000.0 {
		t.Fatalf("expected the first occurrence to win, got %v", unique[0].OutstandingPrincipal)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 duplicate warning, got %d", len(warnings))
	}
}

func TestDedupePassesInvalidKeysThrough(t *testing.T) {
	rows := []domain.AgreementSnapshotRow{
		{CustomerID: "", ApplicationID: "A001"},
		{CustomerID: "", ApplicationID: "A001"},
	}

	unique, warnings := Dedupe("warehouse", rows)
	if len(unique) != 2 {
		t.Fatalf("invalid-key rows must not be deduplicated, got %d", len(unique))
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %d", len(warnings))
	}
}
