package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	dateLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"02/01/2006",
		"01/02/2006",
	}
)

// FileAssembler parses an uploaded CSV or XLSX snapshot for manual backfill.
// Unlike schema-inferring ingestion the column set here is fixed: headers are
// normalized and matched against the agreement columns, unknown columns are
// ignored, rows whose cells cannot be coerced are dropped with a warning.
type FileAssembler struct {
	fileName string
	data     io.Reader
}

// NewFileAssembler wraps an uploaded file for assembly.
func NewFileAssembler(fileName string, data io.Reader) *FileAssembler {
	return &FileAssembler{fileName: fileName, data: data}
}

func (a *FileAssembler) Assemble(_ context.Context) (Result, error) {
	if a.data == nil {
		return Result{}, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(a.data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return Result{}, errors.New("file is empty")
	}

	records, err := parseRecords(a.fileName, payload)
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		return Result{}, errors.New("no rows found in file")
	}

	headers := sanitizeHeaders(records[0])
	columns, err := mapColumns(headers)
	if err != nil {
		return Result{}, err
	}

	source := filepath.Base(a.fileName)
	rows := []domain.AgreementSnapshotRow{}
	var warnings []Warning

	for idx, record := range records[1:] {
		if isEmptyRow(record) {
			continue
		}
		rowNumber := idx + 2 // 1-based, header included

		row, rowErr := buildRow(columns, record)
		if rowErr != nil {
			number := rowNumber
			warnings = append(warnings, Warning{
				Source:        source,
				ApplicationID: cellAt(record, columns["application_id"]),
				RowNumber:     &number,
				Message:       rowErr.Error(),
			})
			continue
		}
		rows = append(rows, row)
	}

	unique, dupWarnings := Dedupe(source, rows)
	return Result{Rows: unique, Warnings: append(warnings, dupWarnings...)}, nil
}

func parseRecords(fileName string, payload []byte) ([][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		headers[idx] = strings.Trim(name, "_")
	}
	return headers
}

// mapColumns resolves each known column name to its index. The two business
// key columns must be present; everything else is optional.
func mapColumns(headers []string) (map[string]int, error) {
	columns := make(map[string]int, len(headers))
	for idx, header := range headers {
		if header == "" {
			continue
		}
		if _, dup := columns[header]; !dup {
			columns[header] = idx
		}
	}

	for _, required := range []string{"customer_id", "application_id"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}
	return columns, nil
}

func buildRow(columns map[string]int, record []string) (domain.AgreementSnapshotRow, error) {
	var row domain.AgreementSnapshotRow
	var err error

	row.CustomerID = cellAt(record, columns["customer_id"])
	row.ApplicationID = cellAt(record, columns["application_id"])
	row.ContractStatus = cell(columns, record, "contract_status")
	row.BranchCode = cell(columns, record, "branch_code")
	row.BranchName = cell(columns, record, "branch_name")
	row.ProductCode = cell(columns, record, "product_code")
	row.ProductName = cell(columns, record, "product_name")
	row.RiskGrade = cell(columns, record, "risk_grade")
	row.InsuranceCompany = cell(columns, record, "insurance_company")

	if row.RRDDate, err = dateCell(columns, record, "rrd_date"); err != nil {
		return row, err
	}
	if row.AgreementDate, err = dateCell(columns, record, "agreement_date"); err != nil {
		return row, err
	}
	if row.InstallmentAmount, err = floatCell(columns, record, "installment_amount"); err != nil {
		return row, err
	}
	if row.LTVByTotalOTR, err = floatCell(columns, record, "ltv_by_total_otr"); err != nil {
		return row, err
	}
	if row.OutstandingPrincipal, err = floatCell(columns, record, "outstanding_principal"); err != nil {
		return row, err
	}
	if row.DisbursementAmount, err = floatCell(columns, record, "disbursement_amount"); err != nil {
		return row, err
	}
	if row.ProductSK, err = int64Cell(columns, record, "product_sk"); err != nil {
		return row, err
	}
	if row.TenorMonths, err = int32Cell(columns, record, "tenor_months"); err != nil {
		return row, err
	}

	if row.Volatile.LastPaidDate, err = dateCell(columns, record, "last_paid_date"); err != nil {
		return row, err
	}
	if row.Volatile.NextDueDate, err = dateCell(columns, record, "next_due_date"); err != nil {
		return row, err
	}
	if row.Volatile.InstallmentsPaid, err = int32Cell(columns, record, "installments_paid"); err != nil {
		return row, err
	}
	if row.Volatile.HighestOverdueCount, err = int32Cell(columns, record, "highest_overdue_count"); err != nil {
		return row, err
	}
	if row.Volatile.PefindoScore, err = int32Cell(columns, record, "pefindo_score"); err != nil {
		return row, err
	}
	if row.Volatile.PefindoScorePartner, err = int32Cell(columns, record, "pefindo_score_partner"); err != nil {
		return row, err
	}
	if group := cell(columns, record, "real_ltv_group"); group != "" {
		row.Volatile.RealLTVGroup = &group
	}
	if phone := cell(columns, record, "mobile_phone"); phone != "" {
		row.Volatile.MobilePhone = &phone
	}

	return row, nil
}

func cell(columns map[string]int, record []string, name string) string {
	idx, ok := columns[name]
	if !ok {
		return ""
	}
	return cellAt(record, idx)
}

func cellAt(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func dateCell(columns map[string]int, record []string, name string) (*time.Time, error) {
	raw := cell(columns, record, name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("column %s: unrecognized date %q", name, raw)
}

func floatCell(columns map[string]int, record []string, name string) (*float64, error) {
	raw := cell(columns, record, name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: unable to coerce %q to number", name, raw)
	}
	return &value, nil
}

func int64Cell(columns map[string]int, record []string, name string) (*int64, error) {
	raw := cell(columns, record, name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: unable to coerce %q to integer", name, raw)
	}
	return &value, nil
}

func int32Cell(columns map[string]int, record []string, name string) (*int32, error) {
	raw := cell(columns, record, name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("column %s: unable to coerce %q to integer", name, raw)
	}
	parsed := int32(value)
	return &parsed, nil
}

func isEmptyRow(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
