package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CanonicalText flattens a version into a deterministic set of lines suitable
// for diffing. Null fields render as "null" so a value appearing or
// disappearing shows up as a changed line rather than a missing one.
func (v AgreementVersion) CanonicalText() []string {
	return []string{
		fmt.Sprintf("CustomerID: %s", v.CustomerID),
		fmt.Sprintf("ApplicationID: %s", v.ApplicationID),
		fmt.Sprintf("ContractStatus: %s", v.ContractStatus),
		fmt.Sprintf("RRDDate: %s", fmtDate(v.RRDDate)),
		fmt.Sprintf("InstallmentAmount: %s", fmtFloat(v.InstallmentAmount)),
		fmt.Sprintf("LTVByTotalOTR: %s", fmtFloat(v.LTVByTotalOTR)),
		fmt.Sprintf("OutstandingPrincipal: %s", fmtFloat(v.OutstandingPrincipal)),
		fmt.Sprintf("ProductSK: %s", fmtInt64(v.ProductSK)),
		fmt.Sprintf("BranchCode: %s", v.BranchCode),
		fmt.Sprintf("BranchName: %s", v.BranchName),
		fmt.Sprintf("ProductCode: %s", v.ProductCode),
		fmt.Sprintf("ProductName: %s", v.ProductName),
		fmt.Sprintf("RiskGrade: %s", v.RiskGrade),
		fmt.Sprintf("TenorMonths: %s", fmtInt32(v.TenorMonths)),
		fmt.Sprintf("DisbursementAmount: %s", fmtFloat(v.DisbursementAmount)),
		fmt.Sprintf("InsuranceCompany: %s", v.InsuranceCompany),
		fmt.Sprintf("AgreementDate: %s", fmtDate(v.AgreementDate)),
		fmt.Sprintf("LastPaidDate: %s", fmtDate(v.Volatile.LastPaidDate)),
		fmt.Sprintf("NextDueDate: %s", fmtDate(v.Volatile.NextDueDate)),
		fmt.Sprintf("InstallmentsPaid: %s", fmtInt32(v.Volatile.InstallmentsPaid)),
		fmt.Sprintf("HighestOverdueCount: %s", fmtInt32(v.Volatile.HighestOverdueCount)),
		fmt.Sprintf("RealLTVGroup: %s", fmtString(v.Volatile.RealLTVGroup)),
		fmt.Sprintf("PefindoScore: %s", fmtInt32(v.Volatile.PefindoScore)),
		fmt.Sprintf("PefindoScorePartner: %s", fmtInt32(v.Volatile.PefindoScorePartner)),
		fmt.Sprintf("MobilePhone: %s", fmtString(v.Volatile.MobilePhone)),
		fmt.Sprintf("IsCurrent: %t", v.IsCurrent),
		fmt.Sprintf("ProcessDate: %s", v.ProcessDate.Format("2006-01-02")),
	}
}

// DiffVersions produces a unified diff between two versions using the
// provided labels, for audit investigation of why a new version was cut.
func DiffVersions(baseLabel string, base *AgreementVersion, targetLabel string, target *AgreementVersion) string {
	var baseLines, targetLines []string
	if base != nil {
		baseLines = base.CanonicalText()
	}
	if target != nil {
		targetLines = target.CanonicalText()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	for _, edit := range diffLines(baseLines, targetLines) {
		builder.WriteString(edit.marker)
		builder.WriteString(edit.line)
		builder.WriteString("\n")
	}
	return builder.String()
}

type lineEdit struct {
	marker string
	line   string
}

// diffLines emits a longest-common-subsequence edit script over the canonical
// lines of the two versions.
func diffLines(base, target []string) []lineEdit {
	m := len(base)
	n := len(target)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	edits := make([]lineEdit, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case base[i] == target[j]:
			edits = append(edits, lineEdit{marker: " ", line: base[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			edits = append(edits, lineEdit{marker: "-", line: base[i]})
			i++
		default:
			edits = append(edits, lineEdit{marker: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		edits = append(edits, lineEdit{marker: "-", line: base[i]})
	}
	for ; j < n; j++ {
		edits = append(edits, lineEdit{marker: "+", line: target[j]})
	}
	return edits
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.Format("2006-01-02")
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "null"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func fmtInt64(i *int64) string {
	if i == nil {
		return "null"
	}
	return strconv.FormatInt(*i, 10)
}

func fmtInt32(i *int32) string {
	if i == nil {
		return "null"
	}
	return strconv.FormatInt(int64(*i), 10)
}

func fmtString(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
