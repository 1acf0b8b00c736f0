package snapshot

import (
	"context"
	"fmt"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryAssembler builds the snapshot with one wide aggregation query over the
// staging schema. Agreements are the anchor; installment, collateral, bureau
// and contact attributes come in through left joins so a missing enrichment
// row never drops an agreement.
type QueryAssembler struct {
	pool   *pgxpool.Pool
	schema string
}

// NewQueryAssembler creates an assembler reading from the given staging schema.
func NewQueryAssembler(pool *pgxpool.Pool, schema string) *QueryAssembler {
	if schema == "" {
		schema = "staging"
	}
	return &QueryAssembler{pool: pool, schema: schema}
}

const querySource = "warehouse"

func (a *QueryAssembler) Assemble(ctx context.Context) (Result, error) {
	query := fmt.Sprintf(`
		SELECT
			COALESCE(ag.customer_id, '')       AS customer_id,
			COALESCE(ag.application_id, '')    AS application_id,
			COALESCE(ag.contract_status, '')   AS contract_status,
			ag.rrd_date,
			ins.installment_amount,
			ltv.ltv_by_total_otr,
			ag.outstanding_principal,
			ag.product_sk,
			COALESCE(ag.branch_code, '')       AS branch_code,
			COALESCE(ag.branch_name, '')       AS branch_name,
			COALESCE(ag.product_code, '')      AS product_code,
			COALESCE(ag.product_name, '')      AS product_name,
			COALESCE(ag.risk_grade, '')        AS risk_grade,
			ag.tenor_months,
			ag.disbursement_amount,
			COALESCE(ag.insurance_company, '') AS insurance_company,
			ag.agreement_date,
			ins.last_paid_date,
			ins.next_due_date,
			ins.installments_paid,
			ins.highest_overdue_count,
			ltv.real_ltv_group,
			bur.pefindo_score,
			bur.pefindo_score_partner,
			con.mobile_phone
		FROM %[1]s.stg_agreements ag
		LEFT JOIN %[1]s.stg_installments ins
			ON ins.application_id = ag.application_id
		LEFT JOIN %[1]s.stg_collateral_ltv ltv
			ON ltv.application_id = ag.application_id
		LEFT JOIN %[1]s.stg_bureau_scores bur
			ON bur.customer_id = ag.customer_id
		LEFT JOIN %[1]s.stg_customer_contacts con
			ON con.customer_id = ag.customer_id
		ORDER BY ag.customer_id, ag.application_id`, a.schema)

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("failed to assemble snapshot query: %w", err)
	}
	defer rows.Close()

	assembled := []domain.AgreementSnapshotRow{}
	for rows.Next() {
		var row domain.AgreementSnapshotRow
		if err := rows.Scan(
			&row.CustomerID,
			&row.ApplicationID,
			&row.ContractStatus,
			&row.RRDDate,
			&row.InstallmentAmount,
			&row.LTVByTotalOTR,
			&row.OutstandingPrincipal,
			&row.ProductSK,
			&row.BranchCode,
			&row.BranchName,
			&row.ProductCode,
			&row.ProductName,
			&row.RiskGrade,
			&row.TenorMonths,
			&row.DisbursementAmount,
			&row.InsuranceCompany,
			&row.AgreementDate,
			&row.Volatile.LastPaidDate,
			&row.Volatile.NextDueDate,
			&row.Volatile.InstallmentsPaid,
			&row.Volatile.HighestOverdueCount,
			&row.Volatile.RealLTVGroup,
			&row.Volatile.PefindoScore,
			&row.Volatile.PefindoScorePartner,
			&row.Volatile.MobilePhone,
		); err != nil {
			return Result{}, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		assembled = append(assembled, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}

	unique, warnings := Dedupe(querySource, assembled)
	return Result{Rows: unique, Warnings: warnings}, nil
}
