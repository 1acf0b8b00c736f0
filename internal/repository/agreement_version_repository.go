package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type agreementVersionRepository struct {
	pool *pgxpool.Pool
}

// NewAgreementVersionRepository wires a repository backed by pgxpool.
func NewAgreementVersionRepository(pool *pgxpool.Pool) AgreementVersionRepository {
	return &agreementVersionRepository{pool: pool}
}

const versionColumns = `id, customer_id, application_id, contract_status, rrd_date,
	installment_amount, ltv_by_total_otr, outstanding_principal, product_sk,
	branch_code, branch_name, product_code, product_name, risk_grade,
	tenor_months, disbursement_amount, insurance_company, agreement_date,
	last_paid_date, next_due_date, installments_paid, highest_overdue_count,
	real_ltv_group, pefindo_score, pefindo_score_partner, mobile_phone,
	is_current, process_date, created_at`

func scanVersion(row pgx.Row) (domain.AgreementVersion, error) {
	var v domain.AgreementVersion
	err := row.Scan(
		&v.ID,
		&v.CustomerID,
		&v.ApplicationID,
		&v.ContractStatus,
		&v.RRDDate,
		&v.InstallmentAmount,
		&v.LTVByTotalOTR,
		&v.OutstandingPrincipal,
		&v.ProductSK,
		&v.BranchCode,
		&v.BranchName,
		&v.ProductCode,
		&v.ProductName,
		&v.RiskGrade,
		&v.TenorMonths,
		&v.DisbursementAmount,
		&v.InsuranceCompany,
		&v.AgreementDate,
		&v.Volatile.LastPaidDate,
		&v.Volatile.NextDueDate,
		&v.Volatile.InstallmentsPaid,
		&v.Volatile.HighestOverdueCount,
		&v.Volatile.RealLTVGroup,
		&v.Volatile.PefindoScore,
		&v.Volatile.PefindoScorePartner,
		&v.Volatile.MobilePhone,
		&v.IsCurrent,
		&v.ProcessDate,
		&v.CreatedAt,
	)
	if err != nil {
		return domain.AgreementVersion{}, err
	}
	return v, nil
}

func collectVersions(rows pgx.Rows) ([]domain.AgreementVersion, error) {
	defer rows.Close()

	versions := []domain.AgreementVersion{}
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agreement version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agreement versions: %w", err)
	}
	return versions, nil
}

func (r *agreementVersionRepository) ListCurrent(ctx context.Context) ([]domain.AgreementVersion, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+`
		 FROM agreement_versions
		 WHERE is_current`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list current versions: %w", err)
	}
	return collectVersions(rows)
}

func (r *agreementVersionRepository) ListSignatures(ctx context.Context) ([]domain.ChangeSignature, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT customer_id, application_id, contract_status, rrd_date,
		        installment_amount, ltv_by_total_otr, outstanding_principal, product_sk
		 FROM agreement_versions`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list version signatures: %w", err)
	}
	defer rows.Close()

	signatures := []domain.ChangeSignature{}
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
		); err != nil {
			return nil, fmt.Errorf("failed to scan version signature: %w", err)
		}
		signatures = append(signatures, row.Signature())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate version signatures: %w", err)
	}
	return signatures, nil
}

func (r *agreementVersionRepository) ExpireVersions(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE agreement_versions SET is_current = FALSE WHERE id = ANY($1) AND is_current`,
		ids,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire versions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *agreementVersionRepository) InsertVersions(ctx context.Context, versions []domain.AgreementVersion) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}

	columns := []string{
		"id", "customer_id", "application_id", "contract_status", "rrd_date",
		"installment_amount", "ltv_by_total_otr", "outstanding_principal", "product_sk",
		"branch_code", "branch_name", "product_code", "product_name", "risk_grade",
		"tenor_months", "disbursement_amount", "insurance_company", "agreement_date",
		"last_paid_date", "next_due_date", "installments_paid", "highest_overdue_count",
		"real_ltv_group", "pefindo_score", "pefindo_score_partner", "mobile_phone",
		"is_current", "process_date",
	}

	inserted, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"agreement_versions"},
		columns,
		pgx.CopyFromSlice(len(versions), func(i int) ([]any, error) {
			v := versions[i]
			return []any{
				v.ID, v.CustomerID, v.ApplicationID, v.ContractStatus, v.RRDDate,
				v.InstallmentAmount, v.LTVByTotalOTR, v.OutstandingPrincipal, v.ProductSK,
				v.BranchCode, v.BranchName, v.ProductCode, v.ProductName, v.RiskGrade,
				v.TenorMonths, v.DisbursementAmount, v.InsuranceCompany, v.AgreementDate,
				v.Volatile.LastPaidDate, v.Volatile.NextDueDate, v.Volatile.InstallmentsPaid,
				v.Volatile.HighestOverdueCount, v.Volatile.RealLTVGroup, v.Volatile.PefindoScore,
				v.Volatile.PefindoScorePartner, v.Volatile.MobilePhone,
				v.IsCurrent, v.ProcessDate,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert versions: %w", err)
	}
	return inserted, nil
}

func (r *agreementVersionRepository) PatchVolatile(ctx context.Context, patches []VolatilePatch) (int64, error) {
	if len(patches) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, patch := range patches {
		batch.Queue(
			`UPDATE agreement_versions
			 SET last_paid_date = $1,
			     next_due_date = $2,
			     installments_paid = $3,
			     highest_overdue_count = $4,
			     real_ltv_group = $5,
			     pefindo_score = $6,
			     pefindo_score_partner = $7,
			     mobile_phone = $8
			 WHERE id = $9 AND is_current`,
			patch.Volatile.LastPaidDate,
			patch.Volatile.NextDueDate,
			patch.Volatile.InstallmentsPaid,
			patch.Volatile.HighestOverdueCount,
			patch.Volatile.RealLTVGroup,
			patch.Volatile.PefindoScore,
			patch.Volatile.PefindoScorePartner,
			patch.Volatile.MobilePhone,
			patch.VersionID,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var patched int64
	for range patches {
		tag, err := results.Exec()
		if err != nil {
			return patched, fmt.Errorf("failed to patch volatile attributes: %w", err)
		}
		patched += tag.RowsAffected()
	}
	return patched, nil
}

func (r *agreementVersionRepository) CountCurrentByProcessDate(ctx context.Context, processDate time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM agreement_versions WHERE is_current AND process_date = $1`,
		processDate,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count current versions: %w", err)
	}
	return count, nil
}

func (r *agreementVersionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.AgreementVersion, error) {
	version, err := scanVersion(r.pool.QueryRow(
		ctx,
		`SELECT `+versionColumns+` FROM agreement_versions WHERE id = $1`,
		id,
	))
	if err != nil {
		return domain.AgreementVersion{}, fmt.Errorf("failed to get version %s: %w", id, err)
	}
	return version, nil
}

func (r *agreementVersionRepository) ListCurrentPage(ctx context.Context, limit int, offset int) ([]domain.AgreementVersion, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+`, COUNT(*) OVER() AS total_count
		 FROM agreement_versions
		 WHERE is_current
		 ORDER BY customer_id, application_id
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page current versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.AgreementVersion{}
	totalCount := 0
	for rows.Next() {
		var v domain.AgreementVersion
		var total int64
		if err := rows.Scan(
			&v.ID,
			&v.CustomerID,
			&v.ApplicationID,
			&v.ContractStatus,
			&v.RRDDate,
			&v.InstallmentAmount,
			&v.LTVByTotalOTR,
			&v.OutstandingPrincipal,
			&v.ProductSK,
			&v.BranchCode,
			&v.BranchName,
			&v.ProductCode,
			&v.ProductName,
			&v.RiskGrade,
			&v.TenorMonths,
			&v.DisbursementAmount,
			&v.InsuranceCompany,
			&v.AgreementDate,
			&v.Volatile.LastPaidDate,
			&v.Volatile.NextDueDate,
			&v.Volatile.InstallmentsPaid,
			&v.Volatile.HighestOverdueCount,
			&v.Volatile.RealLTVGroup,
			&v.Volatile.PefindoScore,
			&v.Volatile.PefindoScorePartner,
			&v.Volatile.MobilePhone,
			&v.IsCurrent,
			&v.ProcessDate,
			&v.CreatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan current version page: %w", err)
		}
		versions = append(versions, v)
		totalCount = int(total)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate current version page: %w", err)
	}
	return versions, totalCount, nil
}

func (r *agreementVersionRepository) ListHistory(ctx context.Context, customerID string, applicationID string) ([]domain.AgreementVersion, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+`
		 FROM agreement_versions
		 WHERE customer_id = $1 AND application_id = $2
		 ORDER BY process_date, created_at`,
		customerID,
		applicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list version history: %w", err)
	}
	return collectVersions(rows)
}
