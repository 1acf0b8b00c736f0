package repository

import (
	"context"
	"fmt"

	"github.com/adiwn/agreementmart/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dataQualityRepository struct {
	pool *pgxpool.Pool
}

// NewDataQualityRepository wires a repository backed by pgxpool.
func NewDataQualityRepository(pool *pgxpool.Pool) DataQualityRepository {
	return &dataQualityRepository{pool: pool}
}

func (r *dataQualityRepository) Record(ctx context.Context, entry domain.DataQualityEntry) error {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO data_quality_logs (run_id, source, application_id, row_number, message)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.RunID,
		entry.Source,
		entry.ApplicationID,
		entry.RowNumber,
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record data quality entry: %w", err)
	}
	return nil
}

func (r *dataQualityRepository) List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.DataQualityEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, run_id, source, application_id, row_number, message, created_at
		 FROM data_quality_logs
		 WHERE run_id = $1
		 ORDER BY created_at
		 LIMIT $2 OFFSET $3`,
		runID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list data quality entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.DataQualityEntry{}
	for rows.Next() {
		var entry domain.DataQualityEntry
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Source,
			&entry.ApplicationID,
			&entry.RowNumber,
			&entry.Message,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan data quality entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data quality entries: %w", err)
	}
	return entries, nil
}
