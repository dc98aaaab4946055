package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnogares/web-sub001/internal/database"
	"github.com/dnogares/web-sub001/internal/models"
	"github.com/jackc/pgx/v5"
)

// postgresReportRepository stores reports as JSONB rows in affection_reports.
type postgresReportRepository struct {
	db *database.Database
}

// NewPostgresReportRepository creates a ReportRepository backed by PostgreSQL.
// The schema must exist (see database.EnsureSchema).
func NewPostgresReportRepository(db *database.Database) ReportRepository {
	return &postgresReportRepository{
		db: db,
	}
}

// Save upserts the report row of the parcel.
func (r *postgresReportRepository) Save(ctx context.Context, report models.AffectionReport) error {
	key, err := Key(report.ParcelID)
	if err != nil {
		return err
	}

	doc, err := report.Value()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO affection_reports (parcel_id, status, report, generated_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, now())
		ON CONFLICT (parcel_id) DO UPDATE SET
			status = EXCLUDED.status,
			report = EXCLUDED.report,
			generated_at = EXCLUDED.generated_at,
			updated_at = now()
	`
	if _, err := r.db.Pool.Exec(ctx, query, key, string(report.Status), doc, report.GeneratedAt); err != nil {
		return fmt.Errorf("failed to save report for parcel %s: %w", report.ParcelID, err)
	}
	return nil
}

// Get loads the report row of the parcel.
func (r *postgresReportRepository) Get(ctx context.Context, parcelID string) (*models.AffectionReport, error) {
	key, err := Key(parcelID)
	if err != nil {
		return nil, err
	}

	query := `SELECT report::text FROM affection_reports WHERE parcel_id = $1`

	var doc string
	err = r.db.Pool.QueryRow(ctx, query, key).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query report for parcel %s: %w", parcelID, err)
	}

	var report models.AffectionReport
	if err := report.Scan(doc); err != nil {
		return nil, fmt.Errorf("failed to parse report for parcel %s: %w", parcelID, err)
	}
	if report.ParcelID != parcelID {
		return nil, nil
	}
	return &report, nil
}
