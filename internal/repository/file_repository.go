package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dnogares/web-sub001/internal/models"
)

// fileReportRepository stores one JSON document per parcel under a directory.
type fileReportRepository struct {
	dir string
}

// NewFileReportRepository creates a ReportRepository rooted at dir, creating
// the directory when needed.
func NewFileReportRepository(dir string) (ReportRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &fileReportRepository{dir: dir}, nil
}

// path returns the file a parcel's report is stored in.
func (r *fileReportRepository) path(parcelID string) (string, error) {
	key, err := Key(parcelID)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.dir, key+".json"), nil
}

// Save writes the report to a temp file in the same directory and renames it
// over the previous one.
func (r *fileReportRepository) Save(ctx context.Context, report models.AffectionReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := r.path(report.ParcelID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report for parcel %s: %w", report.ParcelID, err)
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report for parcel %s: %w", report.ParcelID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync report for parcel %s: %w", report.ParcelID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report for parcel %s: %w", report.ParcelID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store report for parcel %s: %w", report.ParcelID, err)
	}
	return nil
}

// Get reads a stored report.
func (r *fileReportRepository) Get(ctx context.Context, parcelID string) (*models.AffectionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := r.path(parcelID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report for parcel %s: %w", parcelID, err)
	}

	var report models.AffectionReport
	if err := report.Scan(data); err != nil {
		return nil, fmt.Errorf("failed to parse report for parcel %s: %w", parcelID, err)
	}
	if report.ParcelID != parcelID {
		return nil, nil
	}
	return &report, nil
}
