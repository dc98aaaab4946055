package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dnogares/web-sub001/internal/geo"
)

// ReportStatus tells whether every category could be evaluated.
type ReportStatus string

const (
	StatusComplete ReportStatus = "complete"
	StatusPartial  ReportStatus = "partial"
)

// Note explains why a record carries no (or incomplete) crossing result.
type Note string

const (
	// NoteLayerMissing marks a category with no dataset in the registry.
	NoteLayerMissing Note = "layer-missing"
	// NoteLoadFailed marks a category whose dataset could not be loaded or
	// reprojected.
	NoteLoadFailed Note = "load-failed"
	// NoteLegendFailed marks a category whose matches are valid but whose
	// legend side table is invalid.
	NoteLegendFailed Note = "legend-failed"
)

// LegendItem is a legend entry attached to a record.
type LegendItem struct {
	Code       string            `json:"code"`
	Label      string            `json:"label"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AffectionRecord is the crossing result of one category. Matched holds the
// attribute rows of the intersecting features in source order, without
// geometry.
type AffectionRecord struct {
	Category   string           `json:"category"`
	Intersects bool             `json:"intersects"`
	Matched    []geo.Attributes `json:"matched"`
	Legend     []LegendItem     `json:"legend"`
	Note       Note             `json:"note,omitempty"`
}

// AffectionReport lists one record per taxonomy category, in taxonomy order.
type AffectionReport struct {
	ParcelID    string            `json:"parcel_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Status      ReportStatus      `json:"status"`
	Affections  []AffectionRecord `json:"affections"`
}

// Record returns the record of a category.
func (r *AffectionReport) Record(category string) (AffectionRecord, bool) {
	for _, rec := range r.Affections {
		if rec.Category == category {
			return rec, true
		}
	}
	return AffectionRecord{}, false
}

// Intersecting returns the categories the parcel intersects, in report order.
func (r *AffectionReport) Intersecting() []string {
	out := []string{}
	for _, rec := range r.Affections {
		if rec.Intersects {
			out = append(out, rec.Category)
		}
	}
	return out
}

// Value implements driver.Valuer so a report can be stored in a JSONB column.
func (r AffectionReport) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for reports read back from a JSONB column.
func (r *AffectionReport) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan AffectionReport: expected []byte or string, got %T", value)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return nil
}
