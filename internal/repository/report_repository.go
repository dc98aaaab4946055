package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dnogares/web-sub001/internal/models"
)

const (
	// maxKeyLength bounds the parcel id accepted for storage.
	maxKeyLength = 128
	// maxEncodedKeyLength keeps "<key>.json" and its temp name within the
	// 255 byte file name limit.
	maxEncodedKeyLength = 200
)

// ErrInvalidParcelID is returned for parcel ids that yield no usable key.
var ErrInvalidParcelID = errors.New("invalid parcel id")

// ReportRepository defines the persistence operations for affection reports.
type ReportRepository interface {
	// Save stores a report under its parcel id, replacing any previous one.
	Save(ctx context.Context, report models.AffectionReport) error

	// Get returns the stored report of a parcel.
	// Returns nil, nil if no report exists (not an error).
	// Returns error only for actual storage failures.
	Get(ctx context.Context, parcelID string) (*models.AffectionReport, error)
}

// Key derives the storage key of a parcel id. Letters, digits, '.' and '-'
// are kept; every other byte, '_' included, becomes "_XX" in upper-case hex,
// so distinct ids never share a key.
func Key(parcelID string) (string, error) {
	if strings.TrimSpace(parcelID) == "" || len(parcelID) > maxKeyLength {
		return "", ErrInvalidParcelID
	}
	var b strings.Builder
	for i := 0; i < len(parcelID); i++ {
		c := parcelID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02X", c)
		}
	}
	key := b.String()
	if strings.Trim(key, ".") == "" || len(key) > maxEncodedKeyLength {
		return "", ErrInvalidParcelID
	}
	return key, nil
}
