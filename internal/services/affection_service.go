package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/models"
	"github.com/dnogares/web-sub001/internal/registry"
	"github.com/dnogares/web-sub001/internal/repository"
	"github.com/paulmach/orb"
)

// Service-level errors
var (
	ErrInvalidParcelID = errors.New("invalid parcel id")
	ErrEmptyParcel     = errors.New("parcel geometry is empty")
	ErrInvalidGeometry = errors.New("invalid parcel geometry")
	ErrReportNotFound  = errors.New("report not found")
)

// Analyzer crosses a canonical parcel geometry against a registry.
// crossing.Engine implements it.
type Analyzer interface {
	Analyze(ctx context.Context, parcel orb.Geometry, parcelID string, reg *registry.Registry) (models.AffectionReport, error)
}

// AffectionService defines the business operations of the affections API.
type AffectionService interface {
	// Analyze decodes the parcel, crosses it against every layer and stores
	// the report. A partial report is a success.
	// Returns ErrInvalidParcelID, ErrEmptyParcel or ErrInvalidGeometry for bad input.
	Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AffectionReport, error)

	// GetReport returns the last stored report of a parcel.
	// Returns ErrReportNotFound if the parcel was never analyzed.
	GetReport(ctx context.Context, parcelID string) (*models.AffectionReport, error)

	// Catalog lists the layers the registry resolved.
	Catalog() registry.Catalog
}

// affectionService is the concrete implementation of AffectionService.
type affectionService struct {
	registry *registry.Registry
	analyzer Analyzer
	repo     repository.ReportRepository
	log      *logger.Logger
}

// NewAffectionService creates a new instance of AffectionService.
func NewAffectionService(reg *registry.Registry, analyzer Analyzer, repo repository.ReportRepository, log *logger.Logger) AffectionService {
	return &affectionService{
		registry: reg,
		analyzer: analyzer,
		repo:     repo,
		log:      log,
	}
}

func (s *affectionService) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AffectionReport, error) {
	if _, err := repository.Key(req.ParcelID); err != nil {
		s.log.Warn("Invalid parcel id provided", map[string]interface{}{
			"parcel_id": req.ParcelID,
		})
		return nil, fmt.Errorf("%w: %q", ErrInvalidParcelID, req.ParcelID)
	}
	if req.Geometry == nil {
		return nil, ErrEmptyParcel
	}

	parcel, err := req.Geometry.Decode(req.SRID)
	if err != nil {
		s.log.Warn("Invalid parcel geometry provided", map[string]interface{}{
			"parcel_id": req.ParcelID,
			"srid":      req.SRID,
			"error":     err.Error(),
		})
		if errors.Is(err, loader.ErrEmpty) {
			return nil, ErrEmptyParcel
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	s.log.Info("Analyzing parcel", map[string]interface{}{
		"parcel_id": req.ParcelID,
		"srid":      req.SRID,
		"type":      req.Geometry.Type,
	})

	report, err := s.analyzer.Analyze(ctx, parcel, req.ParcelID, s.registry)
	if err != nil {
		if errors.Is(err, loader.ErrEmpty) {
			return nil, ErrEmptyParcel
		}
		s.log.Error("Failed to analyze parcel", err, map[string]interface{}{
			"parcel_id": req.ParcelID,
		})
		return nil, fmt.Errorf("failed to analyze parcel: %w", err)
	}

	if err := s.repo.Save(ctx, report); err != nil {
		s.log.Error("Failed to store report", err, map[string]interface{}{
			"parcel_id": req.ParcelID,
		})
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	s.log.Info("Parcel analysis stored", map[string]interface{}{
		"parcel_id":  req.ParcelID,
		"status":     report.Status,
		"intersects": report.Intersecting(),
	})
	return &report, nil
}

func (s *affectionService) GetReport(ctx context.Context, parcelID string) (*models.AffectionReport, error) {
	if _, err := repository.Key(parcelID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidParcelID, parcelID)
	}

	report, err := s.repo.Get(ctx, parcelID)
	if err != nil {
		s.log.Error("Failed to load report", err, map[string]interface{}{
			"parcel_id": parcelID,
		})
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	// Repository returns nil, nil when nothing is stored - transform to domain error
	if report == nil {
		s.log.Debug("No report stored for parcel", map[string]interface{}{
			"parcel_id": parcelID,
		})
		return nil, ErrReportNotFound
	}
	return report, nil
}

func (s *affectionService) Catalog() registry.Catalog {
	return s.registry.Catalog()
}
