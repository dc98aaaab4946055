package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/models"
	"github.com/dnogares/web-sub001/internal/registry"
	"github.com/dnogares/web-sub001/internal/taxonomy"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAnalyzer is a mock implementation of Analyzer for testing
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, parcel orb.Geometry, parcelID string, reg *registry.Registry) (models.AffectionReport, error) {
	args := m.Called(ctx, parcel, parcelID, reg)
	return args.Get(0).(models.AffectionReport), args.Error(1)
}

// MockReportRepository is a mock implementation of ReportRepository for testing
type MockReportRepository struct {
	mock.Mock
}

func (m *MockReportRepository) Save(ctx context.Context, report models.AffectionReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockReportRepository) Get(ctx context.Context, parcelID string) (*models.AffectionReport, error) {
	args := m.Called(ctx, parcelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	report, ok := args.Get(0).(*models.AffectionReport)
	if !ok {
		return nil, args.Error(1)
	}
	return report, args.Error(1)
}

func emptyRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(t.TempDir(), taxonomy.Default(), logger.Nop())
	require.NoError(t, err)
	return reg
}

func parcelGeometry(t *testing.T, doc string) *models.ParcelGeometry {
	t.Helper()
	var g models.ParcelGeometry
	require.NoError(t, json.Unmarshal([]byte(doc), &g))
	return &g
}

const squareDoc = `{"type":"Polygon","coordinates":[[[-3.71,40.41],[-3.69,40.41],[-3.69,40.43],[-3.71,40.43],[-3.71,40.41]]]}`

func sampleReport(parcelID string) models.AffectionReport {
	return models.AffectionReport{
		ParcelID:    parcelID,
		GeneratedAt: time.Now().UTC(),
		Status:      models.StatusPartial,
		Affections: []models.AffectionRecord{
			{Category: "protected-nature", Intersects: true, Matched: []geo.Attributes{{"codigo": "ES1"}}, Legend: []models.LegendItem{}},
		},
	}
}

func TestAnalyze_Success(t *testing.T) {
	// Arrange
	reg := emptyRegistry(t)
	analyzer := new(MockAnalyzer)
	repo := new(MockReportRepository)
	service := NewAffectionService(reg, analyzer, repo, logger.New("test"))
	ctx := context.Background()

	expected := sampleReport("28079A00100001")
	analyzer.On("Analyze", ctx, mock.AnythingOfType("orb.Polygon"), "28079A00100001", reg).Return(expected, nil)
	repo.On("Save", ctx, expected).Return(nil)

	// Act
	report, err := service.Analyze(ctx, models.AnalyzeRequest{
		ParcelID: "28079A00100001",
		Geometry: parcelGeometry(t, squareDoc),
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, report.Status)
	assert.Equal(t, "28079A00100001", report.ParcelID)
	analyzer.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestAnalyze_ReprojectsDeclaredSRID(t *testing.T) {
	reg := emptyRegistry(t)
	analyzer := new(MockAnalyzer)
	repo := new(MockReportRepository)
	service := NewAffectionService(reg, analyzer, repo, logger.Nop())
	ctx := context.Background()

	inMadrid := mock.MatchedBy(func(g orb.Geometry) bool {
		c := g.Bound().Center()
		return c.Lon() > -3.8 && c.Lon() < -3.6 && c.Lat() > 40.3 && c.Lat() < 40.5
	})
	analyzer.On("Analyze", ctx, inMadrid, "p1", reg).Return(sampleReport("p1"), nil)
	repo.On("Save", ctx, mock.Anything).Return(nil)

	_, err := service.Analyze(ctx, models.AnalyzeRequest{
		ParcelID: "p1",
		Geometry: parcelGeometry(t, `{"type":"Point","coordinates":[440291,4474254]}`),
		SRID:     25830,
	})
	require.NoError(t, err)
	analyzer.AssertExpectations(t)
}

func TestAnalyze_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		req     func(t *testing.T) models.AnalyzeRequest
		wantErr error
	}{
		{
			name: "blank parcel id",
			req: func(t *testing.T) models.AnalyzeRequest {
				return models.AnalyzeRequest{ParcelID: " ", Geometry: parcelGeometry(t, squareDoc)}
			},
			wantErr: ErrInvalidParcelID,
		},
		{
			name: "missing geometry",
			req: func(t *testing.T) models.AnalyzeRequest {
				return models.AnalyzeRequest{ParcelID: "p1"}
			},
			wantErr: ErrEmptyParcel,
		},
		{
			name: "empty feature collection",
			req: func(t *testing.T) models.AnalyzeRequest {
				return models.AnalyzeRequest{ParcelID: "p1", Geometry: parcelGeometry(t, `{"type":"FeatureCollection","features":[]}`)}
			},
			wantErr: ErrEmptyParcel,
		},
		{
			name: "unsupported srid",
			req: func(t *testing.T) models.AnalyzeRequest {
				return models.AnalyzeRequest{ParcelID: "p1", Geometry: parcelGeometry(t, squareDoc), SRID: 23030}
			},
			wantErr: ErrInvalidGeometry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := new(MockAnalyzer)
			repo := new(MockReportRepository)
			service := NewAffectionService(emptyRegistry(t), analyzer, repo, logger.Nop())

			report, err := service.Analyze(context.Background(), tt.req(t))

			assert.Nil(t, report)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyze_AnalyzerError(t *testing.T) {
	reg := emptyRegistry(t)
	analyzer := new(MockAnalyzer)
	repo := new(MockReportRepository)
	service := NewAffectionService(reg, analyzer, repo, logger.Nop())
	ctx := context.Background()

	analyzer.On("Analyze", ctx, mock.Anything, "p1", reg).Return(models.AffectionReport{}, context.Canceled)

	_, err := service.Analyze(ctx, models.AnalyzeRequest{ParcelID: "p1", Geometry: parcelGeometry(t, squareDoc)})

	assert.True(t, errors.Is(err, context.Canceled))
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAnalyze_StoreError(t *testing.T) {
	reg := emptyRegistry(t)
	analyzer := new(MockAnalyzer)
	repo := new(MockReportRepository)
	service := NewAffectionService(reg, analyzer, repo, logger.Nop())
	ctx := context.Background()

	storeErr := errors.New("disk full")
	analyzer.On("Analyze", ctx, mock.Anything, "p1", reg).Return(sampleReport("p1"), nil)
	repo.On("Save", ctx, mock.Anything).Return(storeErr)

	_, err := service.Analyze(ctx, models.AnalyzeRequest{ParcelID: "p1", Geometry: parcelGeometry(t, squareDoc)})
	assert.True(t, errors.Is(err, storeErr))
}

func TestGetReport(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo := new(MockReportRepository)
		service := NewAffectionService(emptyRegistry(t), new(MockAnalyzer), repo, logger.Nop())
		stored := sampleReport("p1")
		repo.On("Get", ctx, "p1").Return(&stored, nil)

		report, err := service.GetReport(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", report.ParcelID)
		repo.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(MockReportRepository)
		service := NewAffectionService(emptyRegistry(t), new(MockAnalyzer), repo, logger.Nop())
		repo.On("Get", ctx, "p2").Return(nil, nil)

		_, err := service.GetReport(ctx, "p2")
		assert.True(t, errors.Is(err, ErrReportNotFound))
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := new(MockReportRepository)
		service := NewAffectionService(emptyRegistry(t), new(MockAnalyzer), repo, logger.Nop())
		repo.On("Get", ctx, "p3").Return(nil, errors.New("connection refused"))

		_, err := service.GetReport(ctx, "p3")
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrReportNotFound))
	})

	t.Run("invalid id", func(t *testing.T) {
		repo := new(MockReportRepository)
		service := NewAffectionService(emptyRegistry(t), new(MockAnalyzer), repo, logger.Nop())

		_, err := service.GetReport(ctx, "")
		assert.True(t, errors.Is(err, ErrInvalidParcelID))
		repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

func TestCatalog(t *testing.T) {
	service := NewAffectionService(emptyRegistry(t), new(MockAnalyzer), new(MockReportRepository), logger.Nop())

	cat := service.Catalog()
	assert.Equal(t, 0, cat.Total)
	assert.Len(t, cat.ByCategory, taxonomy.Default().Len())
}
