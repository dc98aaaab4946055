package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dnogares/web-sub001/internal/config"
	"github.com/dnogares/web-sub001/internal/database"
	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/dnogares/web-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(parcelID string, status models.ReportStatus) models.AffectionReport {
	return models.AffectionReport{
		ParcelID:    parcelID,
		GeneratedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:      status,
		Affections: []models.AffectionRecord{
			{
				Category:   "protected-nature",
				Intersects: true,
				Matched:    []geo.Attributes{{"codigo": "ES0000001"}},
				Legend:     []models.LegendItem{{Code: "ES0000001", Label: "Sierra"}},
			},
			{Category: "livestock-trails", Matched: []geo.Attributes{}, Legend: []models.LegendItem{}, Note: models.NoteLayerMissing},
		},
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "cadastral reference", id: "28079A00100001", want: "28079A00100001"},
		{name: "path separators", id: "../etc/passwd", want: ".._2Fetc_2Fpasswd"},
		{name: "underscore is escaped", id: "28079A_00100001", want: "28079A_5F00100001"},
		{name: "slash", id: "28079A/00100001", want: "28079A_2F00100001"},
		{name: "spaces and accents", id: " finca Peñón 3", want: "_20finca_20Pe_C3_B1_C3_B3n_203"},
		{name: "empty", id: "  ", wantErr: true},
		{name: "dots only", id: "..", wantErr: true},
		{name: "too long", id: strings.Repeat("a", maxKeyLength+1), wantErr: true},
		{name: "too long once escaped", id: strings.Repeat("/", 70), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Key(tt.id)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidParcelID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileRepository_SaveGet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	repo, err := NewFileReportRepository(dir)
	require.NoError(t, err)
	ctx := context.Background()

	want := report("28079A00100001", models.StatusComplete)
	require.NoError(t, repo.Save(ctx, want))
	assert.FileExists(t, filepath.Join(dir, "28079A00100001.json"))

	got, err := repo.Get(ctx, "28079A00100001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ParcelID, got.ParcelID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.GeneratedAt.Equal(got.GeneratedAt))
	require.Len(t, got.Affections, 2)
	assert.Equal(t, "ES0000001", got.Affections[0].Matched[0]["codigo"])
	assert.Equal(t, models.NoteLayerMissing, got.Affections[1].Note)
}

func TestFileRepository_Overwrites(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileReportRepository(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, report("p/1", models.StatusPartial)))
	require.NoError(t, repo.Save(ctx, report("p/1", models.StatusComplete)))

	got, err := repo.Get(ctx, "p/1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p_2F1.json", entries[0].Name())
}

func TestFileRepository_SimilarIDsStayApart(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileReportRepository(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, report("28079A/00100001", models.StatusComplete)))

	got, err := repo.Get(ctx, "28079A_00100001")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, report("28079A_00100001", models.StatusPartial)))

	slash, err := repo.Get(ctx, "28079A/00100001")
	require.NoError(t, err)
	require.NotNil(t, slash)
	assert.Equal(t, "28079A/00100001", slash.ParcelID)
	assert.Equal(t, models.StatusComplete, slash.Status)

	underscore, err := repo.Get(ctx, "28079A_00100001")
	require.NoError(t, err)
	require.NotNil(t, underscore)
	assert.Equal(t, "28079A_00100001", underscore.ParcelID)
}

func TestFileRepository_IgnoresReportOfAnotherParcel(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileReportRepository(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, report("p1", models.StatusComplete)))
	require.NoError(t, os.Rename(filepath.Join(dir, "p1.json"), filepath.Join(dir, "p2.json")))

	got, err := repo.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileRepository_NotFound(t *testing.T) {
	repo, err := NewFileReportRepository(t.TempDir())
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileRepository_Errors(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileReportRepository(dir)
	require.NoError(t, err)

	err = repo.Save(context.Background(), report("", models.StatusComplete))
	assert.True(t, errors.Is(err, ErrInvalidParcelID))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
	_, err = repo.Get(context.Background(), "broken")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(repo.Save(ctx, report("p", models.StatusComplete)), context.Canceled))
}

// getTestConfig returns database configuration for integration tests.
func getTestConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		Name:     getEnvOrDefault("DB_NAME", "affections"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		PoolMin:  1,
		PoolMax:  5,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupPostgresRepository connects to the test database, skipping when it is
// unavailable or in short mode.
func setupPostgresRepository(t *testing.T) (ReportRepository, *database.Database) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := database.NewPostgresPool(ctx, getTestConfig())
	if err != nil {
		t.Skipf("Skipping integration test, database unavailable: %v", err)
	}
	require.NoError(t, db.EnsureSchema(ctx))
	return NewPostgresReportRepository(db), db
}

func TestPostgresRepository_SaveGet(t *testing.T) {
	repo, db := setupPostgresRepository(t)
	defer db.Close()
	ctx := context.Background()

	id := "test-" + time.Now().Format("150405.000000000")
	require.NoError(t, repo.Save(ctx, report(id, models.StatusPartial)))
	require.NoError(t, repo.Save(ctx, report(id, models.StatusComplete)))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusComplete, got.Status)
	assert.Len(t, got.Affections, 2)

	_, err = db.Pool.Exec(ctx, `DELETE FROM affection_reports WHERE parcel_id = $1`, id)
	require.NoError(t, err)
}

func TestPostgresRepository_NotFound(t *testing.T) {
	repo, db := setupPostgresRepository(t)
	defer db.Close()

	got, err := repo.Get(context.Background(), "no-such-parcel-id")
	assert.NoError(t, err)
	assert.Nil(t, got)
}
