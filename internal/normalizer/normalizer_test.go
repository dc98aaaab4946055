package normalizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/loader/loadertest"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tree writes one dataset of every convertible format, one of them in UTM.
func tree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	loadertest.WriteShapefile(t, filepath.Join(root, "capas", "ccnn_natura2000.shp"), loadertest.PrjETRS89UTM30, []loadertest.Feature{
		{Geometry: loadertest.Square(440000, 4474000, 500), Properties: map[string]interface{}{"codigo": "ES0000001"}},
	})
	loadertest.WriteGeoJSON(t, filepath.Join(root, "red_viaria.geojson"), "", []loadertest.Feature{
		{Geometry: loadertest.Square(-3.6, 40.3, 0.01), Properties: map[string]interface{}{"code": "M-30"}},
	})
	loadertest.WriteGeoPackage(t, filepath.Join(root, "hidro", "dph.gpkg"), "cauces", 4326, []loadertest.Feature{
		{Geometry: loadertest.Square(-3.5, 40.2, 0.01), Properties: map[string]interface{}{"nombre": "Jarama"}},
	})
	return root
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNormalize_ConvertsEveryFormat(t *testing.T) {
	root := tree(t)

	res, err := New(logger.Nop(), Options{}).Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Converted)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, res.Files, 3)

	for _, src := range []string{
		filepath.Join(root, "capas", "ccnn_natura2000.shp"),
		filepath.Join(root, "red_viaria.geojson"),
		filepath.Join(root, "hidro", "dph.gpkg"),
	} {
		target := loader.IndexedPath(src)
		assert.True(t, exists(target), target)
		assert.True(t, exists(loader.IndexPath(target)), target)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	root := tree(t)
	n := New(logger.Nop(), Options{})

	first, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 3, first.Converted)

	second, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Converted)
	assert.Equal(t, 3, second.Skipped)
	assert.Empty(t, second.Files)
}

func TestNormalize_RoundTripKeepsIntersections(t *testing.T) {
	root := tree(t)
	src := filepath.Join(root, "capas", "ccnn_natura2000.shp")
	original, err := loader.Load(src, "")
	require.NoError(t, err)

	_, err = New(logger.Nop(), Options{}).Normalize(context.Background(), root)
	require.NoError(t, err)

	indexed, err := loader.Load(loader.IndexedPath(src), "")
	require.NoError(t, err)
	assert.True(t, indexed.CRS().IsCanonical())
	require.Equal(t, original.Len(), indexed.Len())
	assert.Equal(t, original.Row(0).Attributes, indexed.Row(0).Attributes)
	assert.Equal(t, "ES0000001", indexed.Row(0).Attributes["codigo"])
	assert.Equal(t, []string{"codigo"}, indexed.Fields())

	window := loadertest.Square(original.Bound().Center().X(), original.Bound().Center().Y(), 0.0001)
	assert.Equal(t, original.Intersecting(window), indexed.Intersecting(window))
	assert.Equal(t, []int{0}, indexed.Intersecting(window))
}

func TestNormalize_FailureIsSkipped(t *testing.T) {
	root := tree(t)
	broken := filepath.Join(root, "capas", "vias_pecuarias.shp")
	loadertest.WriteCorrupt(t, broken)

	res, err := New(logger.Nop(), Options{}).Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Converted)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, exists(loader.IndexedPath(broken)))

	entries, err := os.ReadDir(filepath.Join(root, "capas"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), tempPrefix), e.Name())
	}
}

func TestNormalize_DryRun(t *testing.T) {
	root := tree(t)
	stale := filepath.Join(root, ".tmp-red_viaria.geojsonl-123")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	res, err := New(logger.Nop(), Options{DryRun: true}).Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Converted)
	assert.False(t, exists(filepath.Join(root, "red_viaria.geojsonl")))
	assert.True(t, exists(stale))
}

func TestNormalize_RemovesStaleTempFiles(t *testing.T) {
	root := tree(t)
	stale := filepath.Join(root, "capas", ".tmp-ccnn_natura2000.geojsonl-42")
	require.NoError(t, os.WriteFile(stale, []byte("{"), 0o644))

	_, err := New(logger.Nop(), Options{}).Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.False(t, exists(stale))
}

func TestNormalize_ReconvertsWithoutIndex(t *testing.T) {
	root := tree(t)
	n := New(logger.Nop(), Options{})
	_, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)

	target := filepath.Join(root, "red_viaria.geojsonl")
	require.NoError(t, os.Remove(loader.IndexPath(target)))

	res, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Converted)
	assert.True(t, exists(loader.IndexPath(target)))
}

func TestNormalize_RootErrors(t *testing.T) {
	n := New(logger.Nop(), Options{})

	_, err := n.Normalize(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	file := filepath.Join(t.TempDir(), "file.geojson")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	_, err = n.Normalize(context.Background(), file)
	assert.True(t, errors.Is(err, ErrNotDirectory))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.Normalize(ctx, tree(t))
	assert.True(t, errors.Is(err, context.Canceled))
}
