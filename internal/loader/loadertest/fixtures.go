// Package loadertest writes small vector datasets for tests.
package loadertest

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// Feature is one fixture row.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// WKT definitions for .prj sidecars.
const (
	PrjWGS84       = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	PrjETRS89UTM30 = `PROJCS["ETRS89_UTM_zone_30N",GEOGCS["GCS_ETRS_1989",DATUM["D_ETRS_1989",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",-3.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`
)

// Square returns an axis-aligned square polygon centred on (x, y).
func Square(x, y, half float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x - half, y - half}, {x + half, y - half}, {x + half, y + half},
		{x - half, y + half}, {x - half, y - half},
	}}
}

func propertyNames(features []Feature) []string {
	seen := map[string]bool{}
	var names []string
	for _, f := range features {
		for k := range f.Properties {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// WriteShapefile writes polygon features as a shapefile with a .dbf holding
// every property as a string or number column. prj is written when non-empty.
func WriteShapefile(t testing.TB, path string, prj string, features []Feature) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	names := propertyNames(features)
	fields := make([]shp.Field, len(names))
	for i, name := range names {
		fields[i] = shp.StringField(name, 50)
		for _, f := range features {
			if _, ok := f.Properties[name].(int); ok {
				fields[i] = shp.NumberField(name, 10)
				break
			}
		}
	}
	require.NoError(t, w.SetFields(fields))

	for _, f := range features {
		row := w.Write(shapefilePolygon(t, f.Geometry))
		for i, name := range names {
			v, ok := f.Properties[name]
			if !ok {
				continue
			}
			require.NoError(t, w.WriteAttribute(int(row), i, v))
		}
	}
	w.Close()

	// go-shp names the table "<stem>dbf".
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	require.NoError(t, os.Rename(stem+"dbf", stem+".dbf"))

	if prj != "" {
		require.NoError(t, os.WriteFile(stem+".prj", []byte(prj), 0o644))
	}
}

// shapefilePolygon orders rings the shapefile way: outer clockwise, holes
// counter-clockwise.
func shapefilePolygon(t testing.TB, g orb.Geometry) *shp.Polygon {
	var polys []orb.Polygon
	switch g := g.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	default:
		t.Fatalf("shapefile fixtures take polygons, got %T", g)
	}

	var parts [][]shp.Point
	for _, poly := range polys {
		for i, ring := range poly {
			want := orb.CW
			if i > 0 {
				want = orb.CCW
			}
			r := ring.Clone()
			if r.Orientation() != want {
				r.Reverse()
			}
			part := make([]shp.Point, len(r))
			for j, p := range r {
				part[j] = shp.Point{X: p.X(), Y: p.Y()}
			}
			parts = append(parts, part)
		}
	}
	p := shp.Polygon(*shp.NewPolyLine(parts))
	return &p
}

// WriteGeoJSON writes a FeatureCollection. A non-empty crsName adds the
// legacy named crs member.
func WriteGeoJSON(t testing.TB, path string, crsName string, features []Feature) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	data, err := json.Marshal(fc)
	require.NoError(t, err)

	if crsName != "" {
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &doc))
		doc["crs"] = map[string]interface{}{
			"type":       "name",
			"properties": map[string]interface{}{"name": crsName},
		}
		data, err = json.Marshal(doc)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// WriteGeoPackage writes a GeoPackage with one feature table named layer.
func WriteGeoPackage(t testing.TB, path, layer string, epsg int, features []Feature) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	names := propertyNames(features)
	columns := []string{"fid INTEGER PRIMARY KEY AUTOINCREMENT", "geom BLOB"}
	for _, n := range names {
		kind := "TEXT"
		for _, f := range features {
			if _, ok := f.Properties[n].(int); ok {
				kind = "INTEGER"
				break
			}
		}
		columns = append(columns, fmt.Sprintf("%q %s", n, kind))
	}

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT NOT NULL, srs_id INTEGER PRIMARY KEY,
			organization TEXT NOT NULL, organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL, description TEXT)`,
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT NOT NULL,
			identifier TEXT, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT NOT NULL, column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL, srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL)`,
		fmt.Sprintf(`CREATE TABLE %q (%s)`, layer, strings.Join(columns, ", ")),
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, 'EPSG', ?, 'undefined', NULL)`,
		fmt.Sprintf("EPSG:%d", epsg), epsg, epsg)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_contents VALUES (?, 'features', ?, ?)`, layer, layer, epsg)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'GEOMETRY', ?, 0, 0)`, layer, epsg)
	require.NoError(t, err)

	placeholders := strings.Repeat(", ?", len(names))
	quoted := make([]string, 0, len(names)+1)
	quoted = append(quoted, "geom")
	for _, n := range names {
		quoted = append(quoted, fmt.Sprintf("%q", n))
	}
	insert := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (?%s)`, layer, strings.Join(quoted, ", "), placeholders)
	for _, f := range features {
		blob := GeoPackageBlob(t, f.Geometry, int32(epsg))
		args := []interface{}{blob}
		for _, n := range names {
			args = append(args, f.Properties[n])
		}
		_, err := db.Exec(insert, args...)
		require.NoError(t, err)
	}
}

// GeoPackageBlob wraps a geometry in a GeoPackage binary header without
// envelope.
func GeoPackageBlob(t testing.TB, g orb.Geometry, srsID int32) []byte {
	t.Helper()
	if g == nil {
		return nil
	}
	payload, err := wkb.Marshal(g, binary.LittleEndian)
	require.NoError(t, err)
	header := make([]byte, 8, 8+len(payload))
	header[0], header[1] = 'G', 'P'
	header[3] = 0x01
	binary.LittleEndian.PutUint32(header[4:], uint32(srsID))
	return append(header, payload...)
}

// WriteCorrupt writes bytes that no driver accepts under the given name.
func WriteCorrupt(t testing.TB, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("this is not a dataset\x00\x01\x02"), 0o644))
}
