// Package loader opens vector datasets into geo.Table values expressed in the
// canonical working CRS.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/paulmach/orb"
)

// Load opens the dataset at path with the given driver (or the driver implied
// by the extension when hint is empty) and reprojects it to geo.Canonical.
// An empty dataset yields a zero-row table, not an error.
func Load(path string, hint Driver) (*geo.Table, error) {
	table, err := LoadNative(path, hint)
	if err != nil {
		return nil, err
	}
	return table.ToCanonical()
}

// LoadNative opens the dataset without reprojecting it.
func LoadNative(path string, hint Driver) (*geo.Table, error) {
	driver, err := resolveDriver(path, hint)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	if info.IsDir() {
		return nil, unreadable(path, errors.New("path is a directory"))
	}

	switch driver {
	case DriverShapefile:
		return readShapefile(path)
	case DriverGeoJSON:
		return readGeoJSON(path)
	case DriverGeoPackage:
		return readGeoPackage(path)
	case DriverIndexed:
		return readIndexed(path)
	}
	return nil, unsupported(path, fmt.Errorf("driver %q", driver))
}

func resolveDriver(path string, hint Driver) (Driver, error) {
	if hint != "" {
		if hint.Rank() == 99 {
			return "", unsupported(path, fmt.Errorf("driver %q", hint))
		}
		return hint, nil
	}
	driver, ok := DriverFor(path)
	if !ok {
		return "", unsupported(path, fmt.Errorf("extension %q", filepath.Ext(path)))
	}
	return driver, nil
}

// assumeGeographic settles a table whose CRS metadata is missing: lon/lat
// coordinates are taken as Canonical, anything else cannot be placed.
func assumeGeographic(table *geo.Table, path string) (*geo.Table, error) {
	if table.CRS().IsKnown() {
		return table, nil
	}
	if table.Len() == 0 || geo.LooksGeographic(table.Bound()) {
		return geo.NewTable(table.Name(), geo.Canonical, table.Fields(), table.Rows()), nil
	}
	return nil, &geo.ProjectionError{
		CRS:    table.CRS(),
		Reason: fmt.Sprintf("%s has no crs metadata and coordinates are not lon/lat", filepath.Base(path)),
	}
}

// SniffCRS reads only the CRS metadata of a dataset. geo.Unknown with a nil
// error means the dataset carries no CRS information.
func SniffCRS(path string, hint Driver) (geo.CRS, error) {
	driver, err := resolveDriver(path, hint)
	if err != nil {
		return geo.Unknown, err
	}
	switch driver {
	case DriverShapefile:
		return shapefileCRS(path)
	case DriverGeoJSON:
		return sniffGeoJSONCRS(path)
	case DriverGeoPackage:
		return geoPackageCRS(path)
	case DriverIndexed:
		hdr, err := readIndexHeader(IndexPath(path))
		if err != nil {
			return geo.Unknown, err
		}
		return geo.EPSG(int(hdr.SRID)), nil
	}
	return geo.Unknown, unsupported(path, fmt.Errorf("driver %q", driver))
}

// LoadParcel opens a parcel dataset and merges all of its rows into a single
// canonical geometry. A dataset without geometry is an Empty error.
func LoadParcel(path string) (orb.Geometry, error) {
	table, err := Load(path, "")
	if err != nil {
		return nil, err
	}
	geoms := make([]orb.Geometry, 0, table.Len())
	for _, row := range table.Rows() {
		geoms = append(geoms, row.Geometry)
	}
	merged := Merge(geoms)
	if merged == nil {
		return nil, empty(path, errors.New("parcel dataset has no geometry"))
	}
	return merged, nil
}

// Merge combines geometries into one: a MultiPolygon when every part is
// polygonal, a Collection otherwise. Nil and empty parts are dropped; nil is
// returned when nothing is left.
func Merge(geoms []orb.Geometry) orb.Geometry {
	var polys orb.MultiPolygon
	var all orb.Collection
	polygonal := true

	for _, g := range geoms {
		if isEmptyGeometry(g) {
			continue
		}
		all = append(all, g)
		switch g := g.(type) {
		case orb.Polygon:
			polys = append(polys, g)
		case orb.MultiPolygon:
			polys = append(polys, g...)
		default:
			polygonal = false
		}
	}

	switch {
	case len(all) == 0:
		return nil
	case len(all) == 1:
		return all[0]
	case polygonal:
		return polys
	}
	return all
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.MultiLineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		for _, c := range g {
			if !isEmptyGeometry(c) {
				return false
			}
		}
		return true
	}
	return false
}

// normalizeValue maps driver-specific attribute values onto the scalar set
// used by geo.Attributes. Integral numbers become int64 whatever their
// source so that the same dataset in different formats yields equal rows.
func normalizeValue(v interface{}) interface{} {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return v
	case bool:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return v.String()
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	}
	// Nested objects and arrays are flattened to their JSON text.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func normalizeFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// FormatValue renders an attribute value as the string used for legend codes.
func FormatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// fieldCollector accumulates attribute names in first-seen order.
type fieldCollector struct {
	seen   map[string]bool
	fields []string
}

func (c *fieldCollector) add(name string) {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if !c.seen[name] {
		c.seen[name] = true
		c.fields = append(c.fields, name)
	}
}
