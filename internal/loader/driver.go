package loader

import (
	"path/filepath"
	"strings"
)

// Driver names the on-disk vector format of a dataset.
type Driver string

const (
	DriverShapefile  Driver = "ESRI Shapefile"
	DriverGeoJSON    Driver = "GeoJSON"
	DriverGeoPackage Driver = "GPKG"
	// DriverIndexed is the spatially indexed streaming format: newline
	// delimited GeoJSON features plus a companion envelope index.
	DriverIndexed Driver = "GeoJSONSeq"
)

// File extensions recognised by DriverFor.
const (
	ExtShapefile  = ".shp"
	ExtGeoJSON    = ".geojson"
	ExtGeoPackage = ".gpkg"
	ExtIndexed    = ".geojsonl"
	// ExtIndex is appended to the full data path of an indexed dataset.
	ExtIndex = ".idx"
)

var driversByExt = map[string]Driver{
	ExtShapefile:  DriverShapefile,
	ExtGeoJSON:    DriverGeoJSON,
	ExtGeoPackage: DriverGeoPackage,
	ExtIndexed:    DriverIndexed,
}

// DriverFor returns the driver for a path based on its extension.
func DriverFor(path string) (Driver, bool) {
	d, ok := driversByExt[strings.ToLower(filepath.Ext(path))]
	return d, ok
}

// IsGeometryFile reports whether path has a supported geometry extension.
func IsGeometryFile(path string) bool {
	_, ok := DriverFor(path)
	return ok
}

// Rank orders drivers by read cost: the indexed streaming format first,
// legacy single-file formats last. Lower is preferred.
func (d Driver) Rank() int {
	switch d {
	case DriverIndexed:
		return 0
	case DriverGeoPackage:
		return 1
	case DriverGeoJSON:
		return 2
	case DriverShapefile:
		return 3
	}
	return 99
}

// Convertible reports whether the normalizer rewrites datasets of this driver.
func (d Driver) Convertible() bool {
	return d == DriverShapefile || d == DriverGeoJSON || d == DriverGeoPackage
}

// IndexedPath returns the indexed-format sibling of a dataset path: same
// directory, same stem.
func IndexedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ExtIndexed
}

// IndexPath returns the companion index of an indexed-format data file.
func IndexPath(dataPath string) string {
	return dataPath + ExtIndex
}
