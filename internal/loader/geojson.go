package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// sniffWindow bounds how much of a GeoJSON file SniffCRS reads.
const sniffWindow = 64 << 10

var geoJSONCRSNameRe = regexp.MustCompile(`"crs"\s*:\s*\{[^}]*"name"\s*:\s*"([^"]+)"`)

// geoJSONHead captures the members orb/geojson does not model: the document
// type and the legacy named crs object.
type geoJSONHead struct {
	Type string `json:"type"`
	CRS  *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

func (p geoJSONHead) crs() (geo.CRS, error) {
	if p.CRS == nil || p.CRS.Properties.Name == "" {
		return geo.Canonical, nil
	}
	return geo.ParseCRS(p.CRS.Properties.Name)
}

func readGeoJSON(path string) (*geo.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, unreadable(path, errors.New("empty file"))
	}

	var head geoJSONHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, unreadable(path, err)
	}
	crs, err := head.crs()
	if err != nil {
		return nil, err
	}

	features, err := decodeFeatures(head.Type, data)
	if err != nil {
		if errors.Is(err, errUnknownGeoJSONType) {
			return nil, unsupported(path, err)
		}
		return nil, unreadable(path, err)
	}

	var fc fieldCollector
	rows := make([]geo.Row, 0, len(features))
	for _, f := range features {
		rows = append(rows, featureRow(f, &fc))
	}
	return geo.NewTable(datasetName(path), crs, fc.fields, rows), nil
}

var errUnknownGeoJSONType = errors.New("unknown geojson type")

// decodeFeatures turns any GeoJSON document into a list of features. A bare
// geometry becomes a single feature without properties.
func decodeFeatures(typ string, data []byte) ([]*geojson.Feature, error) {
	switch typ {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return []*geojson.Feature{f}, nil
	case "Point", "MultiPoint", "LineString", "MultiLineString",
		"Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return []*geojson.Feature{geojson.NewFeature(g.Geometry())}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownGeoJSONType, typ)
}

func featureRow(f *geojson.Feature, fc *fieldCollector) geo.Row {
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make(geo.Attributes, len(keys))
	for _, k := range keys {
		fc.add(k)
		attrs[k] = normalizeValue(f.Properties[k])
	}
	var g orb.Geometry
	if !isEmptyGeometry(f.Geometry) {
		g = f.Geometry
	}
	return geo.Row{Geometry: g, Attributes: attrs}
}

// sniffGeoJSONCRS looks for a named crs member near the top of the file.
// GeoJSON without one is EPSG:4326 by definition.
func sniffGeoJSONCRS(path string) (geo.CRS, error) {
	f, err := os.Open(path)
	if err != nil {
		return geo.Unknown, unreadable(path, err)
	}
	defer f.Close()

	head := make([]byte, sniffWindow)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return geo.Unknown, unreadable(path, err)
	}
	if m := geoJSONCRSNameRe.FindSubmatch(head[:n]); m != nil {
		return geo.ParseCRS(string(m[1]))
	}
	return geo.Canonical, nil
}

// DecodeParcel decodes a GeoJSON geometry, Feature or FeatureCollection
// expressed in crs, merges every part and reprojects the result to
// geo.Canonical. A document without geometry is an Empty LoadError.
func DecodeParcel(data []byte, crs geo.CRS) (orb.Geometry, error) {
	const source = "parcel"
	var head geoJSONHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, unreadable(source, err)
	}
	if head.CRS != nil && head.CRS.Properties.Name != "" {
		embedded, err := head.crs()
		if err != nil {
			return nil, err
		}
		crs = embedded
	}

	features, err := decodeFeatures(head.Type, data)
	if err != nil {
		if errors.Is(err, errUnknownGeoJSONType) {
			return nil, unsupported(source, err)
		}
		return nil, unreadable(source, err)
	}
	geoms := make([]orb.Geometry, 0, len(features))
	for _, f := range features {
		geoms = append(geoms, f.Geometry)
	}
	merged := Merge(geoms)
	if merged == nil {
		return nil, empty(source, errors.New("parcel has no geometry"))
	}
	return geo.ToCanonical(merged, crs)
}
