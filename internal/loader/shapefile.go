package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	shpHeaderSize = 100
	shpFileCode   = 9994
	shpVersion    = 1000
)

// checkShapefileHeader validates the fixed 100 byte header before handing the
// file to go-shp, so truncated or foreign files surface as Unreadable.
func checkShapefileHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return unreadable(path, err)
	}
	defer f.Close()

	header := make([]byte, shpHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return unreadable(path, fmt.Errorf("short shapefile header: %w", err))
	}
	if code := binary.BigEndian.Uint32(header[0:4]); code != shpFileCode {
		return unreadable(path, fmt.Errorf("bad shapefile file code %d", code))
	}
	if version := binary.LittleEndian.Uint32(header[28:32]); version != shpVersion {
		return unreadable(path, fmt.Errorf("bad shapefile version %d", version))
	}
	return nil
}

func readShapefile(path string) (*geo.Table, error) {
	if err := checkShapefileHeader(path); err != nil {
		return nil, err
	}

	reader, err := openShapefile(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}

	var rows []geo.Row
	for reader.Next() {
		n, shape := reader.Shape()
		g, err := shapeGeometry(shape)
		if err != nil {
			return nil, unreadable(path, fmt.Errorf("record %d: %w", n, err))
		}
		attrs := make(geo.Attributes, len(fields))
		for i, f := range fields {
			attrs[names[i]] = dbfValue(reader.Attribute(i), f.Fieldtype)
		}
		rows = append(rows, geo.Row{Geometry: g, Attributes: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, unreadable(path, err)
	}

	crs, err := shapefileCRS(path)
	if err != nil {
		return nil, err
	}
	return assumeGeographic(geo.NewTable(datasetName(path), crs, names, rows), path)
}

// openShapefile opens the .shp and its .dbf under the names found on disk.
// go-shp's Open rebuilds both names in lower case, so it cannot read
// ENP.SHP/ENP.DBF. A shapefile without a .dbf reads as a table with no
// columns.
func openShapefile(path string) (shp.SequentialReader, error) {
	shpFile, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}

	var dbfFile io.ReadCloser = blankDBF()
	if dbfPath, ok := sibling(path, ".dbf"); ok {
		f, err := os.Open(dbfPath)
		if err != nil {
			shpFile.Close()
			return nil, unreadable(dbfPath, err)
		}
		dbfFile = f
	}

	reader := shp.SequentialReaderFromExt(shpFile, dbfFile)
	if err := reader.Err(); err != nil {
		reader.Close()
		return nil, unreadable(path, err)
	}
	return reader, nil
}

// blankDBF is a DBF with no fields and an endless run of one-byte records.
func blankDBF() io.ReadCloser {
	header := make([]byte, 33)
	header[0] = 0x03
	binary.LittleEndian.PutUint16(header[8:10], 33)
	binary.LittleEndian.PutUint16(header[10:12], 1)
	header[32] = 0x0d
	return io.NopCloser(io.MultiReader(bytes.NewReader(header), blankRecords{}))
}

type blankRecords struct{}

func (blankRecords) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = ' '
	}
	return len(p), nil
}

// shapefileCRS reads the .prj sidecar. A missing sidecar is not an error.
func shapefileCRS(path string) (geo.CRS, error) {
	prj, ok := sibling(path, ".prj")
	if !ok {
		return geo.Unknown, nil
	}
	data, err := os.ReadFile(prj)
	if err != nil {
		return geo.Unknown, unreadable(prj, err)
	}
	return geo.FromWKT(string(data))
}

// sibling finds a sidecar file next to path, tolerating upper-case extensions.
func sibling(path, ext string) (string, bool) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	for _, candidate := range []string{stem + ext, stem + strings.ToUpper(ext)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func datasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// dbfValue types a raw DBF cell according to its field type.
func dbfValue(raw string, fieldType byte) interface{} {
	raw = strings.TrimSpace(strings.Trim(raw, "\x00"))
	if raw == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return normalizeFloat(f)
		}
		return raw
	case 'L':
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return raw
}

func shapeGeometry(shape shp.Shape) (orb.Geometry, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(s.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(s.Points), nil
	case *shp.MultiPointM:
		return multiPoint(s.Points), nil
	case *shp.PolyLine:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineM:
		return lines(s.Parts, s.Points)
	case *shp.Polygon:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonM:
		return polygons(s.Parts, s.Points)
	}
	return nil, fmt.Errorf("unsupported shape type %T", shape)
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	out := make(orb.MultiPoint, len(points))
	for i, p := range points {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

// splitParts cuts the flat point list at the part offsets.
func splitParts(parts []int32, points []shp.Point) ([][]orb.Point, error) {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start > end {
			return nil, errors.New("part offsets out of range")
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out, nil
}

func lines(parts []int32, points []shp.Point) (orb.Geometry, error) {
	split, err := splitParts(parts, points)
	if err != nil {
		return nil, err
	}
	if len(split) == 1 {
		return orb.LineString(split[0]), nil
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = orb.LineString(p)
	}
	return mls, nil
}

// polygons groups shapefile rings into polygons: clockwise rings are outer
// boundaries, counter-clockwise rings are holes of the outer ring that
// contains them.
func polygons(parts []int32, points []shp.Point) (orb.Geometry, error) {
	split, err := splitParts(parts, points)
	if err != nil {
		return nil, err
	}

	var outers []orb.Polygon
	var holes []orb.Ring
	for _, p := range split {
		ring := orb.Ring(p)
		if len(ring) < 3 {
			continue
		}
		if ring.Orientation() == orb.CW {
			outers = append(outers, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	if len(outers) == 0 {
		// Mis-oriented data: treat every ring as its own outer boundary.
		for _, h := range holes {
			outers = append(outers, orb.Polygon{h})
		}
		holes = nil
	}

	for _, h := range holes {
		placed := false
		for i := range outers {
			if planar.RingContains(outers[i][0], h[0]) {
				outers[i] = append(outers[i], h)
				placed = true
				break
			}
		}
		if !placed {
			outers = append(outers, orb.Polygon{h})
		}
	}

	switch len(outers) {
	case 0:
		return nil, nil
	case 1:
		return outers[0], nil
	}
	return orb.MultiPolygon(outers), nil
}
