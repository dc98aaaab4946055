package loader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// indexMagic opens every companion index file.
const indexMagic = "GLIDX1\n"

// entrySize is the encoded size of one indexEntry.
const entrySize = 4*8 + 8 + 4

// indexHeader is the fixed part of a companion index.
type indexHeader struct {
	SRID   uint32
	Count  uint64
	Fields []string
}

func (h indexHeader) encodedLen() int64 {
	n := int64(len(indexMagic) + 4 + 8 + 4)
	for _, f := range h.Fields {
		n += 2 + int64(len(f))
	}
	return n
}

// indexEntry locates one feature line in the data file. Rows without
// geometry carry an inverted envelope and are never returned by bound queries.
type indexEntry struct {
	pos    int
	MinX   float64
	MinY   float64
	MaxX   float64
	MaxY   float64
	Offset int64
	Length uint32
}

func (e indexEntry) hasGeometry() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

func (e indexEntry) bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

func (e indexEntry) Bounds() rtreego.Rect {
	return geo.BoundRect(e.bound())
}

// featureLine is the on-disk shape of one feature.
type featureLine struct {
	Type       string                 `json:"type"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// WriteIndexed writes table to dataPath in the indexed streaming format, with
// its companion index at IndexPath(dataPath). Geometries are reprojected to
// geo.Canonical first. Both files are written to temporary siblings and
// renamed into place, index first, so a reader never sees a data file
// without its index.
func WriteIndexed(dataPath string, table *geo.Table) error {
	canonical, err := table.ToCanonical()
	if err != nil {
		return err
	}

	var data bytes.Buffer
	entries := make([]indexEntry, 0, canonical.Len())
	for i, row := range canonical.Rows() {
		line := featureLine{Type: "Feature", Properties: map[string]interface{}(row.Attributes)}
		entry := indexEntry{
			MinX: math.Inf(1), MinY: math.Inf(1),
			MaxX: math.Inf(-1), MaxY: math.Inf(-1),
		}
		if row.Geometry != nil {
			line.Geometry = geojson.NewGeometry(row.Geometry)
			b := row.Geometry.Bound()
			entry.MinX, entry.MinY = b.Min.X(), b.Min.Y()
			entry.MaxX, entry.MaxY = b.Max.X(), b.Max.Y()
		}
		if line.Properties == nil {
			line.Properties = map[string]interface{}{}
		}
		encoded, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("encode feature %d: %w", i, err)
		}
		entry.Offset = int64(data.Len())
		entry.Length = uint32(len(encoded))
		data.Write(encoded)
		data.WriteByte('\n')
		entries = append(entries, entry)
	}

	var index bytes.Buffer
	header := indexHeader{
		SRID:   uint32(geo.EPSGWGS84),
		Count:  uint64(len(entries)),
		Fields: canonical.Fields(),
	}
	if err := encodeIndex(&index, header, entries); err != nil {
		return err
	}

	if err := writeFileAtomic(IndexPath(dataPath), index.Bytes()); err != nil {
		return err
	}
	return writeFileAtomic(dataPath, data.Bytes())
}

func encodeIndex(w io.Writer, h indexHeader, entries []indexEntry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(indexMagic); err != nil {
		return err
	}
	fixed := []interface{}{h.SRID, h.Count, uint32(len(h.Fields))}
	for _, v := range fixed {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, f := range h.Fields {
		if len(f) > math.MaxUint16 {
			return fmt.Errorf("field name too long: %d bytes", len(f))
		}
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(f))); err != nil {
			return err
		}
		if _, err := bw.WriteString(f); err != nil {
			return err
		}
	}
	for _, e := range entries {
		rec := []interface{}{e.MinX, e.MinY, e.MaxX, e.MaxY, e.Offset, e.Length}
		for _, v := range rec {
			if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// writeFileAtomic writes data to a temporary file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func decodeIndexHeader(r io.Reader) (indexHeader, error) {
	var h indexHeader
	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return h, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != indexMagic {
		return h, errors.New("bad index magic")
	}
	var nfields uint32
	for _, v := range []interface{}{&h.SRID, &h.Count, &nfields} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return h, fmt.Errorf("read header: %w", err)
		}
	}
	if nfields > math.MaxUint16 {
		return h, fmt.Errorf("implausible field count %d", nfields)
	}
	h.Fields = make([]string, 0, nfields)
	for i := uint32(0); i < nfields; i++ {
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return h, fmt.Errorf("read field %d: %w", i, err)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return h, fmt.Errorf("read field %d: %w", i, err)
		}
		h.Fields = append(h.Fields, string(name))
	}
	return h, nil
}

// readIndexHeader reads only the header of a companion index.
func readIndexHeader(indexPath string) (indexHeader, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return indexHeader{}, unreadable(indexPath, err)
	}
	defer f.Close()

	h, err := decodeIndexHeader(bufio.NewReader(f))
	if err != nil {
		return h, unreadable(indexPath, err)
	}
	return h, nil
}

// readIndex reads a companion index and checks its size against the header.
func readIndex(indexPath string) (indexHeader, []indexEntry, error) {
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return indexHeader{}, nil, unreadable(indexPath, err)
	}
	r := bytes.NewReader(raw)
	h, err := decodeIndexHeader(r)
	if err != nil {
		return h, nil, unreadable(indexPath, err)
	}
	if want := h.encodedLen() + int64(h.Count)*entrySize; want != int64(len(raw)) {
		return h, nil, unreadable(indexPath, fmt.Errorf("index size %d, header implies %d", len(raw), want))
	}

	entries := make([]indexEntry, h.Count)
	for i := range entries {
		e := &entries[i]
		e.pos = i
		for _, v := range []interface{}{&e.MinX, &e.MinY, &e.MaxX, &e.MaxY, &e.Offset, &e.Length} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return h, nil, unreadable(indexPath, fmt.Errorf("entry %d: %w", i, err))
			}
		}
	}
	return h, entries, nil
}

func decodeFeatureLine(line []byte) (geo.Row, error) {
	var fl featureLine
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&fl); err != nil {
		return geo.Row{}, err
	}
	if fl.Type != "Feature" {
		return geo.Row{}, fmt.Errorf("expected Feature, got %q", fl.Type)
	}
	row := geo.Row{Attributes: make(geo.Attributes, len(fl.Properties))}
	if fl.Geometry != nil {
		if g := fl.Geometry.Geometry(); !isEmptyGeometry(g) {
			row.Geometry = g
		}
	}
	for k, v := range fl.Properties {
		row.Attributes[k] = normalizeValue(v)
	}
	return row, nil
}

// readIndexed loads every feature of an indexed dataset in file order.
func readIndexed(path string) (*geo.Table, error) {
	h, entries, err := readIndex(IndexPath(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, unreadable(path, err)
	}

	rows := make([]geo.Row, 0, len(entries))
	for _, e := range entries {
		end := e.Offset + int64(e.Length)
		if e.Offset < 0 || end > int64(len(data)) {
			return nil, unreadable(path, fmt.Errorf("feature %d outside data file", e.pos))
		}
		row, err := decodeFeatureLine(data[e.Offset:end])
		if err != nil {
			return nil, unreadable(path, fmt.Errorf("feature %d: %w", e.pos, err))
		}
		rows = append(rows, row)
	}
	return geo.NewTable(datasetName(path), geo.EPSG(int(h.SRID)), h.Fields, rows), nil
}

// ReadIndexedWithin reads only the features of an indexed dataset whose
// envelope intersects b, using the companion index to seek to each one.
// b is in geo.Canonical and the table is returned reprojected to it, as Load
// does. Rows keep file order.
func ReadIndexedWithin(path string, b orb.Bound) (*geo.Table, error) {
	h, entries, err := readIndex(IndexPath(path))
	if err != nil {
		return nil, err
	}
	if !geo.EPSG(int(h.SRID)).IsCanonical() {
		return readIndexedReprojectedWithin(path, b)
	}

	tree := rtreego.NewTree(2, 25, 50)
	for _, e := range entries {
		if e.hasGeometry() {
			tree.Insert(e)
		}
	}
	hits := tree.SearchIntersect(geo.BoundRect(b.Pad(1e-9)))
	selected := make([]indexEntry, 0, len(hits))
	for _, hit := range hits {
		selected = append(selected, hit.(indexEntry))
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].pos < selected[j].pos })

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	defer f.Close()

	rows := make([]geo.Row, 0, len(selected))
	for _, e := range selected {
		buf := make([]byte, e.Length)
		if _, err := f.ReadAt(buf, e.Offset); err != nil {
			return nil, unreadable(path, fmt.Errorf("feature %d: %w", e.pos, err))
		}
		row, err := decodeFeatureLine(buf)
		if err != nil {
			return nil, unreadable(path, fmt.Errorf("feature %d: %w", e.pos, err))
		}
		rows = append(rows, row)
	}
	return geo.NewTable(datasetName(path), geo.EPSG(int(h.SRID)), h.Fields, rows), nil
}

// readIndexedReprojectedWithin serves indexes written in another CRS. Their
// envelopes cannot be compared with b, so every row is reprojected and then
// filtered.
func readIndexedReprojectedWithin(path string, b orb.Bound) (*geo.Table, error) {
	native, err := readIndexed(path)
	if err != nil {
		return nil, err
	}
	table, err := native.ToCanonical()
	if err != nil {
		return nil, err
	}
	query := b.Pad(1e-9)
	rows := make([]geo.Row, 0, table.Len())
	for _, row := range table.Rows() {
		if row.Geometry != nil && row.Geometry.Bound().Intersects(query) {
			rows = append(rows, row)
		}
	}
	return geo.NewTable(table.Name(), table.CRS(), table.Fields(), rows), nil
}
