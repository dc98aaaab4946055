package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// Attributes are the descriptive columns of one row, keyed by field name.
// Values are normalised to string, float64, int64, bool or nil.
type Attributes map[string]interface{}

// Row pairs a geometry with its attribute row.
type Row struct {
	Geometry   orb.Geometry
	Attributes Attributes
}

// Table is an immutable in-memory GeometryTable. Rows keep their source
// order and an R-tree over row bounds narrows intersection candidates.
type Table struct {
	name   string
	crs    CRS
	fields []string
	rows   []Row
	bound  orb.Bound
	tree   *rtreego.Rtree
}

// indexedRow adapts a row position to the rtreego.Spatial interface.
type indexedRow struct {
	pos  int
	rect rtreego.Rect
}

func (r indexedRow) Bounds() rtreego.Rect {
	return r.rect
}

// minExtent pads degenerate envelopes (points, axis-aligned lines) because
// rtreego rejects zero-length sides.
const minExtent = 1e-9

// BoundRect converts an orb.Bound into an R-tree rectangle.
func BoundRect(b orb.Bound) rtreego.Rect {
	point := rtreego.Point{b.Min.X(), b.Min.Y()}
	lengths := []float64{
		math.Max(b.Max.X()-b.Min.X(), minExtent),
		math.Max(b.Max.Y()-b.Min.Y(), minExtent),
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

// NewTable builds a table and its row index. The caller must not modify rows
// afterwards.
func NewTable(name string, crs CRS, fields []string, rows []Row) *Table {
	t := &Table{
		name:   name,
		crs:    crs,
		fields: fields,
		rows:   rows,
		tree:   rtreego.NewTree(2, 25, 50),
	}

	first := true
	for i, row := range rows {
		if row.Geometry == nil {
			continue
		}
		b := row.Geometry.Bound()
		if first {
			t.bound = b
			first = false
		} else {
			t.bound = t.bound.Union(b)
		}
		t.tree.Insert(indexedRow{pos: i, rect: BoundRect(b)})
	}
	return t
}

// Name returns the dataset name the table was loaded from.
func (t *Table) Name() string { return t.name }

// CRS returns the CRS every geometry of the table is expressed in.
func (t *Table) CRS() CRS { return t.crs }

// Fields returns the attribute schema in source order.
func (t *Table) Fields() []string { return t.fields }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns the i-th row.
func (t *Table) Row(i int) Row { return t.rows[i] }

// Rows returns all rows in source order. The slice must be treated as read-only.
func (t *Table) Rows() []Row { return t.rows }

// Bound returns the union of all row envelopes.
func (t *Table) Bound() orb.Bound { return t.bound }

// Candidates returns the positions of rows whose envelope intersects b, in
// ascending row order. The query is padded so that envelopes touching b are
// included.
func (t *Table) Candidates(b orb.Bound) []int {
	hits := t.tree.SearchIntersect(BoundRect(b.Pad(minExtent)))
	out := make([]int, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(indexedRow).pos)
	}
	sort.Ints(out)
	return out
}

// Intersecting returns the positions of rows whose geometry intersects g, in
// ascending row order. g must be expressed in the table CRS.
func (t *Table) Intersecting(g orb.Geometry) []int {
	if g == nil || len(t.rows) == 0 {
		return nil
	}
	var out []int
	for _, pos := range t.Candidates(g.Bound()) {
		if Intersects(t.rows[pos].Geometry, g) {
			out = append(out, pos)
		}
	}
	return out
}

// ToCanonical returns a copy of the table with every geometry reprojected to
// Canonical. Attribute rows are shared unchanged.
func (t *Table) ToCanonical() (*Table, error) {
	if t.crs.IsCanonical() {
		return t, nil
	}
	rows := make([]Row, len(t.rows))
	for i, row := range t.rows {
		g, err := ToCanonical(row.Geometry, t.crs)
		if err != nil {
			return nil, fmt.Errorf("reproject row %d of %s: %w", i, t.name, err)
		}
		rows[i] = Row{Geometry: g, Attributes: row.Attributes}
	}
	return NewTable(t.name, Canonical, t.fields, rows), nil
}
