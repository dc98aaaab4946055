package loader

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"
)

const firstFeatureTableQuery = `
SELECT c.table_name, g.column_name, g.srs_id
FROM gpkg_contents c
JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
WHERE c.data_type = 'features'
ORDER BY c.table_name
LIMIT 1`

// featureTable describes the GeoPackage layer a dataset is read from.
type featureTable struct {
	name   string
	column string
	srsID  int
}

// openGeoPackage opens an existing GeoPackage. The file is checked first
// because the SQLite driver would otherwise create an empty database.
func openGeoPackage(path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	if info.IsDir() {
		return nil, unreadable(path, errors.New("path is a directory"))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	return db, nil
}

func lookupFeatureTable(db *sql.DB, path string) (featureTable, error) {
	var ft featureTable
	err := db.QueryRow(firstFeatureTableQuery).Scan(&ft.name, &ft.column, &ft.srsID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ft, unsupported(path, errors.New("geopackage has no feature table"))
	case err != nil:
		return ft, unreadable(path, err)
	}
	return ft, nil
}

// srsCRS maps a GeoPackage srs_id to an EPSG code through
// gpkg_spatial_ref_sys. Undefined systems (0, -1) are Unknown.
func srsCRS(db *sql.DB, srsID int) geo.CRS {
	if srsID <= 0 {
		return geo.Unknown
	}
	var org string
	var code int
	err := db.QueryRow(
		`SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?`,
		srsID,
	).Scan(&org, &code)
	if err == nil && strings.EqualFold(org, "EPSG") && code > 0 {
		return geo.EPSG(code)
	}
	return geo.EPSG(srsID)
}

func geoPackageCRS(path string) (geo.CRS, error) {
	db, err := openGeoPackage(path)
	if err != nil {
		return geo.Unknown, err
	}
	defer db.Close()

	ft, err := lookupFeatureTable(db, path)
	if err != nil {
		return geo.Unknown, err
	}
	return srsCRS(db, ft.srsID), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// primaryKeys lists the integer primary key columns, which are row ids
// rather than descriptive attributes.
func primaryKeys(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var name string
		var pk int
		if err := rows.Scan(&name, &pk); err != nil {
			return nil, err
		}
		if pk > 0 {
			keys[name] = true
		}
	}
	return keys, rows.Err()
}

func readGeoPackage(path string) (*geo.Table, error) {
	db, err := openGeoPackage(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ft, err := lookupFeatureTable(db, path)
	if err != nil {
		return nil, err
	}
	pks, err := primaryKeys(db, ft.name)
	if err != nil {
		return nil, unreadable(path, err)
	}

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s ORDER BY rowid`, quoteIdent(ft.name)))
	if err != nil {
		return nil, unreadable(path, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, unreadable(path, err)
	}
	var fields []string
	for _, c := range columns {
		if c != ft.column && !pks[c] {
			fields = append(fields, c)
		}
	}

	var out []geo.Row
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, unreadable(path, err)
		}
		row := geo.Row{Attributes: make(geo.Attributes, len(fields))}
		for i, c := range columns {
			switch {
			case c == ft.column:
				blob, _ := values[i].([]byte)
				g, err := decodeGeoPackageGeometry(blob)
				if err != nil {
					return nil, unreadable(path, fmt.Errorf("row %d: %w", len(out), err))
				}
				row.Geometry = g
			case !pks[c]:
				row.Attributes[c] = normalizeValue(values[i])
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, unreadable(path, err)
	}

	table := geo.NewTable(ft.name, srsCRS(db, ft.srsID), fields, out)
	return assumeGeographic(table, path)
}

// envelopeSizes is indexed by the envelope contents indicator of a
// GeoPackage binary header.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

// decodeGeoPackageGeometry strips the GeoPackage binary header and decodes the
// WKB payload. Nil blobs and empty-flagged geometries decode to nil.
func decodeGeoPackageGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errors.New("missing GP geometry header")
	}
	flags := blob[3]
	indicator := int(flags>>1) & 0x07
	if indicator >= len(envelopeSizes) {
		return nil, fmt.Errorf("invalid envelope indicator %d", indicator)
	}
	if flags&0x10 != 0 {
		return nil, nil
	}
	start := 8 + envelopeSizes[indicator]
	if len(blob) <= start {
		return nil, errors.New("truncated geometry blob")
	}
	return wkb.Unmarshal(blob[start:])
}
