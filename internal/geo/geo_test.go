package geo

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func TestParseCRS(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"EPSG:25830", 25830},
		{"epsg:4326", 4326},
		{"4258", 4258},
		{"urn:ogc:def:crs:EPSG::25830", 25830},
		{"urn:ogc:def:crs:EPSG:6.6:3857", 3857},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", 4326},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			crs, err := ParseCRS(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, crs.EPSG)
		})
	}

	_, err := ParseCRS("not a crs")
	var perr *ProjectionError
	assert.True(t, errors.As(err, &perr))
}

func TestFromWKT(t *testing.T) {
	tests := []struct {
		name string
		wkt  string
		want int
	}{
		{
			name: "esri etrs89 utm 30",
			wkt:  `PROJCS["ETRS_1989_UTM_Zone_30N",GEOGCS["GCS_ETRS_1989",DATUM["D_ETRS_1989",SPHEROID["GRS_1980",6378137.0,298.257222101]]],PROJECTION["Transverse_Mercator"],UNIT["Meter",1.0]]`,
			want: 25830,
		},
		{
			name: "authority wins",
			wkt:  `PROJCS["whatever",GEOGCS["GCS",AUTHORITY["EPSG","4258"]],AUTHORITY["EPSG","25829"]]`,
			want: 25829,
		},
		{
			name: "wgs84 geographic",
			wkt:  `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]]`,
			want: 4326,
		},
		{
			name: "wgs84 utm south",
			wkt:  `PROJCS["WGS 84 / UTM zone 23S",GEOGCS["WGS 84"]]`,
			want: 32723,
		},
		{
			name: "web mercator",
			wkt:  `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984"]]`,
			want: 3857,
		},
		{
			name: "ed50 is detected but unsupported",
			wkt:  `PROJCS["ED_1950_UTM_Zone_30N",GEOGCS["GCS_European_1950"]]`,
			want: 23030,
		},
		{
			name: "nested unit authorities are not the crs",
			wkt: `PROJCS["ETRS89 / UTM zone 30N",GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",` +
				`SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6258"]],` +
				`PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]]],` +
				`PROJECTION["Transverse_Mercator"],PARAMETER["central_meridian",-3],PARAMETER["scale_factor",0.9996],` +
				`UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH]]`,
			want: 25830,
		},
		{
			name: "wkt2 outer id",
			wkt: `PROJCRS["ETRS89 / UTM zone 30N",BASEGEOGCRS["ETRS89",DATUM["European Terrestrial Reference System 1989",` +
				`ELLIPSOID["GRS 1980",6378137,298.257222101]],ID["EPSG",4258]],CONVERSION["UTM zone 30N",ID["EPSG",16030]],ID["EPSG",25830]]`,
			want: 25830,
		},
		{
			name: "towgs84 does not make ed50 wgs84",
			wkt: `GEOGCS["ED50",DATUM["European_Datum_1950",SPHEROID["International 1924",6378388,297],` +
				`TOWGS84[-87,-98,-121,0,0,0,0]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`,
			want: 4230,
		},
		{
			name: "geographic crs known by its datum",
			wkt:  `GEOGCS["unnamed",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],UNIT["degree",0.0174532925199433]]`,
			want: 4326,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crs, err := FromWKT(tt.wkt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, crs.EPSG)
		})
	}

	assert.False(t, EPSG(23030).Supported())
	assert.False(t, EPSG(4230).Supported())
	assert.True(t, EPSG(25830).Supported())
	assert.True(t, EPSG(32723).Supported())
	assert.True(t, EPSG(3857).Supported())
}

func TestCRS_JSON(t *testing.T) {
	data, err := json.Marshal(EPSG(25830))
	require.NoError(t, err)
	assert.JSONEq(t, `"EPSG:25830"`, string(data))

	var c CRS
	require.NoError(t, json.Unmarshal([]byte(`"EPSG:4258"`), &c))
	assert.Equal(t, 4258, c.EPSG)
	require.NoError(t, json.Unmarshal([]byte(`25831`), &c))
	assert.Equal(t, 25831, c.EPSG)
}

func TestUTM_KnownValues(t *testing.T) {
	z, ok := utmZoneFor(EPSG(32630))
	require.True(t, ok)

	// Equator on the central meridian maps to the false origin.
	p := z.forward(orb.Point{-3, 0})
	assert.InDelta(t, 500000.0, p.X(), 1e-6)
	assert.InDelta(t, 0.0, p.Y(), 1e-6)

	// Scaled meridian arc at 45 degrees north.
	p = z.forward(orb.Point{-3, 45})
	assert.InDelta(t, 500000.0, p.X(), 1e-6)
	assert.InDelta(t, 4982950.4, p.Y(), 0.5)
}

func TestUTM_RoundTrip(t *testing.T) {
	for _, code := range []int{25829, 25830, 25831, 32630, 32723} {
		crs := EPSG(code)
		var pts []orb.Point
		if code == 32723 {
			pts = []orb.Point{{-45.1, -23.5}, {-44.2, -10.0}}
		} else {
			pts = []orb.Point{{-3.7038, 40.4168}, {-5.98, 37.39}, {2.17, 41.38}, {-8.5, 43.3}}
		}
		for _, pt := range pts {
			projected, err := FromCanonical(pt, crs)
			require.NoError(t, err)
			back, err := ToCanonical(projected, crs)
			require.NoError(t, err)
			assert.InDelta(t, pt.Lon(), back.(orb.Point).Lon(), 1e-8, "lon %s", crs)
			assert.InDelta(t, pt.Lat(), back.(orb.Point).Lat(), 1e-8, "lat %s", crs)
		}
	}
}

func TestToCanonical_DoesNotMutateInput(t *testing.T) {
	poly := square(440000, 4474000, 440100, 4474100)
	out, err := ToCanonical(poly, EPSG(25830))
	require.NoError(t, err)

	assert.Equal(t, 440000.0, poly[0][0].X())
	converted := out.(orb.Polygon)
	assert.InDelta(t, -3.70, converted[0][0].Lon(), 0.05)
	assert.InDelta(t, 40.41, converted[0][0].Lat(), 0.05)
}

func TestToCanonical_Errors(t *testing.T) {
	_, err := ToCanonical(orb.Point{1, 2}, Unknown)
	var perr *ProjectionError
	require.True(t, errors.As(err, &perr))

	_, err = ToCanonical(orb.Point{1, 2}, EPSG(23030))
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 23030, perr.CRS.EPSG)
}

func TestTransform_Mercator(t *testing.T) {
	pt := orb.Point{-3.7, 40.4}
	merc, err := Transform(pt, Canonical, EPSG(EPSGWebMercator))
	require.NoError(t, err)
	back, err := Transform(merc, EPSG(EPSGWebMercator), Canonical)
	require.NoError(t, err)
	assert.InDelta(t, pt.Lon(), back.(orb.Point).Lon(), 1e-9)
	assert.InDelta(t, pt.Lat(), back.(orb.Point).Lat(), 1e-9)
}

func TestIntersects(t *testing.T) {
	base := square(0, 0, 10, 10)
	withHole := orb.Polygon{
		base[0],
		{{4, 4}, {4, 6}, {6, 6}, {6, 4}, {4, 4}},
	}

	tests := []struct {
		name string
		a, b orb.Geometry
		want bool
	}{
		{"overlapping squares", base, square(5, 5, 15, 15), true},
		{"disjoint squares", base, square(11, 11, 12, 12), false},
		{"contained square", base, square(2, 2, 3, 3), true},
		{"container square", square(2, 2, 3, 3), base, true},
		{"shared edge", base, square(10, 0, 20, 10), true},
		{"bounds overlap only", orb.Polygon{{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}, square(8, 8, 9, 9), false},
		{"inside hole", withHole, square(4.5, 4.5, 5.5, 5.5), false},
		{"straddles hole edge", withHole, square(3, 3, 5, 5), true},
		{"point inside", base, orb.Point{5, 5}, true},
		{"point on boundary", base, orb.Point{10, 5}, true},
		{"point outside", base, orb.Point{11, 5}, false},
		{"line crossing", base, orb.LineString{{-5, 5}, {15, 5}}, true},
		{"line outside", base, orb.LineString{{-5, -5}, {-1, 20}}, false},
		{"line inside", base, orb.LineString{{1, 1}, {2, 2}}, true},
		{"multipolygon second part", orb.MultiPolygon{square(20, 20, 30, 30), base}, square(1, 1, 2, 2), true},
		{"points equal", orb.Point{1, 1}, orb.MultiPoint{{1, 1}}, true},
		{"nil geometry", nil, base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intersects(tt.a, tt.b))
			if tt.a != nil && tt.b != nil {
				assert.Equal(t, tt.want, Intersects(tt.b, tt.a), "predicate must be symmetric")
			}
		})
	}
}

func TestTable_Intersecting(t *testing.T) {
	rows := []Row{
		{Geometry: square(0, 0, 1, 1), Attributes: Attributes{"name": "a"}},
		{Geometry: square(5, 5, 6, 6), Attributes: Attributes{"name": "b"}},
		{Geometry: nil, Attributes: Attributes{"name": "empty"}},
		{Geometry: orb.Point{0.5, 0.5}, Attributes: Attributes{"name": "c"}},
		{Geometry: square(0.9, 0.9, 5.1, 5.1), Attributes: Attributes{"name": "d"}},
	}
	table := NewTable("test", Canonical, []string{"name"}, rows)

	assert.Equal(t, 5, table.Len())
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{6, 6}}, table.Bound())

	hits := table.Intersecting(square(0.25, 0.25, 0.75, 0.75))
	assert.Equal(t, []int{0, 3}, hits)

	hits = table.Intersecting(square(4, 4, 5.5, 5.5))
	assert.Equal(t, []int{1, 4}, hits)

	assert.Empty(t, table.Intersecting(square(100, 100, 101, 101)))
}

func TestTable_ToCanonical(t *testing.T) {
	rows := []Row{{Geometry: orb.Point{440000, 4474000}, Attributes: Attributes{"code": "X"}}}
	table := NewTable("utm", EPSG(25830), []string{"code"}, rows)

	out, err := table.ToCanonical()
	require.NoError(t, err)
	assert.Equal(t, Canonical, out.CRS())
	assert.Equal(t, "X", out.Row(0).Attributes["code"])
	assert.Equal(t, 440000.0, table.Row(0).Geometry.(orb.Point).X(), "source table is untouched")

	bad := NewTable("bad", EPSG(23030), nil, rows)
	_, err = bad.ToCanonical()
	var perr *ProjectionError
	assert.True(t, errors.As(err, &perr))
}
