// Package geo holds the geometry primitives shared by the loader, the registry
// and the crossing engine: coordinate reference systems, reprojection to the
// canonical working CRS, the intersects predicate and the in-memory GeometryTable.
package geo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Well-known EPSG codes handled by this package.
const (
	EPSGWGS84          = 4326
	EPSGETRS89         = 4258
	EPSGED50           = 4230
	EPSGWebMercator    = 3857
	EPSGGoogleMercator = 900913
	EPSGEsriMercator   = 102100
	EPSGED50UTMBase    = 23000
	EPSGETRS89UTMBase  = 25800
	EPSGWGS84UTMNorth  = 32600
	EPSGWGS84UTMSouth  = 32700
)

// CRS identifies a coordinate reference system by EPSG code.
// The zero value means the CRS could not be determined.
type CRS struct {
	EPSG int
}

// Canonical is the working CRS of the whole process: geographic WGS84 (lon, lat).
var Canonical = CRS{EPSG: EPSGWGS84}

// Unknown is returned when no CRS information is available.
var Unknown = CRS{}

// EPSG returns a CRS for the given EPSG code.
func EPSG(code int) CRS {
	return CRS{EPSG: code}
}

// IsKnown reports whether the CRS carries a code at all.
func (c CRS) IsKnown() bool {
	return c.EPSG != 0
}

// IsGeographic reports whether coordinates are WGS84-equivalent lon/lat.
func (c CRS) IsGeographic() bool {
	return c.EPSG == EPSGWGS84 || c.EPSG == EPSGETRS89
}

// IsCanonical reports whether no reprojection is needed to reach Canonical.
func (c CRS) IsCanonical() bool {
	return c.IsGeographic()
}

// Supported reports whether the CRS can be converted to and from Canonical.
func (c CRS) Supported() bool {
	if c.IsGeographic() || c.isMercator() {
		return true
	}
	_, ok := utmZoneFor(c)
	return ok
}

func (c CRS) isMercator() bool {
	return c.EPSG == EPSGWebMercator || c.EPSG == EPSGGoogleMercator || c.EPSG == EPSGEsriMercator
}

// String renders the CRS as "EPSG:<code>" or "unknown".
func (c CRS) String() string {
	if !c.IsKnown() {
		return "unknown"
	}
	return "EPSG:" + strconv.Itoa(c.EPSG)
}

// MarshalJSON renders the CRS as its string form.
func (c CRS) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts the forms understood by ParseCRS.
func (c *CRS) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var code int
		if errNum := json.Unmarshal(data, &code); errNum != nil {
			return fmt.Errorf("crs must be a string or EPSG number: %w", err)
		}
		*c = EPSG(code)
		return nil
	}
	if s == "" || s == "unknown" {
		*c = Unknown
		return nil
	}
	parsed, err := ParseCRS(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ProjectionError reports a CRS that cannot be reconciled with Canonical.
type ProjectionError struct {
	CRS    CRS
	Reason string
}

func (e *ProjectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported crs %s", e.CRS)
	}
	return fmt.Sprintf("unsupported crs %s: %s", e.CRS, e.Reason)
}

var (
	epsgCodeRe   = regexp.MustCompile(`(?i)EPSG:{1,2}(?:[\d.]*:)?(\d+)$`)
	crs84Re      = regexp.MustCompile(`(?i)CRS:?84$`)
	authorityRe  = regexp.MustCompile(`(?i)^(?:AUTHORITY|ID)\s*[\[(]\s*"EPSG"\s*,\s*"?(\d+)"?`)
	datumNameRe  = regexp.MustCompile(`(?i)\bDATUM\s*[\[(]\s*"([^"]*)"`)
	wktNameRe    = regexp.MustCompile(`(?i)^\s*(PROJCS|GEOGCS|PROJCRS|GEOGCRS|GEODCRS)\s*\[\s*"([^"]*)"`)
	utmZoneRe    = regexp.MustCompile(`(?i)UTM[ _]*zone[ _]*(\d{1,2})\s*([NS])?`)
	mercatorRe   = regexp.MustCompile(`(?i)(web|pseudo|popular).?mercator|mercator.?auxiliary`)
	etrsDatumRe  = regexp.MustCompile(`(?i)(ETRS.?(19)?89|European_Terrestrial_Reference_System_1989)`)
	wgsDatumRe   = regexp.MustCompile(`(?i)WGS.?(19)?84`)
	ed50DatumRe  = regexp.MustCompile(`(?i)(ED.?(19)?50|European_Datum_1950)`)
	nad83DatumRe = regexp.MustCompile(`(?i)NAD.?(19)?83`)
)

// ParseCRS parses "EPSG:25830", "25830", "urn:ogc:def:crs:EPSG::25830",
// OGC CRS84 URNs and WKT strings.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown, &ProjectionError{Reason: "empty crs"}
	}
	if code, err := strconv.Atoi(s); err == nil {
		return EPSG(code), nil
	}
	if crs84Re.MatchString(s) {
		return Canonical, nil
	}
	if m := epsgCodeRe.FindStringSubmatch(s); m != nil {
		code, _ := strconv.Atoi(m[1])
		return EPSG(code), nil
	}
	if strings.Contains(s, "[") {
		return FromWKT(s)
	}
	return Unknown, &ProjectionError{Reason: fmt.Sprintf("unrecognised crs %q", s)}
}

// FromWKT detects the EPSG code of a WKT definition, as found in .prj files.
// An EPSG authority on the outermost CRS wins; otherwise the CRS name is
// matched against the datums and projections this package knows.
func FromWKT(wkt string) (CRS, error) {
	if code, ok := outerAuthority(wkt); ok {
		return EPSG(code), nil
	}

	m := wktNameRe.FindStringSubmatch(wkt)
	if m == nil {
		return Unknown, &ProjectionError{Reason: "wkt has no PROJCS/GEOGCS name"}
	}
	kind := strings.ToUpper(m[1])
	name := m[2]

	if strings.HasPrefix(kind, "PROJ") {
		if mercatorRe.MatchString(name) {
			return EPSG(EPSGWebMercator), nil
		}
		if z := utmZoneRe.FindStringSubmatch(name); z != nil {
			zone, _ := strconv.Atoi(z[1])
			south := strings.EqualFold(z[2], "S")
			switch {
			case etrsDatumRe.MatchString(name):
				return EPSG(EPSGETRS89UTMBase + zone), nil
			case wgsDatumRe.MatchString(name):
				if south {
					return EPSG(EPSGWGS84UTMSouth + zone), nil
				}
				return EPSG(EPSGWGS84UTMNorth + zone), nil
			case ed50DatumRe.MatchString(name):
				return EPSG(EPSGED50UTMBase + zone), nil
			case nad83DatumRe.MatchString(name):
				return EPSG(26900 + zone), nil
			}
		}
		return Unknown, &ProjectionError{Reason: fmt.Sprintf("unrecognised projected crs %q", name)}
	}

	// TOWGS84 parameters name WGS84 without the datum being WGS84, so only
	// the CRS and DATUM names are compared.
	datum := ""
	if d := datumNameRe.FindStringSubmatch(wkt); d != nil {
		datum = d[1]
	}
	switch {
	case ed50DatumRe.MatchString(name) || ed50DatumRe.MatchString(datum):
		return EPSG(EPSGED50), nil
	case etrsDatumRe.MatchString(name) || etrsDatumRe.MatchString(datum):
		return EPSG(EPSGETRS89), nil
	case wgsDatumRe.MatchString(name) || wgsDatumRe.MatchString(datum):
		return Canonical, nil
	}
	return Unknown, &ProjectionError{Reason: fmt.Sprintf("unrecognised geographic crs %q", name)}
}

// outerAuthority returns the EPSG code of the AUTHORITY (WKT1) or ID (WKT2)
// clause of the outermost CRS node. Clauses nested in the datum, units or
// axes are ignored.
func outerAuthority(wkt string) (int, bool) {
	depth := 0
	inQuote := false
	for i := 0; i < len(wkt); i++ {
		ch := wkt[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case depth == 1 && isWordStart(wkt, i):
			if m := authorityRe.FindStringSubmatch(wkt[i:]); m != nil {
				code, err := strconv.Atoi(m[1])
				return code, err == nil
			}
		}
	}
	return 0, false
}

func isWordStart(s string, i int) bool {
	if !isWordByte(s[i]) {
		return false
	}
	return i == 0 || !isWordByte(s[i-1])
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
