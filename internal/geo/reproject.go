package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// ToCanonical reprojects g from the given CRS into Canonical. Geometries that
// are already geographic are returned as-is; everything else is cloned first so
// the input is never mutated.
func ToCanonical(g orb.Geometry, from CRS) (orb.Geometry, error) {
	proj, err := inverseProjection(from)
	if err != nil {
		return nil, err
	}
	if proj == nil || g == nil {
		return g, nil
	}
	return project.Geometry(orb.Clone(g), proj), nil
}

// FromCanonical reprojects a Canonical geometry into the target CRS.
func FromCanonical(g orb.Geometry, to CRS) (orb.Geometry, error) {
	proj, err := forwardProjection(to)
	if err != nil {
		return nil, err
	}
	if proj == nil || g == nil {
		return g, nil
	}
	return project.Geometry(orb.Clone(g), proj), nil
}

// Transform reprojects g between two supported CRSs, going through Canonical.
func Transform(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	if from == to {
		return g, nil
	}
	canonical, err := ToCanonical(g, from)
	if err != nil {
		return nil, err
	}
	return FromCanonical(canonical, to)
}

// inverseProjection returns the point function taking coordinates in c to
// Canonical, or nil when c is already geographic.
func inverseProjection(c CRS) (orb.Projection, error) {
	switch {
	case !c.IsKnown():
		return nil, &ProjectionError{CRS: c, Reason: "crs could not be determined"}
	case c.IsGeographic():
		return nil, nil
	case c.isMercator():
		return project.Mercator.ToWGS84, nil
	}
	if z, ok := utmZoneFor(c); ok {
		return z.inverse, nil
	}
	return nil, &ProjectionError{CRS: c, Reason: "no transformation to EPSG:4326"}
}

func forwardProjection(c CRS) (orb.Projection, error) {
	switch {
	case !c.IsKnown():
		return nil, &ProjectionError{CRS: c, Reason: "crs could not be determined"}
	case c.IsGeographic():
		return nil, nil
	case c.isMercator():
		return project.WGS84.ToMercator, nil
	}
	if z, ok := utmZoneFor(c); ok {
		return z.forward, nil
	}
	return nil, &ProjectionError{CRS: c, Reason: "no transformation from EPSG:4326"}
}

// LooksGeographic reports whether every coordinate of b fits in lon/lat range.
// Used to guess the CRS of datasets that ship without any CRS metadata.
func LooksGeographic(b orb.Bound) bool {
	return b.Min.X() >= -180 && b.Max.X() <= 180 && b.Min.Y() >= -90 && b.Max.Y() <= 90
}
