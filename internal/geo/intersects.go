package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// parts is a geometry broken down into the primitives the predicate works on.
type parts struct {
	points []orb.Point      // standalone points
	lines  []orb.LineString // linestrings and every polygon ring
	polys  []orb.Polygon
}

func decompose(g orb.Geometry, into *parts) {
	switch g := g.(type) {
	case nil:
	case orb.Point:
		into.points = append(into.points, g)
	case orb.MultiPoint:
		into.points = append(into.points, g...)
	case orb.LineString:
		into.lines = append(into.lines, g)
	case orb.MultiLineString:
		for _, ls := range g {
			into.lines = append(into.lines, ls)
		}
	case orb.Ring:
		decompose(orb.Polygon{g}, into)
	case orb.Polygon:
		if len(g) == 0 {
			return
		}
		into.polys = append(into.polys, g)
		for _, r := range g {
			into.lines = append(into.lines, orb.LineString(r))
		}
	case orb.MultiPolygon:
		for _, p := range g {
			decompose(p, into)
		}
	case orb.Collection:
		for _, c := range g {
			decompose(c, into)
		}
	case orb.Bound:
		decompose(g.ToPolygon(), into)
	}
}

// Intersects reports whether a and b share at least one point, boundaries
// included. Both geometries must be expressed in the same planar or
// geographic CRS.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	var pa, pb parts
	decompose(a, &pa)
	decompose(b, &pb)

	if linesCross(pa.lines, pb.lines) {
		return true
	}
	if verticesInside(pa, pb.polys) || verticesInside(pb, pa.polys) {
		return true
	}
	if pointsTouch(pa.points, pb) || pointsTouch(pb.points, pa) {
		return true
	}
	return false
}

func linesCross(as, bs []orb.LineString) bool {
	for _, la := range as {
		ba := la.Bound()
		for _, lb := range bs {
			if !ba.Intersects(lb.Bound()) {
				continue
			}
			for i := 0; i+1 < len(la); i++ {
				for j := 0; j+1 < len(lb); j++ {
					if segmentsIntersect(la[i], la[i+1], lb[j], lb[j+1]) {
						return true
					}
				}
			}
		}
	}
	return false
}

// verticesInside reports whether any vertex of p lies inside one of polys.
// With no boundary crossing, one vertex inside means containment.
func verticesInside(p parts, polys []orb.Polygon) bool {
	if len(polys) == 0 {
		return false
	}
	test := func(pt orb.Point) bool {
		for _, poly := range polys {
			if planar.PolygonContains(poly, pt) {
				return true
			}
		}
		return false
	}
	for _, pt := range p.points {
		if test(pt) {
			return true
		}
	}
	for _, ls := range p.lines {
		if len(ls) > 0 && test(ls[0]) {
			return true
		}
	}
	return false
}

func pointsTouch(points []orb.Point, other parts) bool {
	for _, pt := range points {
		for _, q := range other.points {
			if pt.Equal(q) {
				return true
			}
		}
		for _, ls := range other.lines {
			if len(ls) == 1 && pt.Equal(ls[0]) {
				return true
			}
			for i := 0; i+1 < len(ls); i++ {
				if onSegment(ls[i], ls[i+1], pt) {
					return true
				}
			}
		}
	}
	return false
}

// orientation returns >0 for counter-clockwise, <0 for clockwise and 0 for
// collinear triples.
func orientation(p, q, r orb.Point) float64 {
	return (q.X()-p.X())*(r.Y()-p.Y()) - (q.Y()-p.Y())*(r.X()-p.X())
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// onSegment reports whether r lies on the closed segment pq.
func onSegment(p, q, r orb.Point) bool {
	if orientation(p, q, r) != 0 {
		return false
	}
	return r.X() >= min(p.X(), q.X()) && r.X() <= max(p.X(), q.X()) &&
		r.Y() >= min(p.Y(), q.Y()) && r.Y() <= max(p.Y(), q.Y())
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := sign(orientation(q1, q2, p1))
	d2 := sign(orientation(q1, q2, p2))
	d3 := sign(orientation(p1, p2, q1))
	d4 := sign(orientation(p1, p2, q2))

	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}
