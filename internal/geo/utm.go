package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// ellipsoid parameters used by the UTM families below.
type ellipsoid struct {
	a float64 // semi-major axis in metres
	f float64 // flattening
}

var (
	grs80 = ellipsoid{a: 6378137.0, f: 1 / 298.257222101}
	wgs84 = ellipsoid{a: 6378137.0, f: 1 / 298.257223563}
)

const (
	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// utmZone is a Transverse Mercator projection evaluated with the Krüger
// series to third order in n, which keeps round trips well below a millimetre
// inside the zone.
type utmZone struct {
	zone     int
	south    bool
	lon0     float64 // central meridian, radians
	e        float64 // first eccentricity
	bigA     float64 // rectifying radius
	alpha    [3]float64
	beta     [3]float64
	delta    [3]float64
	northing float64
}

func newUTMZone(zone int, south bool, el ellipsoid) utmZone {
	n := el.f / (2 - el.f)
	n2, n3 := n*n, n*n*n

	z := utmZone{
		zone:  zone,
		south: south,
		lon0:  degToRad(float64(zone-1)*6 - 180 + 3),
		e:     2 * math.Sqrt(n) / (1 + n),
		bigA:  el.a / (1 + n) * (1 + n2/4 + n2*n2/64),
		alpha: [3]float64{
			n/2 - 2*n2/3 + 5*n3/16,
			13*n2/48 - 3*n3/5,
			61 * n3 / 240,
		},
		beta: [3]float64{
			n/2 - 2*n2/3 + 37*n3/96,
			n2/48 + n3/15,
			17 * n3 / 480,
		},
		delta: [3]float64{
			2*n - 2*n2/3 - 2*n3,
			7*n2/3 - 8*n3/5,
			56 * n3 / 15,
		},
	}
	if south {
		z.northing = utmFalseNorthing
	}
	return z
}

// utmZoneFor maps a projected CRS onto its UTM parameters.
func utmZoneFor(c CRS) (utmZone, bool) {
	switch {
	case c.EPSG >= EPSGETRS89UTMBase+28 && c.EPSG <= EPSGETRS89UTMBase+38:
		return newUTMZone(c.EPSG-EPSGETRS89UTMBase, false, grs80), true
	case c.EPSG > EPSGWGS84UTMNorth && c.EPSG <= EPSGWGS84UTMNorth+60:
		return newUTMZone(c.EPSG-EPSGWGS84UTMNorth, false, wgs84), true
	case c.EPSG > EPSGWGS84UTMSouth && c.EPSG <= EPSGWGS84UTMSouth+60:
		return newUTMZone(c.EPSG-EPSGWGS84UTMSouth, true, wgs84), true
	}
	return utmZone{}, false
}

// forward converts lon/lat degrees into easting/northing metres.
func (z utmZone) forward(p orb.Point) orb.Point {
	phi := degToRad(p.Lat())
	lam := degToRad(p.Lon()) - z.lon0

	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - z.e*math.Atanh(z.e*sinPhi))
	xiP := math.Atan2(t, math.Cos(lam))
	etaP := math.Atanh(math.Sin(lam) / math.Sqrt(1+t*t))

	xi, eta := xiP, etaP
	for j := 1; j <= 3; j++ {
		a := z.alpha[j-1]
		fj := float64(2 * j)
		xi += a * math.Sin(fj*xiP) * math.Cosh(fj*etaP)
		eta += a * math.Cos(fj*xiP) * math.Sinh(fj*etaP)
	}

	k := utmScale * z.bigA
	return orb.Point{utmFalseEasting + k*eta, z.northing + k*xi}
}

// inverse converts easting/northing metres into lon/lat degrees.
func (z utmZone) inverse(p orb.Point) orb.Point {
	k := utmScale * z.bigA
	xi := (p.Y() - z.northing) / k
	eta := (p.X() - utmFalseEasting) / k

	xiP, etaP := xi, eta
	for j := 1; j <= 3; j++ {
		b := z.beta[j-1]
		fj := float64(2 * j)
		xiP -= b * math.Sin(fj*xi) * math.Cosh(fj*eta)
		etaP -= b * math.Cos(fj*xi) * math.Sinh(fj*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	phi := chi
	for j := 1; j <= 3; j++ {
		phi += z.delta[j-1] * math.Sin(float64(2*j)*chi)
	}
	lam := z.lon0 + math.Atan2(math.Sinh(etaP), math.Cos(xiP))

	return orb.Point{radToDeg(lam), radToDeg(phi)}
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
