package geodesy

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/tidwall/geodesic"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
)

const (
	m2PerKm2 = 1e6

	// Bisection steps for a seam crossing.
	seamSteps = 64
)

// RingArea returns the unsigned area enclosed by a lon/lat ring in m². The
// ring may be open or closed and in either orientation; the smaller of the
// two regions it bounds is measured.
func (el Ellipsoid) RingArea(r orb.Ring) (float64, error) {
	pts := ringVertices(r)
	if len(pts) < 3 {
		return 0, fmt.Errorf("%w: ring has %d distinct vertices", domain.ErrGeodesy, len(pts))
	}
	poly := el.g.PolygonInit(false)
	for _, p := range pts {
		poly.AddPoint(p[1], p[0])
	}
	var a float64
	poly.Compute(false, true, &a, nil)
	if math.IsNaN(a) {
		return 0, fmt.Errorf("%w: ring area is not a number", domain.ErrGeodesy)
	}
	return math.Abs(a), nil
}

// PolygonArea returns the outer ring area minus its holes, in m².
func (el Ellipsoid) PolygonArea(p orb.Polygon) (float64, error) {
	if len(p) == 0 {
		return 0, nil
	}
	outer, err := el.RingArea(p[0])
	if err != nil {
		return 0, err
	}
	for _, hole := range p[1:] {
		h, err := el.RingArea(hole)
		if err != nil {
			return outer, err
		}
		outer -= h
	}
	return math.Max(outer, 0), nil
}

// Area returns the geodesic area of a shape in km². A part that cannot be
// measured contributes zero and the returned error wraps domain.ErrGeodesy;
// the area of the remaining parts is still returned.
func (el Ellipsoid) Area(s geometry.Shape) (float64, error) {
	var total float64
	var firstErr error
	for i, p := range s.Parts() {
		a, err := el.PolygonArea(p)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("part %d: %w", i, err)
		}
		total += a
	}
	return total / m2PerKm2, firstErr
}

// ringVertices drops NaN vertices, repeated vertices and the closing
// vertex. Every point at a pole is the same vertex.
func ringVertices(r orb.Ring) []orb.Point {
	pts := make([]orb.Point, 0, len(r))
	for _, v := range r {
		if math.IsNaN(v[0]) || math.IsNaN(v[1]) {
			continue
		}
		if math.Abs(v[1]) >= 90 {
			v = orb.Point{0, math.Copysign(90, v[1])}
		}
		if n := len(pts); n > 0 && sameVertex(pts[n-1], v) {
			continue
		}
		pts = append(pts, v)
	}
	if n := len(pts); n > 1 && sameVertex(pts[0], pts[n-1]) {
		pts = pts[:n-1]
	}
	return pts
}

func sameVertex(a, b orb.Point) bool {
	return a[1] == b[1] && math.Mod(a[0]-b[0], 360) == 0
}

// SeamLatitude returns the latitude where the geodesic from a to b meets
// meridian lon. Longitudes may be unwrapped beyond ±180 as long as a and b
// are less than 180° apart. Splitting a ring at these points leaves the
// total RingArea unchanged because both halves follow the same geodesic.
func (el Ellipsoid) SeamLatitude(a, b orb.Point, lon float64) float64 {
	switch {
	case math.Abs(a[1]) == 90:
		return a[1]
	case math.Abs(b[1]) == 90:
		return b[1]
	case a[0] == b[0]:
		return a[1]
	}

	line := el.g.InverseLine(a[1], a[0], b[1], b[0],
		geodesic.Latitude|geodesic.Longitude|geodesic.DistanceIn)
	// Unrolled longitudes run from a[0] to b[0] monotonically.
	east := b[0] > a[0]
	lo, hi := 0.0, line.S13()
	var lat, lonAt float64
	for range seamSteps {
		mid := (lo + hi) / 2
		line.GenPosition(geodesic.LongUnroll, mid, &lat, &lonAt, nil, nil, nil, nil, nil, nil)
		if (lonAt < lon) == east {
			lo = mid
		} else {
			hi = mid
		}
	}
	line.GenPosition(geodesic.LongUnroll, (lo+hi)/2, &lat, nil, nil, nil, nil, nil, nil, nil)
	return lat
}
