package geodesy

import (
	"math"

	"github.com/paulmach/orb"
)

// Length returns the geodesic length of a polyline in km. Fewer than two
// points have zero length. NaN vertices are skipped.
func (el Ellipsoid) Length(ls orb.LineString) float64 {
	line := el.g.PolygonInit(true)
	for _, p := range ls {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			continue
		}
		line.AddPoint(p[1], p[0])
	}
	var perimeter float64
	line.Compute(false, false, nil, &perimeter)
	return perimeter / 1000
}

// Distance returns the geodesic distance between two lon/lat points in
// metres.
func (el Ellipsoid) Distance(p1, p2 orb.Point) float64 {
	var s12 float64
	el.g.Inverse(p1[1], p1[0], p2[1], p2[0], &s12, nil, nil)
	return s12
}
