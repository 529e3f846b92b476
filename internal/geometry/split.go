package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

// SeamLatitude returns the latitude at which the edge a→b meets the
// meridian lon. Longitudes of a and b may be unwrapped beyond ±180.
type SeamLatitude func(a, b orb.Point, lon float64) float64

// GreatCircleLatitude interpolates along the spherical great circle through
// a and b: the crossing is the intersection of the edge's plane with the
// meridian plane, taken on the side of the edge.
func GreatCircleLatitude(a, b orb.Point, lon float64) float64 {
	if math.Abs(a[1]) == 90 && a[1] == b[1] {
		return a[1]
	}
	pa := s2.PointFromLatLng(s2.LatLngFromDegrees(a[1], a[0]))
	pb := s2.PointFromLatLng(s2.LatLngFromDegrees(b[1], b[0]))
	l := rad(lon)
	meridian := r3.Vector{X: -math.Sin(l), Y: math.Cos(l)}

	d := pa.Cross(pb.Vector).Cross(meridian)
	if d.Norm() < 1e-12 {
		return linearLatitude(a, b, lon)
	}
	if d.Dot(pa.Add(pb.Vector)) < 0 {
		d = d.Mul(-1)
	}
	return s2.LatLngFromPoint(s2.Point{Vector: d}).Lat.Degrees()
}

func linearLatitude(a, b orb.Point, lon float64) float64 {
	if a[0] == b[0] {
		return a[1]
	}
	return a[1] + (b[1]-a[1])*(lon-a[0])/(b[0]-a[0])
}

// Splitter turns an AR contour into a Shape whose parts lie within
// [-180, 180].
type Splitter struct {
	seam SeamLatitude
}

// NewSplitter returns a Splitter interpolating seam crossings with seam.
// A nil seam uses GreatCircleLatitude.
func NewSplitter(seam SeamLatitude) *Splitter {
	if seam == nil {
		seam = GreatCircleLatitude
	}
	return &Splitter{seam: seam}
}

// Split closes and orients the contour, unwraps its longitudes and cuts it
// at every ±180° seam it reaches. A contour that winds once around a pole is
// closed through that pole first. Fewer than three distinct points is an
// upstream contract violation.
func (s *Splitter) Split(contour []orb.Point) (Shape, error) {
	ring := dedupe(unwrap(contour))
	if len(ring) > 1 && isClosingVertex(ring[0], ring[len(ring)-1]) {
		ring = ring[:len(ring)-1]
	}
	if n := distinct(ring); n < 3 {
		return Shape{}, fmt.Errorf("%w: contour has %d distinct points", domain.ErrUpstreamContract, n)
	}

	// Winding is the lon offset of the closing point, which unwraps like
	// any other vertex.
	closing := ring[len(ring)-1][0] + NormalizeLon(ring[0][0]-ring[len(ring)-1][0])
	if winding := closing - ring[0][0]; math.Abs(winding) > 180 {
		ring = closeThroughPole(ring, closing)
	}

	r := orb.Ring(append(ring, ring[0]))
	if r.Orientation() == orb.CW {
		r.Reverse()
	}

	pieces, err := s.cut(r)
	if err != nil {
		return Shape{}, err
	}

	parts := make([]orb.Polygon, 0, len(pieces))
	for _, p := range pieces {
		p = shiftIntoRange(p)
		if distinct(p[:len(p)-1]) < 3 {
			continue
		}
		parts = append(parts, orb.Polygon{p})
	}
	if len(parts) == 0 {
		return Shape{}, fmt.Errorf("%w: contour collapsed while splitting", domain.ErrTopology)
	}
	return Multi(parts...), nil
}

// cut splits r at the first seam strictly inside its lon range and
// recurses into the pieces.
func (s *Splitter) cut(r orb.Ring) ([]orb.Ring, error) {
	b := r.Bound()
	c := 180 + 360*math.Floor((b.Min[0]-180)/360+1)
	if c >= b.Max[0] {
		return []orb.Ring{r}, nil
	}

	pieces, err := s.cutAt(r, c)
	if err != nil {
		return nil, err
	}
	var out []orb.Ring
	for _, p := range pieces {
		sub, err := s.cut(p)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

type node struct {
	pt    orb.Point
	cross bool
}

// cutAt splits a closed ring at meridian c. Vertices with x < c go left,
// the rest right. Crossings are paired bottom-to-top along the seam, and
// each side's fragments are closed by walking the seam between partners.
func (s *Splitter) cutAt(r orb.Ring, c float64) ([]orb.Ring, error) {
	n := len(r) - 1
	left := func(p orb.Point) bool { return p[0] < c }

	nodes := make([]node, 0, n+8)
	var crossings []int
	for i := 0; i < n; i++ {
		a, b := r[i], r[i+1]
		nodes = append(nodes, node{pt: a})
		if left(a) != left(b) {
			crossings = append(crossings, len(nodes))
			nodes = append(nodes, node{pt: orb.Point{c, s.seam(a, b, c)}, cross: true})
		}
	}
	if len(crossings)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of seam crossings at %g", domain.ErrTopology, c)
	}

	sort.SliceStable(crossings, func(i, j int) bool {
		return nodes[crossings[i]].pt[1] < nodes[crossings[j]].pt[1]
	})
	partner := make(map[int]int, len(crossings))
	for i := 0; i < len(crossings); i += 2 {
		partner[crossings[i]] = crossings[i+1]
		partner[crossings[i+1]] = crossings[i]
	}

	total := len(nodes)
	used := make(map[int]bool, len(crossings))
	var out []orb.Ring
	for _, start := range crossings {
		if used[start] {
			continue
		}
		used[start] = true

		piece := orb.Ring{nodes[start].pt}
		i := start
		for steps := 0; ; steps++ {
			if steps > 2*total {
				return nil, fmt.Errorf("%w: seam walk did not close at %g", domain.ErrTopology, c)
			}
			i = (i + 1) % total
			piece = append(piece, nodes[i].pt)
			if !nodes[i].cross {
				continue
			}
			j := partner[i]
			if j == start {
				break
			}
			used[j] = true
			piece = append(piece, nodes[j].pt)
			i = j
		}
		piece = dedupe(piece)
		if piece[0] != piece[len(piece)-1] {
			piece = append(piece, piece[0])
		}
		out = append(out, piece)
	}
	return out, nil
}

// unwrap normalizes the first longitude and moves every following point by
// the shortest lon step from its predecessor.
func unwrap(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		if i == 0 {
			out[i] = orb.Point{NormalizeLon(p[0]), p[1]}
			continue
		}
		prev := out[i-1][0]
		out[i] = orb.Point{prev + NormalizeLon(p[0]-prev), p[1]}
	}
	return out
}

// closeThroughPole closes a ring that winds around a pole by running along
// the pole from the closing longitude back to the start. The pole is the
// one on the side of the mean latitude.
func closeThroughPole(ring []orb.Point, closing float64) []orb.Point {
	var sum float64
	for _, p := range ring {
		sum += p[1]
	}
	pole := 90.0
	if sum < 0 {
		pole = -90
	}
	out := make([]orb.Point, 0, len(ring)+3)
	out = append(out, ring...)
	return append(out,
		orb.Point{closing, ring[0][1]},
		orb.Point{closing, pole},
		orb.Point{ring[0][0], pole},
	)
}

// isClosingVertex reports whether last repeats first, possibly one full
// turn away after unwrapping.
func isClosingVertex(first, last orb.Point) bool {
	return first[1] == last[1] && math.Abs(NormalizeLon(last[0]-first[0])) < 1e-9
}

// shiftIntoRange moves a piece by a multiple of 360° so that its midpoint
// lies in [-180, 180).
func shiftIntoRange(r orb.Ring) orb.Ring {
	b := r.Bound()
	mid := (b.Min[0] + b.Max[0]) / 2
	shift := 360 * math.Floor((mid+180)/360)
	if shift == 0 {
		return r
	}
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = orb.Point{p[0] - shift, p[1]}
	}
	return out
}

func dedupe[T ~[]orb.Point](pts T) T {
	if len(pts) == 0 {
		return pts
	}
	out := T{pts[0]}
	for _, p := range pts[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

func distinct(pts []orb.Point) int {
	seen := make(map[orb.Point]struct{}, len(pts))
	for _, p := range pts {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func rad(d float64) float64 { return d * math.Pi / 180 }
