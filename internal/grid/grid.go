// Package grid provides the IVT intensity field for a single timestamp and
// the sources that load it.
package grid

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

// Grid is a latitude × longitude scalar field at one timestamp. Latitudes
// and longitudes are strictly ascending, longitudes in [-180, 180). Values
// are row-major by latitude; missing cells are NaN.
type Grid struct {
	Time   time.Time
	Lats   []float64
	Lons   []float64
	Values []float64

	latEdges []float64
	lonEdges []float64
}

// New validates the axes and precomputes cell edges.
func New(t time.Time, lats, lons, values []float64) (*Grid, error) {
	if len(lats) == 0 || len(lons) == 0 {
		return nil, fmt.Errorf("grid: empty axis (%d lats, %d lons)", len(lats), len(lons))
	}
	if len(values) != len(lats)*len(lons) {
		return nil, fmt.Errorf("grid: %d values for %d×%d cells", len(values), len(lats), len(lons))
	}
	if !strictlyAscending(lats) {
		return nil, fmt.Errorf("grid: latitudes not strictly ascending")
	}
	if !strictlyAscending(lons) {
		return nil, fmt.Errorf("grid: longitudes not strictly ascending")
	}
	return &Grid{
		Time:     t,
		Lats:     lats,
		Lons:     lons,
		Values:   values,
		latEdges: edges(lats),
		lonEdges: edges(lons),
	}, nil
}

func (g *Grid) At(i, j int) float64 { return g.Values[i*len(g.Lons)+j] }

// CellBounds returns the cell edges of (i, j): the midpoints to the
// neighbouring coordinates, extended by half a spacing at the ends.
func (g *Grid) CellBounds(i, j int) (minLon, minLat, maxLon, maxLat float64) {
	return g.lonEdges[j], g.latEdges[i], g.lonEdges[j+1], g.latEdges[i+1]
}

// LatRange returns the half-open index range of cells whose latitude span
// overlaps [lo, hi].
func (g *Grid) LatRange(lo, hi float64) (int, int) { return overlapping(g.latEdges, lo, hi) }

// LonRange is LatRange for longitudes. Edge cells may extend past ±180.
func (g *Grid) LonRange(lo, hi float64) (int, int) { return overlapping(g.lonEdges, lo, hi) }

// LonExtent returns the outer cell edges of the longitude axis.
func (g *Grid) LonExtent() (float64, float64) {
	return g.lonEdges[0], g.lonEdges[len(g.lonEdges)-1]
}

func overlapping(e []float64, lo, hi float64) (int, int) {
	n := len(e) - 1
	// First cell whose upper edge is >= lo.
	start := sort.SearchFloat64s(e[1:], lo)
	// First cell whose lower edge is > hi.
	end := sort.Search(n, func(k int) bool { return e[k] > hi })
	if start > end {
		start = end
	}
	return start, end
}

func edges(c []float64) []float64 {
	n := len(c)
	e := make([]float64, n+1)
	if n == 1 {
		e[0], e[1] = c[0]-0.5, c[0]+0.5
		return e
	}
	for k := 1; k < n; k++ {
		e[k] = (c[k-1] + c[k]) / 2
	}
	e[0] = c[0] - (c[1]-c[0])/2
	e[n] = c[n-1] + (c[n-1]-c[n-2])/2
	return e
}

func strictlyAscending(xs []float64) bool {
	for k := 1; k < len(xs); k++ {
		if !(xs[k] > xs[k-1]) {
			return false
		}
	}
	return !slices.ContainsFunc(xs, math.IsNaN)
}
