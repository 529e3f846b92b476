// Package landfall locates the maximum-intensity grid cell inside a
// continent overlap and picks one landfall continent per AR.
package landfall

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
	"github.com/couchcryptid/ar-landfall/internal/grid"
)

// Cell is one grid cell selected by the finder.
type Cell struct {
	I, J  int
	Lon   float64
	Lat   float64
	Value float64
}

// Max is the outcome of a search. Ties is the number of cells that shared
// the maximum before tie-breaking; 1 means the maximum was unique.
type Max struct {
	Cell
	Ties int
}

// Finder searches a grid for the maximum value among the cells touched by a
// geometry. It is not safe for concurrent use when its TieBreaker is not.
type Finder struct {
	tie TieBreaker
}

// NewFinder returns a Finder resolving ties with tb. A nil tb uses a
// perturbation tie-breaker with its own random source.
func NewFinder(tb TieBreaker) *Finder {
	if tb == nil {
		tb = NewPerturbTieBreaker(nil)
	}
	return &Finder{tie: tb}
}

// Find returns the maximum cell among every cell whose rectangle intersects
// the shape (all-touched). ok is false for an empty shape. When no cell is
// touched or every touched cell is missing the error wraps
// domain.ErrNoData.
func (f *Finder) Find(g *grid.Grid, s geometry.Shape) (m Max, ok bool, err error) {
	if s.IsEmpty() {
		return Max{}, false, nil
	}

	touched := touchedCells(g, s)
	if len(touched) == 0 {
		return Max{}, false, fmt.Errorf("%w: no cells within %v", domain.ErrNoData, s.Bound())
	}

	best := math.Inf(-1)
	var cands []Cell
	for _, c := range touched {
		switch {
		case math.IsNaN(c.Value) || c.Value < best:
		case c.Value > best:
			best = c.Value
			cands = append(cands[:0], c)
		default:
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return Max{}, false, fmt.Errorf("%w: %d touched cells are all missing", domain.ErrNoData, len(touched))
	}
	if len(cands) == 1 {
		return Max{Cell: cands[0], Ties: 1}, true, nil
	}
	return Max{Cell: cands[f.tie.Break(cands)], Ties: len(cands)}, true, nil
}

// touchedCells lists touched cells in row-major order without duplicates.
// Edge cells that extend past ±180 are also tested shifted by 360°.
func touchedCells(g *grid.Grid, s geometry.Shape) []Cell {
	lonLo, lonHi := g.LonExtent()
	shifts := []float64{0}
	if lonLo < -180 {
		shifts = append(shifts, 360)
	}
	if lonHi > 180 {
		shifts = append(shifts, -360)
	}

	seen := make(map[[2]int]bool)
	var out []Cell
	for _, part := range s.Parts() {
		b := part.Bound()
		i0, i1 := g.LatRange(b.Min[1], b.Max[1])
		for _, shift := range shifts {
			// Cell edges shifted by -shift line up with the part.
			j0, j1 := g.LonRange(b.Min[0]-shift, b.Max[0]-shift)
			for i := i0; i < i1; i++ {
				for j := j0; j < j1; j++ {
					key := [2]int{i, j}
					if seen[key] {
						continue
					}
					minLon, minLat, maxLon, maxLat := g.CellBounds(i, j)
					cell := orb.Bound{
						Min: orb.Point{minLon + shift, minLat},
						Max: orb.Point{maxLon + shift, maxLat},
					}
					if !touches(part, cell) {
						continue
					}
					seen[key] = true
					out = append(out, Cell{I: i, J: j, Lon: g.Lons[j], Lat: g.Lats[i], Value: g.At(i, j)})
				}
			}
		}
	}
	return out
}

// touches reports whether a polygon and a cell rectangle share any point.
// A cell whose centre lies outside the polygon touches it only when some
// ring boundary, holes included, passes through the cell.
func touches(p orb.Polygon, cell orb.Bound) bool {
	if !p.Bound().Intersects(cell) {
		return false
	}
	if planar.PolygonContains(p, cell.Center()) {
		return true
	}
	for _, r := range p {
		if !r.Bound().Intersects(cell) {
			continue
		}
		for _, ls := range clip.LineString(cell, orb.LineString(r)) {
			if len(ls) > 0 {
				return true
			}
		}
	}
	return false
}
