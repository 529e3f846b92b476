package continent

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/twpayne/go-geos"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geodesy"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
)

// Overlap is the intersection of one AR footprint with one continent.
type Overlap struct {
	Continent  string
	Shape      geometry.Shape
	Area       float64 // km^2
	Proportion float64 // percent of the AR area, in [0, 100]
}

// Result holds the overlaps of one AR footprint with every continent of the
// set, in set order.
type Result struct {
	Overlaps []Overlap
	Land     float64
	Ocean    float64

	// GeodesyErrors counts overlaps whose area could not be measured. They
	// contribute zero percent.
	GeodesyErrors int
}

// ByName indexes the overlaps by continent name.
func (r Result) ByName() map[string]Overlap {
	m := make(map[string]Overlap, len(r.Overlaps))
	for _, o := range r.Overlaps {
		m[o.Continent] = o
	}
	return m
}

// Intersector computes continent overlaps with GEOS. It owns a GEOS context
// and is not safe for concurrent use; create one per worker.
type Intersector struct {
	set   *Set
	el    geodesy.Ellipsoid
	ctx   *geos.Context
	geoms []*geos.Geom
}

// NewIntersector prepares GEOS geometries for every continent of set.
// Invalid continent polygons are repaired with a zero-width buffer.
func NewIntersector(set *Set, el geodesy.Ellipsoid) (in *Intersector, err error) {
	in = &Intersector{
		set:   set,
		el:    el,
		ctx:   geos.NewContext(),
		geoms: make([]*geos.Geom, set.Len()),
	}
	defer func() {
		if r := recover(); r != nil {
			in, err = nil, fmt.Errorf("prepare continents: %v", r)
		}
	}()
	for i, c := range set.Continents() {
		g, err := in.ctx.NewGeomFromWKT(wkt.MarshalString(c.Geometry))
		if err != nil {
			return nil, fmt.Errorf("prepare continent %s: %w", c.Name, err)
		}
		if !g.IsValid() {
			g = g.Buffer(0, 8)
		}
		in.geoms[i] = g
	}
	return in, nil
}

// Intersect intersects an AR footprint of area arArea km² with every
// continent. Proportions are clamped to [0, 100], land is their sum capped
// at 100 and ocean is the remainder.
//
// An invalid footprint or a GEOS failure returns an error wrapping
// domain.ErrTopology and an empty Result.
func (in *Intersector) Intersect(ar geometry.Shape, arArea float64) (res Result, err error) {
	if ar.IsEmpty() {
		return Result{}, fmt.Errorf("%w: empty footprint", domain.ErrTopology)
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: %v", domain.ErrTopology, r)
		}
	}()

	arGeom, err := in.ctx.NewGeomFromWKT(wkt.MarshalString(ar.Geometry()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrTopology, err)
	}
	defer arGeom.Destroy()
	if !arGeom.IsValid() {
		return Result{}, fmt.Errorf("%w: invalid footprint", domain.ErrTopology)
	}

	arBound := ar.Bound()
	res.Overlaps = make([]Overlap, 0, in.set.Len())
	var sum float64
	for i, c := range in.set.Continents() {
		ov := Overlap{Continent: c.Name}
		if c.Bound.Intersects(arBound) {
			shape, err := in.intersect(arGeom, in.geoms[i])
			if err != nil {
				return Result{}, err
			}
			ov.Shape = shape
			if !shape.IsEmpty() {
				a, err := in.el.Area(shape)
				if errors.Is(err, domain.ErrGeodesy) {
					res.GeodesyErrors++
					a = 0
				}
				ov.Area = a
				ov.Proportion = proportion(a, arArea)
			}
		}
		sum += ov.Proportion
		res.Overlaps = append(res.Overlaps, ov)
	}
	res.Land = math.Min(sum, 100)
	res.Ocean = 100 - res.Land
	return res, nil
}

func (in *Intersector) intersect(a, b *geos.Geom) (geometry.Shape, error) {
	g := a.Intersection(b)
	defer g.Destroy()
	if g.IsEmpty() {
		return geometry.Shape{}, nil
	}
	parsed, err := wkt.Unmarshal(g.ToWKT())
	if err != nil {
		return geometry.Shape{}, fmt.Errorf("%w: read intersection: %w", domain.ErrTopology, err)
	}
	return geometry.Multi(polygons(parsed)...), nil
}

// polygons extracts the polygonal parts of a GEOS result. Lines and points
// from touching boundaries carry no area and are dropped.
func polygons(g orb.Geometry) []orb.Polygon {
	switch g := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Collection:
		var out []orb.Polygon
		for _, sub := range g {
			out = append(out, polygons(sub)...)
		}
		return out
	default:
		return nil
	}
}

func proportion(area, arArea float64) float64 {
	if arArea <= 0 || math.IsNaN(area) {
		return 0
	}
	return math.Max(0, math.Min(100, 100*area/arArea))
}
