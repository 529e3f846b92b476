package geometry

import "github.com/paulmach/orb"

// Kind tags the variant held by a Shape.
type Kind int

const (
	Empty Kind = iota
	SinglePart
	MultiPart
)

func (k Kind) String() string {
	switch k {
	case SinglePart:
		return "single"
	case MultiPart:
		return "multi"
	default:
		return "empty"
	}
}

// Shape is a polygonal geometry that is either a single polygon or an
// ordered list of polygons. The zero value is empty.
type Shape struct {
	parts []orb.Polygon
}

// Single wraps one polygon.
func Single(p orb.Polygon) Shape {
	if len(p) == 0 {
		return Shape{}
	}
	return Shape{parts: []orb.Polygon{p}}
}

// Multi builds a shape from parts, dropping empty ones. One remaining part
// collapses to a single-part shape.
func Multi(parts ...orb.Polygon) Shape {
	var kept []orb.Polygon
	for _, p := range parts {
		if len(p) > 0 && len(p[0]) > 0 {
			kept = append(kept, p)
		}
	}
	return Shape{parts: kept}
}

// Kind reports the variant.
func (s Shape) Kind() Kind {
	switch len(s.parts) {
	case 0:
		return Empty
	case 1:
		return SinglePart
	default:
		return MultiPart
	}
}

func (s Shape) IsEmpty() bool { return len(s.parts) == 0 }

// Parts returns the polygons in order. A single-part shape has one.
func (s Shape) Parts() []orb.Polygon { return s.parts }

func (s Shape) Bound() orb.Bound {
	if s.IsEmpty() {
		return orb.Bound{}
	}
	return s.MultiPolygon().Bound()
}

// MultiPolygon returns the parts as an orb.MultiPolygon.
func (s Shape) MultiPolygon() orb.MultiPolygon {
	return orb.MultiPolygon(s.parts)
}

// Geometry returns an orb.Polygon for single-part shapes and an
// orb.MultiPolygon otherwise.
func (s Shape) Geometry() orb.Geometry {
	if s.Kind() == SinglePart {
		return s.parts[0]
	}
	return s.MultiPolygon()
}
