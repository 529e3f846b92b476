// Package geodesy computes geodesic areas and lengths of lon/lat geometries
// on a reference ellipsoid.
//
// Edges are geodesics on the ellipsoid, solved with GeographicLib's
// algorithms (tidwall/geodesic). Areas are those of the ellipsoidal
// polygons bounded by those geodesics.
package geodesy

import (
	"fmt"
	"strings"

	"github.com/tidwall/geodesic"
)

// Ellipsoid is an oblate reference ellipsoid. Values are immutable after
// construction and safe for concurrent use.
type Ellipsoid struct {
	Name string
	A    float64 // semi-major axis, m
	F    float64 // flattening

	g *geodesic.Ellipsoid
}

// NewEllipsoid returns the ellipsoid with semi-major axis a and
// flattening f.
func NewEllipsoid(name string, a, f float64) Ellipsoid {
	return Ellipsoid{Name: name, A: a, F: f, g: geodesic.NewEllipsoid(a, f)}
}

var (
	WGS84  = NewEllipsoid("WGS84", 6378137, 1/298.257223563)
	GRS80  = NewEllipsoid("GRS80", 6378137, 1/298.257222101)
	Sphere = NewEllipsoid("sphere", 6371008.8, 0)
)

// Lookup returns a named ellipsoid, case-insensitively.
func Lookup(name string) (Ellipsoid, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "wgs84", "wgs-84":
		return WGS84, nil
	case "grs80", "grs-80":
		return GRS80, nil
	case "sphere":
		return Sphere, nil
	default:
		return Ellipsoid{}, fmt.Errorf("unknown ellipsoid %q", name)
	}
}
