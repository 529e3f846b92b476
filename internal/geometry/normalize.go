// Package geometry rebuilds AR footprints as planar lon/lat polygons in
// [-180, 180], splitting them at the antimeridian.
package geometry

import "math"

// NormalizeLon maps a longitude in degrees to [-180, 180).
func NormalizeLon(lon float64) float64 {
	return math.Mod(math.Mod(lon, 360)+540, 360) - 180
}

// NormalizeLons returns a normalized copy of lons.
func NormalizeLons(lons []float64) []float64 {
	out := make([]float64, len(lons))
	for i, lon := range lons {
		out[i] = NormalizeLon(lon)
	}
	return out
}
