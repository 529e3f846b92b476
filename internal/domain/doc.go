// Package domain models atmospheric-river (AR) track records and their
// landfall attribution.
//
// # Data Source
//
// AR instances come from the IPART detection and tracking stages. The
// tracker writes one row per (track id, timestamp) with the footprint
// contour, the AR axis, the RDP-simplified axis and the centroid, plus
// shape statistics (area, length, width, strength, ...). The attribution
// pipeline reads these rows as JSON lines and never modifies them.
//
// # Coordinate Conventions
//
// Points are (longitude, latitude) in degrees on WGS-84, matching the
// [github.com/paulmach/orb] ordering.
//
//	contour_x / contour_y      closed footprint contour
//	axis_x / axis_y            AR axis polyline
//	axis_rdp_x / axis_rdp_y    simplified axis polyline
//	centroid_x / centroid_y    centroid
//
// Longitudes arrive in [0, 360) or unnormalized and are mapped to
// [-180, 180) with ((lon % 360) + 540) % 360 - 180 before any geometric use.
// Footprints that cross the 180° meridian are split into parts on either
// side of the seam.
//
// Time format:
//
//	"2004-01-01 06:00:00" (pandas default), RFC 3339, or epoch milliseconds.
//	All times are treated as UTC.
//
// # Attribution Columns
//
//	axis_length    geodesic length of the axis, km
//	ar_area        geodesic area of the footprint, km²
//	land, ocean    percent of ar_area over any continent / over none
//	<continent>    percent of ar_area over that continent
//	lf_continent   continent chosen by landfall priority
//	lf_lon/lf_lat  location of the maximum IVT cell inside that continent
//	lf_ivt         IVT at that cell, kg m⁻¹ s⁻¹
//
// Missing values are NaN in memory and empty cells on disk. A row is always
// produced per input instance; recoverable failures are visible only through
// [ErrorCounters].
//
// # Landfall Priority
//
// When an AR overlaps several continents the reported landfall is not the
// largest overlap. Continents are visited in ascending configured priority
// and every one with a non-zero overlap overwrites the candidate, so the
// highest-priority overlapping continent wins.
package domain
