package domain

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
)

// ARInstance is one atmospheric-river detection of a track at a single
// timestamp, as produced by the upstream tracker. It is read-only to the
// attribution pipeline.
type ARInstance struct {
	TrackID int64
	Time    time.Time

	// Longitudes may be in [0, 360) or unnormalized.
	ContourX []float64
	ContourY []float64
	AxisX    []float64
	AxisY    []float64
	AxisRDPX []float64
	AxisRDPY []float64

	CentroidX float64
	CentroidY float64

	// Attrs holds every other upstream column verbatim, keyed by column name.
	Attrs map[string]json.RawMessage
}

// Contour returns the footprint contour as (lon, lat) points.
func (a ARInstance) Contour() []orb.Point {
	return zipPoints(a.ContourX, a.ContourY)
}

// Axis returns the AR axis as a line string.
func (a ARInstance) Axis() orb.LineString {
	return orb.LineString(zipPoints(a.AxisX, a.AxisY))
}

func zipPoints(xs, ys []float64) []orb.Point {
	n := min(len(xs), len(ys))
	pts := make([]orb.Point, n)
	for i := 0; i < n; i++ {
		pts[i] = orb.Point{xs[i], ys[i]}
	}
	return pts
}

// Landfall is the reported landfall of one AR instance on one continent.
// Found is false when the location and intensity are missing; Continent may
// still be set when the priority resolver chose a continent whose grid
// search failed.
type Landfall struct {
	Continent string
	Lon       float64
	Lat       float64
	Intensity float64
	Found     bool
}

// AttributedRow is the output record for one AR instance. Float fields use
// NaN for missing values.
type AttributedRow struct {
	TrackID     int64
	Time        time.Time
	Attrs       map[string]json.RawMessage
	CentroidLon float64
	CentroidLat float64

	AxisLength float64 // km
	ARArea     float64 // km^2
	Ocean      float64 // percent
	Land       float64 // percent
	Landfall   Landfall

	// Proportions maps continent name to percent of the AR area over it.
	Proportions map[string]float64
}

// Key identifies the row's AR instance, e.g. for message keys.
func (r AttributedRow) Key() string {
	return instanceKey(r.TrackID, r.Time)
}

// ScopeResult is the columnar output of one processing scope (one year).
// Rows and Axes are aligned by index and ordered like the input.
type ScopeResult struct {
	Scope       int
	Continents  []string
	Rows        []AttributedRow
	Axes        []orb.LineString
	Errors      ErrorCounters
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewScopeResult preallocates buffers for n instances.
func NewScopeResult(scope int, continents []string, n int) *ScopeResult {
	return &ScopeResult{
		Scope:      scope,
		Continents: continents,
		Rows:       make([]AttributedRow, n),
		Axes:       make([]orb.LineString, n),
	}
}

// ErrorCounters accumulates recoverable per-instance failures for a scope.
// The index slices record the row index of each failure, so an instance
// with two failing continents appears twice in NoDataRows.
type ErrorCounters struct {
	Topology     int64 `json:"tperrors"`
	NoData       int64 `json:"nodataerrors"`
	Geodesy      int64 `json:"geodesyerrors"`
	TopologyRows []int `json:"tperror_rows"`
	NoDataRows   []int `json:"nodataerror_rows"`
}

// Merge adds o into c.
func (c *ErrorCounters) Merge(o ErrorCounters) {
	c.Topology += o.Topology
	c.NoData += o.NoData
	c.Geodesy += o.Geodesy
	c.TopologyRows = append(c.TopologyRows, o.TopologyRows...)
	c.NoDataRows = append(c.NoDataRows, o.NoDataRows...)
}
