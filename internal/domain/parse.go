package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column names of the upstream track table that the parser consumes into
// typed fields.
const (
	colTrackID   = "trackid"
	colTime      = "time"
	colCentroidX = "centroid_x"
	colCentroidY = "centroid_y"
)

// GeometryColumns are the transient point-sequence columns. They are consumed
// into ARInstance fields and never written to the attributed table.
var GeometryColumns = []string{
	"contour_x", "contour_y",
	"axis_x", "axis_y",
	"axis_rdp_x", "axis_rdp_y",
}

// timeLayouts are accepted for the "time" column, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseARRecord decodes one JSON object of the upstream track table.
func ParseARRecord(data []byte) (ARInstance, error) {
	var cols map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&cols); err != nil {
		return ARInstance{}, fmt.Errorf("parse ar record: %w", err)
	}

	var inst ARInstance
	var err error

	if inst.TrackID, err = parseTrackID(cols[colTrackID]); err != nil {
		return ARInstance{}, fmt.Errorf("parse ar record: %w", err)
	}
	if inst.Time, err = parseTime(cols[colTime]); err != nil {
		return ARInstance{}, fmt.Errorf("parse ar record: %w", err)
	}

	seqs := []*[]float64{
		&inst.ContourX, &inst.ContourY,
		&inst.AxisX, &inst.AxisY,
		&inst.AxisRDPX, &inst.AxisRDPY,
	}
	for i, name := range GeometryColumns {
		raw, ok := cols[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, seqs[i]); err != nil {
			return ARInstance{}, fmt.Errorf("parse ar record: column %s: %w", name, err)
		}
		delete(cols, name)
	}

	if inst.CentroidX, err = parseFloatColumn(cols[colCentroidX]); err != nil {
		return ARInstance{}, fmt.Errorf("parse ar record: column %s: %w", colCentroidX, err)
	}
	if inst.CentroidY, err = parseFloatColumn(cols[colCentroidY]); err != nil {
		return ARInstance{}, fmt.Errorf("parse ar record: column %s: %w", colCentroidY, err)
	}

	for _, name := range []string{colTrackID, colTime, colCentroidX, colCentroidY} {
		delete(cols, name)
	}
	inst.Attrs = cols

	return inst, nil
}

// Validate checks the upstream contract for the footprint and axis.
func (a ARInstance) Validate() error {
	if len(a.ContourX) != len(a.ContourY) {
		return fmt.Errorf("%w: contour has %d longitudes and %d latitudes",
			ErrUpstreamContract, len(a.ContourX), len(a.ContourY))
	}
	if len(a.AxisX) != len(a.AxisY) {
		return fmt.Errorf("%w: axis has %d longitudes and %d latitudes",
			ErrUpstreamContract, len(a.AxisX), len(a.AxisY))
	}
	if n := distinctPoints(a.ContourX, a.ContourY); n < 3 {
		return fmt.Errorf("%w: contour has %d distinct points, need at least 3", ErrUpstreamContract, n)
	}
	return nil
}

func distinctPoints(xs, ys []float64) int {
	seen := make(map[[2]float64]struct{}, len(xs))
	for i := range xs {
		seen[[2]float64{xs[i], ys[i]}] = struct{}{}
	}
	return len(seen)
}

func parseTrackID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing column %s", colTrackID)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("column %s: %w", colTrackID, err)
	}
	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	// pandas writes integer columns with NaNs as floats, e.g. 12.0
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", colTrackID, err)
	}
	return int64(f), nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("missing column %s", colTime)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// pandas to_json writes datetimes as epoch milliseconds
		var ms int64
		if errMS := json.Unmarshal(raw, &ms); errMS != nil {
			return time.Time{}, fmt.Errorf("column %s: %w", colTime, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("column %s: unrecognized time %q", colTime, s)
}

// parseFloatColumn accepts a JSON number or a numeric string; absent
// columns read as zero.
func parseFloatColumn(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value %s", raw)
	}
}

func instanceKey(trackID int64, t time.Time) string {
	return strconv.FormatInt(trackID, 10) + "|" + t.UTC().Format(time.RFC3339)
}
