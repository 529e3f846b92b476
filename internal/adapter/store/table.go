package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// Column names of the attributed table.
const (
	ColTrackID     = "trackid"
	ColTime        = "time"
	ColCentroidX   = "centroid_x"
	ColCentroidY   = "centroid_y"
	ColAxisLength  = "axis_length"
	ColARArea      = "ar_area"
	ColOcean       = "ocean"
	ColLand        = "land"
	ColLFContinent = "lf_continent"
	ColLFLon       = "lf_lon"
	ColLFLat       = "lf_lat"
	ColLFIVT       = "lf_ivt"
)

var (
	leadColumns        = []string{ColTrackID, ColTime, ColCentroidX, ColCentroidY}
	attributionColumns = []string{
		ColAxisLength, ColARArea, ColOcean, ColLand,
		ColLFContinent, ColLFLon, ColLFLat, ColLFIVT,
	}
)

// Header returns the table columns of a scope: identity and centroid, the
// upstream columns in name order, the attribution columns and one
// percentage column per continent. Upstream columns named like a computed
// column are shadowed by it.
func Header(res *domain.ScopeResult) []string {
	seen := make(map[string]bool)
	for _, col := range slices.Concat(leadColumns, attributionColumns, res.Continents) {
		seen[col] = true
	}
	var attrs []string
	for _, r := range res.Rows {
		for k := range r.Attrs {
			if !seen[k] {
				seen[k] = true
				attrs = append(attrs, k)
			}
		}
	}
	slices.Sort(attrs)

	h := slices.Clone(leadColumns)
	h = append(h, attrs...)
	h = append(h, attributionColumns...)
	return append(h, res.Continents...)
}

// WriteTable writes the scope as CSV. Missing values are empty cells.
func WriteTable(w io.Writer, res *domain.ScopeResult) error {
	header := Header(res)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range res.Rows {
		if err := cw.Write(Record(header, &res.Rows[i])); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Record renders a row in header order.
func Record(header []string, r *domain.AttributedRow) []string {
	rec := make([]string, len(header))
	for i, col := range header {
		rec[i] = cell(col, r)
	}
	return rec
}

func cell(col string, r *domain.AttributedRow) string {
	switch col {
	case ColTrackID:
		return strconv.FormatInt(r.TrackID, 10)
	case ColTime:
		return r.Time.UTC().Format(timeLayout)
	case ColCentroidX:
		return formatFloat(r.CentroidLon)
	case ColCentroidY:
		return formatFloat(r.CentroidLat)
	case ColAxisLength:
		return formatFloat(r.AxisLength)
	case ColARArea:
		return formatFloat(r.ARArea)
	case ColOcean:
		return formatFloat(r.Ocean)
	case ColLand:
		return formatFloat(r.Land)
	case ColLFContinent:
		return r.Landfall.Continent
	case ColLFLon:
		return formatFloat(r.Landfall.Lon)
	case ColLFLat:
		return formatFloat(r.Landfall.Lat)
	case ColLFIVT:
		return formatFloat(r.Landfall.Intensity)
	}
	if v, ok := r.Proportions[col]; ok {
		return formatFloat(v)
	}
	return attrCell(r.Attrs[col])
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// attrCell renders an upstream value: strings unquoted, null empty, and
// anything else as its JSON text.
func attrCell(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
