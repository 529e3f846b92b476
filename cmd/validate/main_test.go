package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ar-landfall/internal/adapter/store"
	"github.com/couchcryptid/ar-landfall/internal/domain"
)

func writeRun(t *testing.T, compression string) string {
	t.Helper()
	dir := t.TempDir()
	s := store.New(dir, []string{"area", "length"}, compression, slog.Default())
	at := time.Date(2004, 2, 1, 0, 0, 0, 0, time.UTC)
	nan := math.NaN()

	res := domain.NewScopeResult(2004, []string{"Europe", "Asia"}, 3)
	res.Rows[0] = domain.AttributedRow{
		TrackID:     1,
		Time:        at,
		CentroidLon: -8,
		CentroidLat: 45,
		Attrs:       map[string]json.RawMessage{"area": json.RawMessage("10")},
		AxisLength:  900,
		ARArea:      5e5,
		Ocean:       40,
		Land:        60,
		Landfall:    domain.Landfall{Continent: "Europe", Lon: -5, Lat: 44, Intensity: 700, Found: true},
		Proportions: map[string]float64{"Europe": 60, "Asia": 0},
	}
	res.Rows[1] = domain.AttributedRow{
		TrackID:     2,
		Time:        at,
		CentroidLon: -40,
		CentroidLat: 30,
		AxisLength:  800,
		ARArea:      4e5,
		Ocean:       100,
		Land:        0,
		Landfall:    domain.Landfall{Lon: nan, Lat: nan, Intensity: nan},
		Proportions: map[string]float64{"Europe": 0, "Asia": 0},
	}
	res.Rows[2] = domain.AttributedRow{
		TrackID:     3,
		Time:        at,
		CentroidLon: 170,
		CentroidLat: 50,
		AxisLength:  300,
		ARArea:      nan,
		Ocean:       nan,
		Land:        nan,
		Landfall:    domain.Landfall{Lon: nan, Lat: nan, Intensity: nan},
		Proportions: map[string]float64{"Europe": nan, "Asia": nan},
	}
	for i := range res.Axes {
		res.Axes[i] = orb.LineString{{0, 0}, {1, 1}}
	}
	res.Errors = domain.ErrorCounters{Topology: 1, TopologyRows: []int{2}}

	require.NoError(t, s.LoadScope(context.Background(), res))
	require.NoError(t, s.Combine(context.Background(), []int{2004}))
	return dir
}

func TestRun_ValidOutput(t *testing.T) {
	for _, compression := range []string{store.CompressionNone, store.CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			dir := writeRun(t, compression)
			var buf bytes.Buffer
			assert.Equal(t, 0, run(&buf, dir, ""), buf.String())
			assert.Contains(t, buf.String(), "Rows: 3 combined over 1 years, 2 continents")
		})
	}
}

func TestRun_InstanceCountMismatch(t *testing.T) {
	dir := writeRun(t, store.CompressionNone)
	tracks := filepath.Join(dir, "tracks.jsonl")
	line := `{"trackid":1,"time":"2004-02-01 00:00:00","centroid_x":0,"centroid_y":0}`
	require.NoError(t, os.WriteFile(tracks, []byte(line+"\n"+line+"\n"), 0o600))

	var buf bytes.Buffer
	assert.Equal(t, 1, run(&buf, dir, tracks))
	assert.Contains(t, buf.String(), "year 2004: 2 input instances, 3 output rows")
}

func TestCheckRow(t *testing.T) {
	continents := []string{"Europe", "Asia"}
	tests := []struct {
		name   string
		fields map[string]string
		want   string
	}{
		{
			name:   "ocean and land do not add up",
			fields: map[string]string{"ocean": "10", "land": "60", "Europe": "60"},
			want:   "ocean 10 + land 60 != 100",
		},
		{
			name:   "land differs from continent sum",
			fields: map[string]string{"ocean": "50", "land": "50", "Europe": "20", "Asia": "10", "lf_continent": "Europe", "lf_lon": "1", "lf_lat": "1", "lf_ivt": "9"},
			want:   "land 50 != capped continent sum 30",
		},
		{
			name:   "landfall on a continent without overlap",
			fields: map[string]string{"ocean": "40", "land": "60", "Europe": "60", "Asia": "0", "lf_continent": "Asia"},
			want:   "landfall continent Asia has no overlap",
		},
		{
			name:   "partial landfall location",
			fields: map[string]string{"ocean": "40", "land": "60", "Europe": "60", "lf_continent": "Europe", "lf_lon": "3"},
			want:   "must be set together",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &phase{}
			checkRow(p, continents, csvRow{lineNum: 2, fields: tt.fields})
			require.False(t, p.passed())
			assert.True(t, strings.Contains(strings.Join(p.errors, "\n"), tt.want), p.errors)
		})
	}
}
