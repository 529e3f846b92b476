package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/observability"
)

type fakeWriter struct {
	failures int
	calls    int
	batches  [][]kafkago.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("leader not available")
	}
	f.batches = append(f.batches, append([]kafkago.Message(nil), msgs...))
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func newTestWriter(fw *fakeWriter) (*Writer, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return &Writer{writer: fw, topic: "ar-landfall", logger: slog.Default(), metrics: m, backoff: time.Millisecond}, m
}

func scopeOf(n int) *domain.ScopeResult {
	res := domain.NewScopeResult(2004, continents, n)
	for i := range res.Rows {
		res.Rows[i] = domain.AttributedRow{
			TrackID: int64(i),
			Time:    time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return res
}

var continents = []string{"Europe", "Asia"}

func TestSerializeToMessage(t *testing.T) {
	at := time.Date(2004, 1, 1, 6, 0, 0, 0, time.UTC)
	row := domain.AttributedRow{
		TrackID:     42,
		Time:        at,
		Attrs:       map[string]json.RawMessage{"label": json.RawMessage(`"west"`)},
		CentroidLon: -8.5,
		CentroidLat: 40,
		AxisLength:  1447.25,
		ARArea:      250000,
		Ocean:       25,
		Land:        75,
		Landfall:    domain.Landfall{Continent: "Europe", Lon: -5, Lat: 42.5, Intensity: 612.5, Found: true},
		Proportions: map[string]float64{"Europe": 75, "Asia": 0},
	}

	msg, err := serializeToMessage(2004, 3, &row, continents)
	require.NoError(t, err)

	assert.Equal(t, []byte("42|2004-01-01T06:00:00Z"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "scope", msg.Headers[0].Key)
	assert.Equal(t, []byte("2004"), msg.Headers[0].Value)
	assert.Equal(t, "lf_continent", msg.Headers[1].Key)
	assert.Equal(t, []byte("Europe"), msg.Headers[1].Value)

	assert.JSONEq(t, `{
		"scope": 2004,
		"row": 3,
		"trackid": 42,
		"time": "2004-01-01T06:00:00Z",
		"centroid_x": -8.5,
		"centroid_y": 40,
		"axis_length": 1447.25,
		"ar_area": 250000,
		"ocean": 25,
		"land": 75,
		"lf_continent": "Europe",
		"lf_lon": -5,
		"lf_lat": 42.5,
		"lf_ivt": 612.5,
		"continents": {"Europe": 75, "Asia": 0},
		"attrs": {"label": "west"}
	}`, string(msg.Value))
}

func TestSerializeToMessage_MissingValuesAreNull(t *testing.T) {
	nan := math.NaN()
	row := domain.AttributedRow{
		TrackID:     7,
		Time:        time.Date(2004, 3, 1, 0, 0, 0, 0, time.UTC),
		AxisLength:  300,
		ARArea:      9000,
		Ocean:       nan,
		Land:        nan,
		Landfall:    domain.Landfall{Lon: nan, Lat: nan, Intensity: nan},
		Proportions: map[string]float64{"Europe": nan, "Asia": nan},
	}

	msg, err := serializeToMessage(2004, 0, &row, continents)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	for _, k := range []string{"ocean", "land", "lf_continent", "lf_lon", "lf_lat", "lf_ivt"} {
		v, ok := got[k]
		assert.True(t, ok, k)
		assert.Nil(t, v, k)
	}
	assert.Equal(t, map[string]any{"Europe": nil, "Asia": nil}, got["continents"])
	assert.NotContains(t, got, "attrs")
	assert.Equal(t, []byte(""), msg.Headers[1].Value)
}

func TestLoadScope_Batches(t *testing.T) {
	fw := &fakeWriter{}
	w, m := newTestWriter(fw)

	require.NoError(t, w.LoadScope(context.Background(), scopeOf(batchSize+3)))

	require.Len(t, fw.batches, 2)
	assert.Len(t, fw.batches[0], batchSize)
	assert.Len(t, fw.batches[1], 3)
	assert.Equal(t, []byte("0|2004-01-01T00:00:00Z"), fw.batches[0][0].Key)
	assert.InDelta(t, batchSize+3, testutil.ToFloat64(m.RowsPublished), 0)
}

func TestLoadScope_RetriesTransientFailure(t *testing.T) {
	fw := &fakeWriter{failures: 2}
	w, m := newTestWriter(fw)

	require.NoError(t, w.LoadScope(context.Background(), scopeOf(2)))
	assert.Equal(t, 3, fw.calls)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RowsPublished), 0)
}

func TestLoadScope_GivesUp(t *testing.T) {
	fw := &fakeWriter{failures: maxAttempts}
	w, m := newTestWriter(fw)

	err := w.LoadScope(context.Background(), scopeOf(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish scope 2004")
	assert.Equal(t, maxAttempts, fw.calls)
	assert.Zero(t, testutil.ToFloat64(m.RowsPublished))
}

func TestLoadScope_EmptyScope(t *testing.T) {
	fw := &fakeWriter{}
	w, _ := newTestWriter(fw)

	require.NoError(t, w.LoadScope(context.Background(), scopeOf(0)))
	assert.Zero(t, fw.calls)
}
