package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecord = `{"id":3,"trackid":17,"time":"2004-01-01 06:00:00",` +
	`"contour_x":[170,190,190,170,170],"contour_y":[10,10,20,20,10],` +
	`"axis_x":[172,188],"axis_y":[12,18],"axis_rdp_x":[172,188],"axis_rdp_y":[12,18],` +
	`"centroid_x":180.0,"centroid_y":15.0,"area":1234.5,"length":2000,"is_relaxed":false}`

func TestParseARRecord(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		inst, err := ParseARRecord([]byte(testRecord))

		require.NoError(t, err)
		assert.Equal(t, int64(17), inst.TrackID)
		assert.Equal(t, time.Date(2004, 1, 1, 6, 0, 0, 0, time.UTC), inst.Time)
		assert.Equal(t, []float64{170, 190, 190, 170, 170}, inst.ContourX)
		assert.Equal(t, []float64{10, 10, 20, 20, 10}, inst.ContourY)
		assert.Equal(t, []float64{172, 188}, inst.AxisX)
		assert.Equal(t, []float64{12, 18}, inst.AxisRDPY)
		assert.Equal(t, 180.0, inst.CentroidX)
		assert.Equal(t, 15.0, inst.CentroidY)
	})

	t.Run("opaque attributes exclude consumed columns", func(t *testing.T) {
		inst, err := ParseARRecord([]byte(testRecord))

		require.NoError(t, err)
		assert.Len(t, inst.Attrs, 4)
		assert.JSONEq(t, `1234.5`, string(inst.Attrs["area"]))
		assert.JSONEq(t, `false`, string(inst.Attrs["is_relaxed"]))
		for _, col := range append(GeometryColumns, "trackid", "time", "centroid_x", "centroid_y") {
			assert.NotContains(t, inst.Attrs, col)
		}
	})

	t.Run("float track id", func(t *testing.T) {
		inst, err := ParseARRecord([]byte(`{"trackid":12.0,"time":"2004-01-01"}`))

		require.NoError(t, err)
		assert.Equal(t, int64(12), inst.TrackID)
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		inst, err := ParseARRecord([]byte(`{"trackid":1,"time":1072936800000}`))

		require.NoError(t, err)
		assert.Equal(t, time.Date(2004, 1, 1, 6, 0, 0, 0, time.UTC), inst.Time)
	})

	t.Run("RFC 3339 with offset", func(t *testing.T) {
		inst, err := ParseARRecord([]byte(`{"trackid":1,"time":"2004-01-01T08:00:00+02:00"}`))

		require.NoError(t, err)
		assert.Equal(t, time.Date(2004, 1, 1, 6, 0, 0, 0, time.UTC), inst.Time)
	})

	t.Run("string centroid", func(t *testing.T) {
		inst, err := ParseARRecord([]byte(`{"trackid":1,"time":"2004-01-01","centroid_x":" 12.5 "}`))

		require.NoError(t, err)
		assert.Equal(t, 12.5, inst.CentroidX)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseARRecord([]byte("{invalid json"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse ar record")
	})

	t.Run("missing track id", func(t *testing.T) {
		_, err := ParseARRecord([]byte(`{"time":"2004-01-01"}`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "trackid")
	})

	t.Run("unrecognized time", func(t *testing.T) {
		_, err := ParseARRecord([]byte(`{"trackid":1,"time":"yesterday"}`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), `"yesterday"`)
	})

	t.Run("geometry column of wrong type", func(t *testing.T) {
		_, err := ParseARRecord([]byte(`{"trackid":1,"time":"2004-01-01","contour_x":"abc"}`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "contour_x")
	})
}

func TestARInstanceValidate(t *testing.T) {
	tests := []struct {
		name    string
		inst    ARInstance
		wantErr bool
	}{
		{
			name: "valid triangle",
			inst: ARInstance{ContourX: []float64{0, 1, 0}, ContourY: []float64{0, 0, 1}},
		},
		{
			name:    "length mismatch",
			inst:    ARInstance{ContourX: []float64{0, 1, 0}, ContourY: []float64{0, 0}},
			wantErr: true,
		},
		{
			name:    "axis length mismatch",
			inst:    ARInstance{ContourX: []float64{0, 1, 0}, ContourY: []float64{0, 0, 1}, AxisX: []float64{1}},
			wantErr: true,
		},
		{
			name:    "two distinct points",
			inst:    ARInstance{ContourX: []float64{0, 1, 0, 1}, ContourY: []float64{0, 0, 0, 0}},
			wantErr: true,
		},
		{
			name:    "empty contour",
			inst:    ARInstance{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inst.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUpstreamContract))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestARInstanceGeometry(t *testing.T) {
	inst := ARInstance{
		ContourX: []float64{1, 2, 3},
		ContourY: []float64{4, 5, 6},
		AxisX:    []float64{7, 8},
		AxisY:    []float64{9, 10},
	}

	assert.Equal(t, []orb.Point{{1, 4}, {2, 5}, {3, 6}}, inst.Contour())
	assert.Equal(t, orb.LineString{{7, 9}, {8, 10}}, inst.Axis())
}

func TestAttributedRowKey(t *testing.T) {
	row := AttributedRow{TrackID: 42, Time: time.Date(2004, 1, 1, 6, 0, 0, 0, time.UTC)}
	assert.Equal(t, "42|2004-01-01T06:00:00Z", row.Key())
}

func TestErrorCountersMerge(t *testing.T) {
	c := ErrorCounters{Topology: 1, TopologyRows: []int{3}}
	c.Merge(ErrorCounters{Topology: 1, NoData: 2, Geodesy: 1, TopologyRows: []int{7}, NoDataRows: []int{1, 1}})

	assert.Equal(t, int64(2), c.Topology)
	assert.Equal(t, int64(2), c.NoData)
	assert.Equal(t, int64(1), c.Geodesy)
	assert.Equal(t, []int{3, 7}, c.TopologyRows)
	assert.Equal(t, []int{1, 1}, c.NoDataRows)
}

func TestErrTimestampNotFoundIsUpstreamContract(t *testing.T) {
	assert.True(t, errors.Is(ErrTimestampNotFound, ErrUpstreamContract))
	assert.False(t, errors.Is(ErrTopology, ErrUpstreamContract))
}

func TestClock(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(fixed)
	SetClock(fc)
	t.Cleanup(func() { SetClock(nil) })

	assert.Equal(t, fixed, Now())
	fc.Advance(5 * time.Second)
	assert.Equal(t, 5*time.Second, Since(fixed))
}

func TestNewScopeResult(t *testing.T) {
	res := NewScopeResult(2004, []string{"Asia"}, 3)

	assert.Equal(t, 2004, res.Scope)
	assert.Len(t, res.Rows, 3)
	assert.Len(t, res.Axes, 3)
}
