package grid

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

var (
	t0 = time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(6 * time.Hour)
)

// testGrid builds a 3×4 grid over lats {-1, 0, 1} and lons {-180, -90, 0, 90}
// where value = 10*i + j, with one missing cell.
func testGrid(t *testing.T, at time.Time, bump float64) *Grid {
	t.Helper()
	lats := []float64{-1, 0, 1}
	lons := []float64{-180, -90, 0, 90}
	values := make([]float64, len(lats)*len(lons))
	for i := range lats {
		for j := range lons {
			values[i*len(lons)+j] = 10*float64(i) + float64(j) + bump
		}
	}
	values[len(values)-1] = math.NaN()
	g, err := New(at, lats, lons, values)
	require.NoError(t, err)
	return g
}

func TestNew(t *testing.T) {
	_, err := New(t0, []float64{0, 1}, []float64{0}, []float64{1})
	assert.ErrorContains(t, err, "values")

	_, err = New(t0, []float64{1, 0}, []float64{0}, []float64{1, 2})
	assert.ErrorContains(t, err, "latitudes")

	_, err = New(t0, []float64{0}, []float64{0, 0}, []float64{1, 2})
	assert.ErrorContains(t, err, "longitudes")

	_, err = New(t0, nil, []float64{0}, nil)
	assert.Error(t, err)
}

func TestCellBounds(t *testing.T) {
	g := testGrid(t, t0, 0)

	minLon, minLat, maxLon, maxLat := g.CellBounds(0, 0)
	assert.Equal(t, []float64{-225, -1.5, -135, -0.5}, []float64{minLon, minLat, maxLon, maxLat})

	minLon, minLat, maxLon, maxLat = g.CellBounds(1, 2)
	assert.Equal(t, []float64{-45, -0.5, 45, 0.5}, []float64{minLon, minLat, maxLon, maxLat})

	lo, hi := g.LonExtent()
	assert.Equal(t, -225.0, lo)
	assert.Equal(t, 135.0, hi)
}

func TestRanges(t *testing.T) {
	g := testGrid(t, t0, 0)

	tests := []struct {
		name       string
		lo, hi     float64
		start, end int
	}{
		{"inside one cell", -0.2, 0.2, 1, 2},
		{"spanning cells", -0.7, 0.7, 0, 3},
		{"on an edge", 0.5, 0.5, 1, 3},
		{"below the axis", -5, -3, 0, 0},
		{"above the axis", 3, 5, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := g.LatRange(tt.lo, tt.hi)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	start, end := g.LonRange(100, 170)
	assert.Equal(t, 3, start)
	assert.Equal(t, 4, end)
}

func writeTestFile(t *testing.T, dir string, opts WriteOptions, grids ...*Grid) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, "2004.nc"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, WriteNetCDF(f, grids, opts))
}

func TestNetCDFRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts WriteOptions
		tol  float64
	}{
		{"plain float", WriteOptions{}, 1e-5},
		{"0-360 longitudes and descending latitudes", WriteOptions{Lon360: true, LatDescending: true}, 1e-5},
		{"packed int16", WriteOptions{Scale: 0.01, Offset: 5}, 0.005},
		{"custom variable", WriteOptions{Variable: "IVT"}, 1e-5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			want0, want1 := testGrid(t, t0, 0), testGrid(t, t1, 0.25)
			writeTestFile(t, dir, tt.opts, want0, want1)

			src := NewNetCDFSource(dir, tt.opts.Variable)
			t.Cleanup(func() { _ = src.Close() })

			for _, want := range []*Grid{want0, want1} {
				got, err := src.Load(context.Background(), want.Time)
				require.NoError(t, err)

				assert.True(t, want.Time.Equal(got.Time))
				assert.Equal(t, want.Lats, got.Lats)
				assert.Equal(t, want.Lons, got.Lons)
				if diff := cmp.Diff(want.Values, got.Values, cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, tt.tol)); diff != "" {
					t.Errorf("values mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestNetCDFSourceErrors(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, WriteOptions{}, testGrid(t, t0, 0))
	src := NewNetCDFSource(dir, "")
	t.Cleanup(func() { _ = src.Close() })

	t.Run("timestamp not in file", func(t *testing.T) {
		_, err := src.Load(context.Background(), t0.Add(time.Hour))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrTimestampNotFound))
		assert.True(t, errors.Is(err, domain.ErrUpstreamContract))
	})

	t.Run("year file missing", func(t *testing.T) {
		_, err := src.Load(context.Background(), time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrUpstreamContract))
	})

	t.Run("variable missing", func(t *testing.T) {
		other := NewNetCDFSource(dir, "tcwv")
		_, err := other.Load(context.Background(), t0)
		assert.True(t, errors.Is(err, domain.ErrUpstreamContract))
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.Load(ctx, t0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDecodeTimes(t *testing.T) {
	got, err := decodeTimes([]float64{0, 36}, "hours since 2004-01-01 00:00:00.0")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{t0, t0.Add(36 * time.Hour)}, got)

	got, err = decodeTimes([]float64{1.5}, "days since 2004-01-01")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(36*time.Hour), got[0])

	_, err = decodeTimes([]float64{1}, "hours")
	assert.Error(t, err)

	_, err = decodeTimes([]float64{1}, "fortnights since 2004-01-01")
	assert.Error(t, err)
}

type countingLoader struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (l *countingLoader) Load(_ context.Context, t time.Time) (*Grid, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	if l.err != nil {
		return nil, l.err
	}
	return &Grid{Time: t}, nil
}

func TestCacheLoadsOnce(t *testing.T) {
	inner := &countingLoader{delay: 20 * time.Millisecond}
	c := NewCache(inner, 0)
	var hits, misses atomic.Int64
	c.OnLookup = func(hit bool) {
		if hit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.Load(context.Background(), t0)
			assert.NoError(t, err)
			assert.Equal(t, t0, g.Time)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load(), "concurrent lookups share one load")
	assert.Equal(t, int64(8), hits.Load()+misses.Load())

	_, err := c.Load(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, 1, c.Len())

	c.Reset()
	assert.Zero(t, c.Len())
	_, err = c.Load(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load(), "reset forces a reload")
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	inner := &countingLoader{err: domain.ErrTimestampNotFound}
	c := NewCache(inner, 0)

	_, err := c.Load(context.Background(), t0)
	assert.ErrorIs(t, err, domain.ErrTimestampNotFound)
	_, err = c.Load(context.Background(), t0)
	assert.Error(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCacheBounded(t *testing.T) {
	inner := &countingLoader{}
	c := NewCache(inner, 1)
	var loads int
	c.OnLoad = func() { loads++ }

	for _, at := range []time.Time{t0, t1, t0} {
		_, err := c.Load(context.Background(), at)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.calls.Load())
	assert.Equal(t, 3, loads)
	assert.Equal(t, 1, c.Len())
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	a, b, d := &Grid{}, &Grid{}, &Grid{}

	c.put(1, a)
	c.put(2, b)
	c.get(1)    // promote 1
	c.put(3, d) // evicts 2

	_, ok := c.get(2)
	assert.False(t, ok, "2 should have been evicted")
	got, ok := c.get(1)
	assert.True(t, ok)
	assert.Same(t, a, got)
	_, ok = c.get(3)
	assert.True(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)
	first, second := &Grid{}, &Grid{}

	c.put(1, first)
	c.put(1, second)

	got, ok := c.get(1)
	assert.True(t, ok)
	assert.Same(t, second, got)
}
