package continent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geodesy"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
)

const testContinents = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"CONTINENT":"Westland"},
 "geometry":{"type":"Polygon","coordinates":[[[-20,-10],[0,-10],[0,10],[-20,10],[-20,-10]]]}},
{"type":"Feature","properties":{"CONTINENT":"Eastland"},
 "geometry":{"type":"Polygon","coordinates":[[[170,-10],[180,-10],[180,10],[170,10],[170,-10]]]}},
{"type":"Feature","properties":{"CONTINENT":"Eastland"},
 "geometry":{"type":"Polygon","coordinates":[[[-180,-10],[-170,-10],[-170,10],[-180,10],[-180,-10]]]}},
{"type":"Feature","properties":{"CONTINENT":"Pointland"},
 "geometry":{"type":"Point","coordinates":[50,50]}}
]}`

func writeContinents(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "continents.geojson")
	require.NoError(t, os.WriteFile(path, []byte(testContinents), 0o600))
	return path
}

func loadTestSet(t *testing.T) *Set {
	t.Helper()
	set, err := Load(writeContinents(t), "")
	require.NoError(t, err)
	return set
}

func box(minLon, minLat, maxLon, maxLat float64) geometry.Shape {
	return geometry.Single(orb.Polygon{{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}})
}

func TestLoadGeoJSON(t *testing.T) {
	set := loadTestSet(t)

	assert.Equal(t, []string{"Westland", "Eastland"}, set.Names(), "non-polygon features skipped, duplicates merged")
	east, ok := set.Lookup("Eastland")
	require.True(t, ok)
	assert.Len(t, east.Geometry, 2)
	assert.Equal(t, -180.0, east.Bound.Min[0])
	assert.Equal(t, 180.0, east.Bound.Max[0])

	_, ok = set.Lookup("Atlantis")
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load("continents.kml", "")
		assert.ErrorContains(t, err, "unsupported file type")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "none.geojson"), "")
		assert.Error(t, err)
	})

	t.Run("missing name property", func(t *testing.T) {
		_, err := Load(writeContinents(t), "NAME")
		assert.ErrorContains(t, err, `"NAME"`)
	})
}

func TestSetPriority(t *testing.T) {
	set := loadTestSet(t)

	require.NoError(t, set.CheckPriority([]string{"Eastland"}))
	assert.Error(t, set.CheckPriority([]string{"Eastland", "Atlantis"}))

	assert.Equal(t, []string{"Eastland", "Westland"}, set.ColumnOrder([]string{"Eastland"}))
	assert.Equal(t, []string{"Westland", "Eastland"}, set.ColumnOrder(nil))
}

func TestGroupRings(t *testing.T) {
	shell := orb.Ring{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}} // clockwise
	hole := orb.Ring{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}      // counter-clockwise
	other := orb.Ring{{20, 0}, {20, 5}, {25, 5}, {25, 0}, {20, 0}}

	mp := groupRings([]orb.Ring{shell, hole, other})

	require.Len(t, mp, 2)
	assert.Len(t, mp[0], 2, "hole attached to its shell")
	assert.Len(t, mp[1], 1)
}

func newTestIntersector(t *testing.T) *Intersector {
	t.Helper()
	in, err := NewIntersector(loadTestSet(t), geodesy.WGS84)
	require.NoError(t, err)
	return in
}

func intersect(t *testing.T, in *Intersector, ar geometry.Shape) Result {
	t.Helper()
	area, err := geodesy.WGS84.Area(ar)
	require.NoError(t, err)
	res, err := in.Intersect(ar, area)
	require.NoError(t, err)
	return res
}

func TestIntersect(t *testing.T) {
	in := newTestIntersector(t)

	t.Run("inside one continent", func(t *testing.T) {
		res := intersect(t, in, box(-15, -5, -5, 5))

		byName := res.ByName()
		assert.InDelta(t, 100, byName["Westland"].Proportion, 1e-6)
		assert.Zero(t, byName["Eastland"].Proportion)
		assert.True(t, byName["Eastland"].Shape.IsEmpty())
		assert.InDelta(t, 100, res.Land, 1e-6)
		assert.InDelta(t, 0, res.Ocean, 1e-6)
	})

	t.Run("half over land", func(t *testing.T) {
		res := intersect(t, in, box(-10, -5, 10, 5))

		// Planar clipping against geodesic edges leaves a small bias.
		assert.InDelta(t, 50, res.ByName()["Westland"].Proportion, 1)
		assert.InDelta(t, 50, res.Ocean, 1)
		assert.InDelta(t, 100, res.Land+res.Ocean, 1e-12)
	})

	t.Run("open ocean", func(t *testing.T) {
		res := intersect(t, in, box(60, -40, 80, -30))

		assert.Equal(t, 0.0, res.Land)
		assert.Equal(t, 100.0, res.Ocean)
		require.Len(t, res.Overlaps, 2)
		for _, o := range res.Overlaps {
			assert.Zero(t, o.Proportion)
		}
	})

	t.Run("split footprint over both halves of a continent", func(t *testing.T) {
		shape, err := geometry.NewSplitter(geodesy.WGS84.SeamLatitude).Split(
			[]orb.Point{{175, -5}, {185, -5}, {185, 5}, {175, 5}})
		require.NoError(t, err)
		res := intersect(t, in, shape)

		east := res.ByName()["Eastland"]
		assert.Equal(t, geometry.MultiPart, east.Shape.Kind())
		assert.InDelta(t, 100, east.Proportion, 1e-6)
	})

	t.Run("proportions stay within bounds", func(t *testing.T) {
		res := intersect(t, in, box(-25, -15, 5, 15))

		for _, o := range res.Overlaps {
			assert.GreaterOrEqual(t, o.Proportion, 0.0)
			assert.LessOrEqual(t, o.Proportion, 100.0)
		}
		assert.LessOrEqual(t, res.Land, 100.0)
		assert.InDelta(t, 100, res.Land+res.Ocean, 1e-12)
	})
}

func TestIntersectTopologyError(t *testing.T) {
	in := newTestIntersector(t)

	t.Run("self-intersecting footprint", func(t *testing.T) {
		bowtie := geometry.Single(orb.Polygon{{{-15, -5}, {-5, 5}, {-5, -5}, {-15, 5}, {-15, -5}}})
		res, err := in.Intersect(bowtie, 1000)

		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrTopology))
		assert.Empty(t, res.Overlaps)
	})

	t.Run("empty footprint", func(t *testing.T) {
		_, err := in.Intersect(geometry.Shape{}, 0)
		assert.True(t, errors.Is(err, domain.ErrTopology))
	})

	t.Run("intersector keeps working afterwards", func(t *testing.T) {
		res := intersect(t, in, box(-15, -5, -5, 5))
		assert.InDelta(t, 100, res.Land, 1e-6)
	})
}

func TestProportion(t *testing.T) {
	assert.Equal(t, 50.0, proportion(5, 10))
	assert.Equal(t, 100.0, proportion(11, 10))
	assert.Equal(t, 0.0, proportion(-1, 10))
	assert.Equal(t, 0.0, proportion(5, 0))
}
