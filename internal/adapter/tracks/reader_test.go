package tracks

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

const table = `{"trackid": 1, "time": "2003-12-31 18:00:00", "contour_x": [0, 1, 1], "contour_y": [0, 0, 1], "centroid_x": 0.5, "centroid_y": 0.3}
{"trackid": 1, "time": "2004-01-01 00:00:00", "contour_x": [0, 1, 1], "contour_y": [0, 0, 1], "centroid_x": 0.5, "centroid_y": 0.3, "area": 12.5}

{"trackid": 2, "time": "2004-06-01T12:00:00Z", "contour_x": [10, 11, 11], "contour_y": [0, 0, 1], "centroid_x": 10.5, "centroid_y": 0.3}
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ar_tracks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInstances_FiltersByYear(t *testing.T) {
	r := NewReader(writeTable(t, table), slog.Default())

	got, err := r.Instances(context.Background(), 2004)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].TrackID)
	assert.Equal(t, int64(2), got[1].TrackID)
	assert.JSONEq(t, "12.5", string(got[0].Attrs["area"]))

	got, err = r.Instances(context.Background(), 2003)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.Instances(context.Background(), 1999)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInstances_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		r := NewReader(filepath.Join(t.TempDir(), "nope.jsonl"), slog.Default())
		_, err := r.Instances(context.Background(), 2004)
		assert.ErrorIs(t, err, domain.ErrUpstreamContract)
	})

	t.Run("malformed record", func(t *testing.T) {
		r := NewReader(writeTable(t, "{\"trackid\": 1, \"time\": \"2004-01-01\"}\n{not json}\n"), slog.Default())
		_, err := r.Instances(context.Background(), 2004)
		assert.ErrorIs(t, err, domain.ErrUpstreamContract)
		assert.ErrorContains(t, err, "line 2")
	})
}
