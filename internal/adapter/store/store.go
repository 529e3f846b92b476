// Package store writes attributed scopes to the output directory and
// combines them once every scope is done.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

// Output layout relative to the output directory.
const (
	partsDir       = "AR_parts"
	combinedTable  = "ar.csv"
	combinedAxis   = "ar_axis.geojson"
	combinedErrors = "ar_err.json"
)

// Compression of the combined table.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Store implements pipeline.ScopeLoader and pipeline.Combiner on a local
// directory.
type Store struct {
	dir         string
	dropColumns []string
	compression string
	logger      *slog.Logger
}

// New returns a Store rooted at dir. dropColumns are removed from the
// combined table only.
func New(dir string, dropColumns []string, compression string, logger *slog.Logger) *Store {
	if compression == "" {
		compression = CompressionNone
	}
	return &Store{dir: dir, dropColumns: dropColumns, compression: compression, logger: logger}
}

func (s *Store) tablePath(scope int) string {
	return filepath.Join(s.dir, partsDir, fmt.Sprintf("%d.csv", scope))
}

func (s *Store) axisPath(scope int) string {
	return filepath.Join(s.dir, partsDir, fmt.Sprintf("%d_axis.geojson", scope))
}

func (s *Store) errorsPath(scope int) string {
	return filepath.Join(s.dir, partsDir, fmt.Sprintf("%d_errors.json", scope))
}

// LoadScope writes the table, axis lines and error summary of one scope.
func (s *Store) LoadScope(ctx context.Context, res *domain.ScopeResult) error {
	if err := os.MkdirAll(filepath.Join(s.dir, partsDir), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := writeFile(s.tablePath(res.Scope), func(f *os.File) error {
		return WriteTable(f, res)
	}); err != nil {
		return err
	}
	if err := writeFile(s.axisPath(res.Scope), func(f *os.File) error {
		return WriteAxes(f, res)
	}); err != nil {
		return err
	}
	if err := writeFile(s.errorsPath(res.Scope), func(f *os.File) error {
		return writeJSON(f, newScopeErrors(res))
	}); err != nil {
		return err
	}

	s.logger.Info("scope written", "scope", res.Scope, "rows", len(res.Rows), "dir", filepath.Join(s.dir, partsDir))
	return nil
}

// scopeErrors is the per-scope error summary.
type scopeErrors struct {
	Scope int `json:"scope"`
	NARs  int `json:"n_ars"`
	domain.ErrorCounters
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

func newScopeErrors(res *domain.ScopeResult) scopeErrors {
	e := scopeErrors{
		Scope:          res.Scope,
		NARs:           len(res.Rows),
		ErrorCounters:  res.Errors,
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
		ElapsedSeconds: res.CompletedAt.Sub(res.StartedAt).Seconds(),
	}
	if e.TopologyRows == nil {
		e.TopologyRows = []int{}
	}
	if e.NoDataRows == nil {
		e.NoDataRows = []int{}
	}
	return e
}

// WriteAxes writes the axis lines as a GeoJSON feature collection. The
// "row" property is the row index in the scope table.
func WriteAxes(w io.Writer, res *domain.ScopeResult) error {
	fc := geojson.NewFeatureCollection()
	for i, axis := range res.Axes {
		if axis == nil {
			axis = orb.LineString{}
		}
		feat := geojson.NewFeature(axis)
		feat.Properties["row"] = i
		if i < len(res.Rows) {
			feat.Properties["trackid"] = res.Rows[i].TrackID
			feat.Properties["time"] = res.Rows[i].Time.Format(timeLayout)
		}
		fc.Append(feat)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal axes: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeFile creates path, fills it with fn and closes it, removing the file
// when anything fails.
func writeFile(path string, fn func(f *os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
