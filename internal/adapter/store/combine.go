package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
)

// yearSummary is one entry of the combined error table.
type yearSummary struct {
	Year         int   `json:"year"`
	NARs         int   `json:"n_ars"`
	TopoErrors   int64 `json:"tperrors"`
	NoDataErrors int64 `json:"nodataerrors"`
	GeodesyErrs  int64 `json:"geodesyerrors"`
}

// Combine concatenates the per-scope outputs of scopes, in order, into the
// combined table, axis collection and error summary. Columns listed in
// dropColumns are removed from the combined table.
func (s *Store) Combine(ctx context.Context, scopes []int) error {
	if err := s.combineTables(ctx, scopes); err != nil {
		return err
	}
	if err := s.combineAxes(scopes); err != nil {
		return err
	}
	if err := s.combineErrors(scopes); err != nil {
		return err
	}
	s.logger.Info("scopes combined", "scopes", len(scopes), "dir", s.dir)
	return nil
}

// CombinedTablePath is where Combine writes the combined table.
func (s *Store) CombinedTablePath() string {
	p := filepath.Join(s.dir, combinedTable)
	if s.compression == CompressionZstd {
		p += ".zst"
	}
	return p
}

func (s *Store) combineTables(ctx context.Context, scopes []int) error {
	// Scopes may differ in upstream columns; the combined header is their
	// union in first-seen order.
	var header []string
	index := make(map[string]int)
	for _, scope := range scopes {
		h, err := readHeader(s.tablePath(scope))
		if err != nil {
			return err
		}
		for _, col := range h {
			if _, ok := index[col]; ok || slices.Contains(s.dropColumns, col) {
				continue
			}
			index[col] = len(header)
			header = append(header, col)
		}
	}

	return writeFile(s.CombinedTablePath(), func(f *os.File) error {
		var w io.Writer = f
		var zw *zstd.Encoder
		if s.compression == CompressionZstd {
			var err error
			if zw, err = zstd.NewWriter(f); err != nil {
				return err
			}
			w = zw
		}

		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, scope := range scopes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := appendTable(cw, s.tablePath(scope), header, index); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		if zw != nil {
			return zw.Close()
		}
		return nil
	})
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scope table: %w", err)
	}
	defer f.Close()
	h, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return h, nil
}

// appendTable copies the rows of one scope table into cw, remapped to the
// combined header.
func appendTable(cw *csv.Writer, path string, header []string, index map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open scope table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	h, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	out := make([]string, len(header))
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		clear(out)
		for k, col := range h {
			if j, ok := index[col]; ok {
				out[j] = rec[k]
			}
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
}

func (s *Store) combineAxes(scopes []int) error {
	all := geojson.NewFeatureCollection()
	for _, scope := range scopes {
		data, err := os.ReadFile(s.axisPath(scope))
		if err != nil {
			return fmt.Errorf("read scope axes: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", s.axisPath(scope), err)
		}
		for _, feat := range fc.Features {
			if feat.Properties == nil {
				feat.Properties = geojson.Properties{}
			}
			feat.Properties["row"] = len(all.Features)
			feat.Properties["scope"] = scope
			all.Append(feat)
		}
	}
	return writeFile(filepath.Join(s.dir, combinedAxis), func(f *os.File) error {
		data, err := all.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	})
}

func (s *Store) combineErrors(scopes []int) error {
	summary := make([]yearSummary, 0, len(scopes))
	for _, scope := range scopes {
		data, err := os.ReadFile(s.errorsPath(scope))
		if err != nil {
			return fmt.Errorf("read scope errors: %w", err)
		}
		var e scopeErrors
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("parse %s: %w", s.errorsPath(scope), err)
		}
		summary = append(summary, yearSummary{
			Year:         scope,
			NARs:         e.NARs,
			TopoErrors:   e.Topology,
			NoDataErrors: e.NoData,
			GeodesyErrs:  e.Geodesy,
		})
	}
	return writeFile(filepath.Join(s.dir, combinedErrors), func(f *os.File) error {
		return writeJSON(f, summary)
	})
}
