// Package tracks reads the upstream AR track table.
package tracks

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/ar-landfall/internal/domain"
)

// maxLine bounds one JSON record; contours of large ARs run to megabytes.
const maxLine = 64 << 20

// Reader reads AR instances from a JSON-lines track table, one object per
// line. It implements pipeline.TrackSource.
type Reader struct {
	path   string
	logger *slog.Logger
}

func NewReader(path string, logger *slog.Logger) *Reader {
	return &Reader{path: path, logger: logger}
}

// Instances returns the instances whose time falls in year, in file order.
// A record that cannot be parsed violates the upstream contract.
func (r *Reader) Instances(ctx context.Context, year int) ([]domain.ARInstance, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open track table: %w", domain.ErrUpstreamContract, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), maxLine)

	var out []domain.ARInstance
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		inst, err := domain.ParseARRecord(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %w", domain.ErrUpstreamContract, r.path, line, err)
		}
		if inst.Time.Year() != year {
			continue
		}
		out = append(out, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrUpstreamContract, r.path, err)
	}
	r.logger.Debug("track table read", "path", r.path, "scope", year, "instances", len(out), "lines", line)
	return out, nil
}
