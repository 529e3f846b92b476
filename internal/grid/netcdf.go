package grid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
)

// DefaultVariable is the IVT variable name in the yearly files.
const DefaultVariable = "ivt"

// NetCDFSource reads IVT fields from one NetCDF classic file per year,
// named <year>.nc, holding variable(time, latitude, longitude). Files are
// opened lazily and kept open until Close.
type NetCDFSource struct {
	dir      string
	variable string

	mu    sync.Mutex
	files map[int]*yearFile
}

func NewNetCDFSource(dir, variable string) *NetCDFSource {
	if variable == "" {
		variable = DefaultVariable
	}
	return &NetCDFSource{dir: dir, variable: variable, files: make(map[int]*yearFile)}
}

// Load returns the field at t. A missing file or timestamp is an upstream
// contract violation.
func (s *NetCDFSource) Load(ctx context.Context, t time.Time) (*Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	yf, err := s.open(t.UTC().Year())
	if err != nil {
		return nil, err
	}
	return yf.field(t)
}

// Close closes every opened file.
func (s *NetCDFSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for year, yf := range s.files {
		errs = append(errs, yf.osFile.Close())
		delete(s.files, year)
	}
	return errors.Join(errs...)
}

func (s *NetCDFSource) open(year int) (*yearFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if yf, ok := s.files[year]; ok {
		return yf, nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%d.nc", year))
	yf, err := openYearFile(path, s.variable)
	if err != nil {
		return nil, err
	}
	s.files[year] = yf
	return yf, nil
}

// yearFile holds the decoded axes of one yearly file. Longitudes are
// reconciled to [-180, 180) and both axes sorted ascending; the orders map
// sorted positions back to file positions.
type yearFile struct {
	path     string
	variable string
	osFile   *os.File

	mu        sync.Mutex
	file      *cdf.File
	timeIndex map[int64]int

	lats, lons         []float64
	latOrder, lonOrder []int
	nLat, nLon         int

	packing packing
}

type packing struct {
	scale, offset float64
	fill, missing []float64
}

func (p packing) decode(v float64) float64 {
	for _, f := range p.fill {
		if v == f {
			return math.NaN()
		}
	}
	for _, m := range p.missing {
		if v == m {
			return math.NaN()
		}
	}
	return v*p.scale + p.offset
}

func openYearFile(path, variable string) (*yearFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open intensity grid: %w", domain.ErrUpstreamContract, err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrUpstreamContract, path, err)
	}
	yf, err := decodeAxes(cf, path, variable)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamContract, path, err)
	}
	yf.osFile = f
	return yf, nil
}

func decodeAxes(cf *cdf.File, path, variable string) (*yearFile, error) {
	dims := cf.Header.Dimensions(variable)
	if len(dims) != 3 {
		return nil, fmt.Errorf("variable %q has dimensions %v, want (time, latitude, longitude)", variable, dims)
	}

	yf := &yearFile{path: path, variable: variable, file: cf}

	rawTimes, err := readAll(cf, dims[0])
	if err != nil {
		return nil, err
	}
	units, _ := cf.Header.GetAttribute(dims[0], "units").(string)
	times, err := decodeTimes(rawTimes, units)
	if err != nil {
		return nil, err
	}
	yf.timeIndex = make(map[int64]int, len(times))
	for k, t := range times {
		yf.timeIndex[t.Unix()] = k
	}

	lats, err := readAll(cf, dims[1])
	if err != nil {
		return nil, err
	}
	lons, err := readAll(cf, dims[2])
	if err != nil {
		return nil, err
	}
	for k := range lons {
		lons[k] = geometry.NormalizeLon(lons[k])
	}
	yf.nLat, yf.nLon = len(lats), len(lons)
	yf.lats, yf.latOrder = sortedWithOrder(lats)
	yf.lons, yf.lonOrder = sortedWithOrder(lons)

	yf.packing = packing{
		scale:   firstFloat(cf.Header.GetAttribute(variable, "scale_factor"), 1),
		offset:  firstFloat(cf.Header.GetAttribute(variable, "add_offset"), 0),
		fill:    floats(cf.Header.GetAttribute(variable, "_FillValue")),
		missing: floats(cf.Header.GetAttribute(variable, "missing_value")),
	}
	return yf, nil
}

func (yf *yearFile) field(t time.Time) (*Grid, error) {
	k, ok := yf.timeIndex[t.Unix()]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrTimestampNotFound, t.UTC().Format(time.RFC3339), yf.path)
	}

	n := yf.nLat * yf.nLon
	yf.mu.Lock()
	buf := yf.file.Header.ZeroValue(yf.variable, n)
	_, err := yf.file.Reader(yf.variable, []int{k, 0, 0}, []int{k + 1, yf.nLat, yf.nLon}).Read(buf)
	yf.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s at %s: %w", domain.ErrUpstreamContract, yf.variable, t.UTC().Format(time.RFC3339), err)
	}
	raw, err := toFloat64(buf)
	if err != nil {
		return nil, err
	}

	values := make([]float64, n)
	for i, fi := range yf.latOrder {
		for j, fj := range yf.lonOrder {
			values[i*yf.nLon+j] = yf.packing.decode(raw[fi*yf.nLon+fj])
		}
	}
	return New(t.UTC(), yf.lats, yf.lons, values)
}

func readAll(cf *cdf.File, variable string) ([]float64, error) {
	lengths := cf.Header.Lengths(variable)
	if len(lengths) != 1 {
		return nil, fmt.Errorf("coordinate %q has shape %v", variable, lengths)
	}
	buf := cf.Header.ZeroValue(variable, lengths[0])
	if buf == nil {
		return nil, fmt.Errorf("coordinate variable %q not found", variable)
	}
	if _, err := cf.Reader(variable, nil, nil).Read(buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", variable, err)
	}
	return toFloat64(buf)
}

func toFloat64(buf interface{}) ([]float64, error) {
	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int16:
		return convert(v), nil
	case []int8:
		return convert(v), nil
	case []uint8:
		return convert(v), nil
	default:
		return nil, fmt.Errorf("unsupported netcdf type %T", buf)
	}
}

func convert[T float32 | int32 | int16 | int8 | uint8](xs []T) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

func floats(attr interface{}) []float64 {
	if attr == nil {
		return nil
	}
	if _, ok := attr.(string); ok {
		return nil
	}
	out, err := toFloat64(attr)
	if err != nil {
		return nil
	}
	return out
}

func firstFloat(attr interface{}, def float64) float64 {
	if v := floats(attr); len(v) > 0 {
		return v[0]
	}
	return def
}

func sortedWithOrder(xs []float64) ([]float64, []int) {
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return xs[order[a]] < xs[order[b]] })
	sorted := make([]float64, len(xs))
	for i, k := range order {
		sorted[i] = xs[k]
	}
	return sorted, order
}

var referenceLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.0",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// decodeTimes applies CF "<unit> since <reference>" units.
func decodeTimes(raw []float64, units string) ([]time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, fmt.Errorf("time units %q are not of the form '<unit> since <date>'", units)
	}
	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "s":
		step = time.Second
	case "minutes", "minute", "min":
		step = time.Minute
	case "hours", "hour", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return nil, fmt.Errorf("unsupported time unit %q", unit)
	}

	ref = strings.TrimSuffix(strings.TrimSpace(ref), " UTC")
	var base time.Time
	var err error
	for _, layout := range referenceLayouts {
		if base, err = time.Parse(layout, ref); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("time reference %q: %w", ref, err)
	}

	out := make([]time.Time, len(raw))
	for i, v := range raw {
		out[i] = base.Add(time.Duration(math.Round(v * float64(step)))).UTC()
	}
	return out, nil
}
