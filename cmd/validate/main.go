// Command validate performs integrity checks on the output of an
// attribution run: the combined table, the per-year parts, the axis
// collection and the error summary. With -tracks it also checks that every
// input instance of the run's years has exactly one output row.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -output output \
//	  -tracks output/ipart/ar/ar_tracks.jsonl
package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/ar-landfall/internal/adapter/store"
	"github.com/couchcryptid/ar-landfall/internal/domain"
)

const (
	partsDir  = "AR_parts"
	tolerance = 1e-6
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	outputDir := flag.String("output", "", "output directory of the attribution run")
	tracksPath := flag.String("tracks", "", "optional AR track table the run read")
	flag.Parse()

	if *outputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(os.Stdout, *outputDir, *tracksPath); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, outputDir, tracksPath string) int {
	fmt.Fprintln(w, "=== AR Landfall Output Validation ===")
	fmt.Fprintln(w)

	out, err := loadOutput(outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load output: %v\n", err)
		return 1
	}

	var inputs map[int]int
	if tracksPath != "" {
		if inputs, err = countInstances(tracksPath); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load tracks: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateParts(out, inputs),
		validateRows(out),
		validateAxes(out),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Rows: %d combined over %d years, %d continents\n",
		len(out.rows), len(out.summary), len(out.continents))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by header name.
type csvRow struct {
	lineNum int
	fields  map[string]string
}

type yearSummary struct {
	Year         int   `json:"year"`
	NARs         int   `json:"n_ars"`
	TopoErrors   int64 `json:"tperrors"`
	NoDataErrors int64 `json:"nodataerrors"`
}

type scopeErrors struct {
	Scope int `json:"scope"`
	NARs  int `json:"n_ars"`
	domain.ErrorCounters
}

type output struct {
	header     []string
	continents []string
	rows       []csvRow
	summary    []yearSummary
	parts      map[int][]csvRow
	partErrors map[int]scopeErrors
	axes       *geojson.FeatureCollection
}

func loadOutput(dir string) (*output, error) {
	out := &output{parts: map[int][]csvRow{}, partErrors: map[int]scopeErrors{}}

	var err error
	if out.header, out.rows, err = loadTable(dir); err != nil {
		return nil, err
	}
	i := slices.Index(out.header, store.ColLFIVT)
	if i < 0 {
		return nil, fmt.Errorf("combined table has no %s column", store.ColLFIVT)
	}
	out.continents = out.header[i+1:]

	if err := loadJSON(filepath.Join(dir, "ar_err.json"), &out.summary); err != nil {
		return nil, err
	}
	for _, s := range out.summary {
		_, rows, err := loadCSV(filepath.Join(dir, partsDir, fmt.Sprintf("%d.csv", s.Year)), nil)
		if err != nil {
			return nil, err
		}
		out.parts[s.Year] = rows
		var e scopeErrors
		if err := loadJSON(filepath.Join(dir, partsDir, fmt.Sprintf("%d_errors.json", s.Year)), &e); err != nil {
			return nil, err
		}
		out.partErrors[s.Year] = e
	}

	data, err := os.ReadFile(filepath.Join(dir, "ar_axis.geojson"))
	if err != nil {
		return nil, err
	}
	if out.axes, err = geojson.UnmarshalFeatureCollection(data); err != nil {
		return nil, fmt.Errorf("parse axes: %w", err)
	}
	return out, nil
}

// loadTable reads the combined table, plain or zstd-compressed.
func loadTable(dir string) ([]string, []csvRow, error) {
	plain := filepath.Join(dir, "ar.csv")
	if _, err := os.Stat(plain); err == nil {
		return loadCSV(plain, nil)
	}
	path := plain + ".zst"
	return loadCSV(path, func(r io.Reader) (io.Reader, func(), error) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	})
}

type decoder func(io.Reader) (io.Reader, func(), error)

func loadCSV(path string, decode decoder) ([]string, []csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if decode != nil {
		dec, closeFn, err := decode(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		defer closeFn()
		r = dec
	}

	all, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("no header in %s", path)
	}

	header := all[0]
	rows := make([]csvRow, 0, len(all)-1)
	for i, row := range all[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				fields[h] = strings.TrimSpace(row[j])
			}
		}
		rows = append(rows, csvRow{lineNum: i + 2, fields: fields})
	}
	return header, rows, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// countInstances counts the track table's instances per year.
func countInstances(path string) (map[int]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	counts := map[int]int{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		inst, err := domain.ParseARRecord(sc.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		counts[inst.Time.Year()]++
	}
	return counts, sc.Err()
}

// ── Phase 1: Parts ──
// Validates that the combined outputs are the concatenation of the parts.

func validateParts(out *output, inputs map[int]int) *phase {
	p := &phase{name: "Phase 1: Parts and error summary"}

	total := 0
	for _, s := range out.summary {
		rows := out.parts[s.Year]
		total += len(rows)
		if s.NARs != len(rows) {
			p.errorf("year %d: summary n_ars=%d, part has %d rows", s.Year, s.NARs, len(rows))
		}
		e := out.partErrors[s.Year]
		if e.Topology != s.TopoErrors || e.NoData != s.NoDataErrors {
			p.errorf("year %d: summary errors (%d, %d) differ from part (%d, %d)",
				s.Year, s.TopoErrors, s.NoDataErrors, e.Topology, e.NoData)
		}
		if int(e.Topology) != len(e.TopologyRows) {
			p.errorf("year %d: tperrors=%d with %d row indices", s.Year, e.Topology, len(e.TopologyRows))
		}
		if int(e.NoData) != len(e.NoDataRows) {
			p.errorf("year %d: nodataerrors=%d with %d row indices", s.Year, e.NoData, len(e.NoDataRows))
		}
		for _, i := range e.TopologyRows {
			if i < 0 || i >= len(rows) {
				p.errorf("year %d: topology row %d out of range", s.Year, i)
				continue
			}
			if rows[i].fields[store.ColLand] != "" {
				p.errorf("year %d: topology row %d has land=%s", s.Year, i, rows[i].fields[store.ColLand])
			}
		}
		if inputs != nil && inputs[s.Year] != len(rows) {
			p.errorf("year %d: %d input instances, %d output rows", s.Year, inputs[s.Year], len(rows))
		}
	}
	if total != len(out.rows) {
		p.errorf("combined table has %d rows, parts have %d", len(out.rows), total)
	}
	for _, col := range []string{"area", "length"} {
		if slices.Contains(out.header, col) {
			p.errorf("combined table still has dropped column %q", col)
		}
	}
	return p
}

// ── Phase 2: Rows ──
// Validates the value ranges and internal consistency of every row.

func validateRows(out *output) *phase {
	p := &phase{name: "Phase 2: Row consistency"}
	for _, r := range out.rows {
		checkRow(p, out.continents, r)
	}
	return p
}

func checkRow(p *phase, continents []string, r csvRow) {
	at := func(format string, args ...any) {
		p.errorf("line %d: %s", r.lineNum, fmt.Sprintf(format, args...))
	}

	if lon, ok := parseCell(r.fields[store.ColCentroidX]); ok && (lon < -180 || lon >= 180) {
		at("centroid_x %g outside [-180, 180)", lon)
	}

	ocean, hasOcean := parseCell(r.fields[store.ColOcean])
	land, hasLand := parseCell(r.fields[store.ColLand])
	if hasOcean != hasLand {
		at("ocean and land must both be set or both missing")
	}
	if hasLand && math.Abs(ocean+land-100) > tolerance {
		at("ocean %g + land %g != 100", ocean, land)
	}

	var sum float64
	for _, name := range continents {
		v, ok := parseCell(r.fields[name])
		if !ok {
			continue
		}
		if v < 0 || v > 100 {
			at("%s proportion %g outside [0, 100]", name, v)
		}
		sum += v
	}
	if hasLand && math.Abs(math.Min(sum, 100)-land) > tolerance {
		at("land %g != capped continent sum %g", land, math.Min(sum, 100))
	}

	lf := r.fields[store.ColLFContinent]
	if lf != "" && !slices.Contains(continents, lf) {
		at("unknown landfall continent %q", lf)
	}
	if lf != "" {
		if v, ok := parseCell(r.fields[lf]); !ok || v <= 0 {
			at("landfall continent %s has no overlap", lf)
		}
	}
	lon, hasLon := parseCell(r.fields[store.ColLFLon])
	lat, hasLat := parseCell(r.fields[store.ColLFLat])
	_, hasIVT := parseCell(r.fields[store.ColLFIVT])
	if hasLon != hasLat || hasLat != hasIVT {
		at("landfall lon, lat and intensity must be set together")
	}
	if hasLon && lf == "" {
		at("landfall location without continent")
	}
	if hasLat && (lat < -90 || lat > 90) {
		at("lf_lat %g outside [-90, 90]", lat)
	}
	if hasLon && (lon < -180 || lon > 180) {
		at("lf_lon %g outside [-180, 180]", lon)
	}
}

func parseCell(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ── Phase 3: Axes ──
// Validates that the axis collection is aligned with the combined table.

func validateAxes(out *output) *phase {
	p := &phase{name: "Phase 3: Axis alignment"}
	if len(out.axes.Features) != len(out.rows) {
		p.errorf("%d axis features for %d rows", len(out.axes.Features), len(out.rows))
	}
	for i, f := range out.axes.Features {
		if row, ok := f.Properties["row"].(float64); !ok || int(row) != i {
			p.errorf("feature %d has row %v", i, f.Properties["row"])
		}
		if i >= len(out.rows) {
			continue
		}
		want := out.rows[i].fields[store.ColTrackID]
		if got := fmt.Sprint(f.Properties["trackid"]); got != want {
			p.errorf("feature %d has trackid %s, row has %s", i, got, want)
		}
	}
	return p
}
