// Command genmock generates a synthetic attribution input set: an AR track
// table, a continent layer and a yearly IVT file. With -expect it also runs
// the actual pipeline over the generated data, so the expected output
// matches real attribution behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock \
//	  -year 2004 -tracks 20 -steps 4 \
//	  -expect data/mock/expected
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/ar-landfall/internal/adapter/store"
	"github.com/couchcryptid/ar-landfall/internal/adapter/tracks"
	"github.com/couchcryptid/ar-landfall/internal/config"
	"github.com/couchcryptid/ar-landfall/internal/continent"
	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geodesy"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
	"github.com/couchcryptid/ar-landfall/internal/grid"
	"github.com/couchcryptid/ar-landfall/internal/landfall"
	"github.com/couchcryptid/ar-landfall/internal/observability"
	"github.com/couchcryptid/ar-landfall/internal/pipeline"
)

const (
	tracksFile     = "ar_tracks.jsonl"
	continentsFile = "continents.geojson"
	ivtDir         = "ivt"

	stepHours     = 6
	contourPoints = 24
	background    = 50.0  // IVT floor, kg m-1 s-1
	peak          = 800.0 // IVT at the AR axis
	spread        = 3.0   // Gaussian width across the axis, degrees
)

// continentBoxes is a coarse stand-in for the World Continents layer, one
// box per continent of the default priority list.
var continentBoxes = map[string]orb.Bound{
	"Antarctica":    {Min: orb.Point{-180, -90}, Max: orb.Point{180, -62}},
	"Oceania":       {Min: orb.Point{160, -50}, Max: orb.Point{180, -30}},
	"Australia":     {Min: orb.Point{113, -39}, Max: orb.Point{154, -11}},
	"Asia":          {Min: orb.Point{60, 5}, Max: orb.Point{180, 75}},
	"Africa":        {Min: orb.Point{-18, -35}, Max: orb.Point{51, 37}},
	"South America": {Min: orb.Point{-81, -55}, Max: orb.Point{-35, 12}},
	"North America": {Min: orb.Point{-168, 15}, Max: orb.Point{-52, 72}},
	"Europe":        {Min: orb.Point{-10, 37}, Max: orb.Point{60, 71}},
}

type options struct {
	out    string
	expect string
	year   int
	tracks int
	steps  int
	seed   uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var opts options
	flag.StringVar(&opts.out, "out", "", "output directory for the generated inputs")
	flag.StringVar(&opts.expect, "expect", "", "if set, run the pipeline and write its output here")
	flag.IntVar(&opts.year, "year", 2004, "year of the generated tracks")
	flag.IntVar(&opts.tracks, "tracks", 20, "number of AR tracks")
	flag.IntVar(&opts.steps, "steps", 4, "6-hourly instances per track")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flag.Parse()

	if opts.out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if opts.tracks < 1 || opts.steps < 1 {
		return fmt.Errorf("-tracks and -steps must be positive")
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	insts := generateTracks(rng, opts)

	if err := writeTracks(filepath.Join(opts.out, tracksFile), insts); err != nil {
		return fmt.Errorf("writing tracks: %w", err)
	}
	log.Printf("wrote %d instances of %d tracks: %s", len(insts), opts.tracks, tracksFile)

	if err := writeContinents(filepath.Join(opts.out, continentsFile)); err != nil {
		return fmt.Errorf("writing continents: %w", err)
	}
	log.Printf("wrote %d continents: %s", len(continentBoxes), continentsFile)

	if err := writeIVT(filepath.Join(opts.out, ivtDir), opts.year, insts, rng); err != nil {
		return fmt.Errorf("writing ivt: %w", err)
	}
	log.Printf("wrote ivt fields: %s/%d.nc", ivtDir, opts.year)

	if opts.expect == "" {
		return nil
	}
	res, err := attribute(opts)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	printStats(res)
	return nil
}

type track struct {
	id    int64
	start time.Time
	lon   float64
	lat   float64
	angle float64 // orientation of the major axis, radians
	major float64 // semi-axes, degrees
	minor float64
}

func generateTracks(rng *rand.Rand, opts options) []domain.ARInstance {
	jan1 := time.Date(opts.year, time.January, 1, 0, 0, 0, 0, time.UTC)
	stepsInYear := 365*24/stepHours - opts.steps

	var insts []domain.ARInstance
	for k := 0; k < opts.tracks; k++ {
		tr := track{
			id:    int64(k + 1),
			start: jan1.Add(time.Duration(rng.IntN(stepsInYear)*stepHours) * time.Hour),
			lon:   rng.Float64()*360 - 180,
			lat:   rng.Float64()*120 - 60,
			angle: rng.Float64()*math.Pi/2 - math.Pi/4,
			major: 10 + rng.Float64()*10,
			minor: 2 + rng.Float64()*2,
		}
		for s := 0; s < opts.steps; s++ {
			insts = append(insts, tr.instance(s))
		}
	}
	sort.SliceStable(insts, func(i, j int) bool { return insts[i].Time.Before(insts[j].Time) })
	return insts
}

// instance places the track's ellipse after s steps of eastward drift.
func (tr track) instance(s int) domain.ARInstance {
	cx, cy := tr.lon+5*float64(s), tr.lat
	sin, cos := math.Sincos(tr.angle)
	at := func(u, v float64) (float64, float64) {
		lon := cx + u*cos - v*sin
		lat := math.Max(-89.5, math.Min(89.5, cy+u*sin+v*cos))
		return to360(lon), lat
	}

	// Upstream size estimates on a flat earth, km² and km.
	kmPerDeg := 111.32
	area := math.Pi * tr.major * tr.minor * kmPerDeg * kmPerDeg * math.Cos(cy*math.Pi/180)
	inst := domain.ARInstance{
		TrackID:   tr.id,
		Time:      tr.start.Add(time.Duration(s*stepHours) * time.Hour),
		CentroidX: to360(cx),
		CentroidY: cy,
		Attrs: map[string]json.RawMessage{
			"area":       number(area),
			"length":     number(2 * tr.major * kmPerDeg),
			"width":      number(2 * tr.minor * kmPerDeg),
			"is_relaxed": json.RawMessage("false"),
		},
	}
	for p := 0; p <= contourPoints; p++ {
		theta := 2 * math.Pi * float64(p%contourPoints) / contourPoints
		x, y := at(tr.major*math.Cos(theta), tr.minor*math.Sin(theta))
		inst.ContourX = append(inst.ContourX, x)
		inst.ContourY = append(inst.ContourY, y)
	}
	for _, u := range []float64{-1, -0.5, 0, 0.5, 1} {
		x, y := at(u*tr.major*0.9, 0)
		inst.AxisX = append(inst.AxisX, x)
		inst.AxisY = append(inst.AxisY, y)
		if u != -0.5 && u != 0.5 {
			inst.AxisRDPX = append(inst.AxisRDPX, x)
			inst.AxisRDPY = append(inst.AxisRDPY, y)
		}
	}
	return inst
}

func number(v float64) json.RawMessage {
	return json.RawMessage(strconv.FormatFloat(v, 'f', 2, 64))
}

func to360(lon float64) float64 {
	return math.Mod(math.Mod(lon, 360)+360, 360)
}

func writeTracks(path string, insts []domain.ARInstance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, in := range insts {
		rec := map[string]any{
			"trackid":    in.TrackID,
			"time":       in.Time.Format("2006-01-02 15:04:05"),
			"contour_x":  in.ContourX,
			"contour_y":  in.ContourY,
			"axis_x":     in.AxisX,
			"axis_y":     in.AxisY,
			"axis_rdp_x": in.AxisRDPX,
			"axis_rdp_y": in.AxisRDPY,
			"centroid_x": in.CentroidX,
			"centroid_y": in.CentroidY,
		}
		for k, v := range in.Attrs {
			rec[k] = v
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return f.Close()
}

func writeContinents(path string) error {
	fc := geojson.NewFeatureCollection()
	for _, name := range config.DefaultPriority {
		f := geojson.NewFeature(continentBoxes[name].ToPolygon())
		f.Properties[continent.DefaultNameField] = name
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// writeIVT writes one field per instance timestamp on a 1-degree grid:
// noise over a floor plus a ridge along each AR axis active at that time.
func writeIVT(dir string, year int, insts []domain.ARInstance, rng *rand.Rand) error {
	lats := make([]float64, 181)
	for i := range lats {
		lats[i] = float64(i - 90)
	}
	lons := make([]float64, 360)
	for j := range lons {
		lons[j] = float64(j - 180)
	}

	byTime := make(map[time.Time][]orb.LineString)
	var times []time.Time
	for _, in := range insts {
		if _, ok := byTime[in.Time]; !ok {
			times = append(times, in.Time)
		}
		axis := in.Axis()
		for k := range axis {
			axis[k][0] = geometry.NormalizeLon(axis[k][0])
		}
		byTime[in.Time] = append(byTime[in.Time], axis)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	grids := make([]*grid.Grid, 0, len(times))
	for _, t := range times {
		values := make([]float64, len(lats)*len(lons))
		for i, lat := range lats {
			for j, lon := range lons {
				v := background * (1 + rng.Float64())
				for _, axis := range byTime[t] {
					d := distanceToAxis(orb.Point{lon, lat}, axis)
					v += peak * math.Exp(-d*d/(2*spread*spread))
				}
				values[i*len(lons)+j] = v
			}
		}
		g, err := grid.New(t, lats, lons, values)
		if err != nil {
			return err
		}
		grids = append(grids, g)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.nc", year)))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := grid.WriteNetCDF(f, grids, grid.WriteOptions{
		Lon360:        true,
		LatDescending: true,
		Scale:         0.05,
		Offset:        1600,
	}); err != nil {
		return err
	}
	return f.Close()
}

// distanceToAxis is the planar distance in degrees from p to the nearest
// axis vertex, wrapping longitude differences.
func distanceToAxis(p orb.Point, axis orb.LineString) float64 {
	best := math.Inf(1)
	for _, q := range axis {
		dx := math.Abs(p[0] - q[0])
		if dx > 180 {
			dx = 360 - dx
		}
		best = math.Min(best, math.Hypot(dx, p[1]-q[1]))
	}
	return best
}

// attribute runs the pipeline over the generated inputs with a fixed clock
// and the deterministic tie-break.
func attribute(opts options) (*domain.ScopeResult, error) {
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(opts.year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetricsForTesting()

	set, err := continent.Load(filepath.Join(opts.out, continentsFile), continent.DefaultNameField)
	if err != nil {
		return nil, err
	}
	columns := set.ColumnOrder(config.DefaultPriority)
	source := grid.NewNetCDFSource(filepath.Join(opts.out, ivtDir), grid.DefaultVariable)
	defer source.Close()
	grids := grid.NewCache(source, 0)
	out := store.New(opts.expect, []string{"area", "length"}, store.CompressionNone, logger)

	var result *domain.ScopeResult
	p, err := pipeline.New(pipeline.Options{
		Tracks:     tracks.NewReader(filepath.Join(opts.out, tracksFile), logger),
		Loaders:    []pipeline.ScopeLoader{out, captureLoader{&result}},
		Combiner:   out,
		GridCache:  grids,
		Continents: columns,
		YearStart:  opts.year,
		YearEnd:    opts.year,
		Workers:    1,
		NewAttributor: func() (*pipeline.Attributor, error) {
			isect, err := continent.NewIntersector(set, geodesy.WGS84)
			if err != nil {
				return nil, err
			}
			return pipeline.NewAttributor(pipeline.AttributorConfig{
				Ellipsoid:   geodesy.WGS84,
				Intersector: isect,
				Grids:       grids,
				TieBreaker:  landfall.LowestIndexTieBreaker{},
				Priority:    config.DefaultPriority,
				Columns:     columns,
				Logger:      logger,
				Metrics:     metrics,
			}), nil
		},
	}, logger, metrics)
	if err != nil {
		return nil, err
	}
	if err := p.Run(context.Background()); err != nil {
		return nil, err
	}
	log.Printf("wrote expected output: %s", out.CombinedTablePath())
	return result, nil
}

type captureLoader struct{ dst **domain.ScopeResult }

func (c captureLoader) LoadScope(_ context.Context, res *domain.ScopeResult) error {
	*c.dst = res
	return nil
}

func printStats(res *domain.ScopeResult) {
	counts := map[string]int{}
	var ocean, missing int
	for i := range res.Rows {
		r := &res.Rows[i]
		switch {
		case r.Land == 0:
			ocean++
		case !r.Landfall.Found:
			missing++
		}
		if r.Landfall.Continent != "" {
			counts[r.Landfall.Continent]++
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Instances: %d\n", len(res.Rows))
	fmt.Printf("Ocean only: %d\n", ocean)
	fmt.Printf("Land without landfall: %d\n", missing)
	var parts []string
	for _, name := range res.Continents {
		if counts[name] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
		}
	}
	fmt.Printf("Landfalls: %s\n", strings.Join(parts, ", "))
	fmt.Printf("Errors: tperrors=%d nodataerrors=%d geodesyerrors=%d\n",
		res.Errors.Topology, res.Errors.NoData, res.Errors.Geodesy)
}
