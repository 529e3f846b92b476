package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/ar-landfall/internal/continent"
	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/geodesy"
	"github.com/couchcryptid/ar-landfall/internal/geometry"
	"github.com/couchcryptid/ar-landfall/internal/grid"
	"github.com/couchcryptid/ar-landfall/internal/landfall"
	"github.com/couchcryptid/ar-landfall/internal/observability"
)

// Intersector computes the continent overlaps of an AR footprint.
type Intersector interface {
	Intersect(ar geometry.Shape, arArea float64) (continent.Result, error)
}

// Attributor turns one AR instance into an attributed row. It is not safe
// for concurrent use; each worker owns one.
type Attributor struct {
	el        geodesy.Ellipsoid
	splitter  *geometry.Splitter
	intersect Intersector
	grids     grid.Loader
	finder    *landfall.Finder
	priority  []string
	columns   []string
	logger    *slog.Logger
	metrics   *observability.Metrics

	errs domain.ErrorCounters
}

// AttributorConfig groups the collaborators of an Attributor.
type AttributorConfig struct {
	Ellipsoid   geodesy.Ellipsoid
	Intersector Intersector
	Grids       grid.Loader
	TieBreaker  landfall.TieBreaker
	Priority    []string
	// Columns lists every continent reported as a proportion column.
	Columns []string
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func NewAttributor(cfg AttributorConfig) *Attributor {
	return &Attributor{
		el:        cfg.Ellipsoid,
		splitter:  geometry.NewSplitter(cfg.Ellipsoid.SeamLatitude),
		intersect: cfg.Intersector,
		grids:     cfg.Grids,
		finder:    landfall.NewFinder(cfg.TieBreaker),
		priority:  cfg.Priority,
		columns:   cfg.Columns,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Errors returns the counters accumulated since the last call and resets
// them.
func (a *Attributor) Errors() domain.ErrorCounters {
	errs := a.errs
	a.errs = domain.ErrorCounters{}
	return errs
}

// Attribute processes the instance at index row of its scope. Recoverable
// failures are counted and degrade fields to NaN; the returned error is
// only set for upstream contract violations and cancellation.
func (a *Attributor) Attribute(ctx context.Context, row int, inst domain.ARInstance) (domain.AttributedRow, orb.LineString, error) {
	start := domain.Now()
	defer func() { a.metrics.InstanceDuration.Observe(domain.Since(start).Seconds()) }()

	if err := inst.Validate(); err != nil {
		return domain.AttributedRow{}, nil, fmt.Errorf("row %d (track %d): %w", row, inst.TrackID, err)
	}

	axis := normalizeLine(inst.Axis())
	out := domain.AttributedRow{
		TrackID:     inst.TrackID,
		Time:        inst.Time,
		Attrs:       inst.Attrs,
		CentroidLon: geometry.NormalizeLon(inst.CentroidX),
		CentroidLat: inst.CentroidY,
		AxisLength:  a.el.Length(axis),
		ARArea:      math.NaN(),
		Proportions: make(map[string]float64, len(a.columns)),
	}
	a.setMissingOverlap(&out)

	log := a.logger.With("row", row, "trackid", inst.TrackID, "time", inst.Time)

	shape, err := a.splitter.Split(inst.Contour())
	switch {
	case errors.Is(err, domain.ErrTopology):
		a.topology(row, log, err)
		return out, axis, nil
	case err != nil:
		return domain.AttributedRow{}, nil, fmt.Errorf("row %d (track %d): %w", row, inst.TrackID, err)
	}

	area, err := a.el.Area(shape)
	if err != nil {
		a.errs.Geodesy++
		a.metrics.InstanceErrors.WithLabelValues(observability.KindGeodesy).Inc()
		log.Warn("footprint area degraded", "error", err)
	}
	out.ARArea = area

	res, err := a.intersect.Intersect(shape, area)
	if err != nil {
		if !errors.Is(err, domain.ErrTopology) {
			return domain.AttributedRow{}, nil, fmt.Errorf("row %d (track %d): %w", row, inst.TrackID, err)
		}
		a.topology(row, log, err)
		return out, axis, nil
	}
	if res.GeodesyErrors > 0 {
		a.errs.Geodesy += int64(res.GeodesyErrors)
		a.metrics.InstanceErrors.WithLabelValues(observability.KindGeodesy).Add(float64(res.GeodesyErrors))
	}

	out.Land, out.Ocean = res.Land, res.Ocean
	for _, name := range a.columns {
		out.Proportions[name] = 0
	}
	for _, ov := range res.Overlaps {
		out.Proportions[ov.Continent] = ov.Proportion
	}

	candidates, err := a.landfalls(ctx, row, inst, res, log)
	if err != nil {
		return domain.AttributedRow{}, nil, err
	}
	out.Landfall = landfall.Resolve(a.priority, candidates)

	a.metrics.InstancesProcessed.Inc()
	return out, axis, nil
}

// landfalls searches the maximum intensity on every non-empty overlap. The
// grid is only loaded when the footprint reaches land.
func (a *Attributor) landfalls(ctx context.Context, row int, inst domain.ARInstance, res continent.Result, log *slog.Logger) (map[string]landfall.Candidate, error) {
	candidates := make(map[string]landfall.Candidate, len(res.Overlaps))
	for _, ov := range res.Overlaps {
		candidates[ov.Continent] = landfall.Candidate{Proportion: ov.Proportion}
	}
	if !(res.Land > 0) {
		return candidates, nil
	}

	g, err := a.grids.Load(ctx, inst.Time)
	if err != nil {
		return nil, fmt.Errorf("row %d (track %d): load intensity grid: %w", row, inst.TrackID, err)
	}

	for _, ov := range res.Overlaps {
		if ov.Shape.IsEmpty() {
			continue
		}
		m, ok, err := a.finder.Find(g, ov.Shape)
		if errors.Is(err, domain.ErrNoData) {
			a.errs.NoData++
			a.errs.NoDataRows = append(a.errs.NoDataRows, row)
			a.metrics.InstanceErrors.WithLabelValues(observability.KindNoData).Inc()
			log.Warn("no intensity data over overlap", "continent", ov.Continent, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("row %d (track %d): %w", row, inst.TrackID, err)
		}
		if !ok {
			continue
		}
		if m.Ties > 1 {
			a.metrics.TieBreaks.Inc()
		}
		c := candidates[ov.Continent]
		c.Max, c.Found = m, true
		candidates[ov.Continent] = c
	}
	return candidates, nil
}

func (a *Attributor) topology(row int, log *slog.Logger, err error) {
	a.errs.Topology++
	a.errs.TopologyRows = append(a.errs.TopologyRows, row)
	a.metrics.InstanceErrors.WithLabelValues(observability.KindTopology).Inc()
	a.metrics.InstancesProcessed.Inc()
	log.Warn("continent overlap failed", "error", err)
}

// setMissingOverlap marks every overlap-dependent column as missing.
func (a *Attributor) setMissingOverlap(r *domain.AttributedRow) {
	r.Land, r.Ocean = math.NaN(), math.NaN()
	r.Landfall = landfall.Missing("")
	for _, name := range a.columns {
		r.Proportions[name] = math.NaN()
	}
}

func normalizeLine(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		out[i] = orb.Point{geometry.NormalizeLon(p[0]), p[1]}
	}
	return out
}
