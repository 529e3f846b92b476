package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/observability"
)

// TrackSource returns the AR instances of one year in table order.
type TrackSource interface {
	Instances(ctx context.Context, year int) ([]domain.ARInstance, error)
}

// ScopeLoader writes the result of one processed scope to a destination.
type ScopeLoader interface {
	LoadScope(ctx context.Context, res *domain.ScopeResult) error
}

// Combiner merges the per-scope outputs once every scope is done.
type Combiner interface {
	Combine(ctx context.Context, scopes []int) error
}

// Resetter drops per-scope state, such as cached intensity fields.
type Resetter interface {
	Reset()
}

// Options configures a Pipeline.
type Options struct {
	Tracks     TrackSource
	Loaders    []ScopeLoader
	Combiner   Combiner
	GridCache  Resetter
	Continents []string
	YearStart  int
	YearEnd    int
	Workers    int

	// NewAttributor is called once per worker.
	NewAttributor func() (*Attributor, error)
}

// Pipeline attributes AR instances one scope (year) at a time.
type Pipeline struct {
	opts        Options
	attributors []*Attributor
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool

	mu     sync.Mutex
	status Status
}

// Status is a snapshot of run progress.
type Status struct {
	Running   bool          `json:"running"`
	YearStart int           `json:"year_start"`
	YearEnd   int           `json:"year_end"`
	Current   int           `json:"current_scope,omitempty"`
	Completed []int         `json:"completed_scopes"`
	Last      *ScopeSummary `json:"last_scope,omitempty"`
}

// ScopeSummary describes the most recently completed scope.
type ScopeSummary struct {
	Scope          int     `json:"scope"`
	Instances      int     `json:"n_ars"`
	Topology       int64   `json:"tperrors"`
	NoData         int64   `json:"nodataerrors"`
	Geodesy        int64   `json:"geodesyerrors"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// New creates a Pipeline and its per-worker attributors.
func New(opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	p := &Pipeline{opts: opts, logger: logger, metrics: metrics}
	p.status = Status{YearStart: opts.YearStart, YearEnd: opts.YearEnd, Completed: []int{}}
	for i := 0; i < opts.Workers; i++ {
		a, err := opts.NewAttributor()
		if err != nil {
			return nil, fmt.Errorf("create attributor %d: %w", i, err)
		}
		p.attributors = append(p.attributors, a)
	}
	return p, nil
}

// CheckReadiness returns nil once at least one scope has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any scope yet")
	}
	return nil
}

// Status returns a copy of the current run progress.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.Completed = append([]int{}, p.status.Completed...)
	if st.Last != nil {
		last := *st.Last
		st.Last = &last
	}
	return st
}

func (p *Pipeline) update(fn func(*Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

// Run processes every configured year in order, then combines the outputs.
// The first fatal scope error stops the run.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"year_start", p.opts.YearStart, "year_end", p.opts.YearEnd, "workers", p.opts.Workers)
	p.metrics.PipelineRunning.Set(1)
	p.update(func(st *Status) { st.Running = true })
	defer func() {
		p.metrics.PipelineRunning.Set(0)
		p.update(func(st *Status) { st.Running, st.Current = false, 0 })
	}()

	var scopes []int
	for year := p.opts.YearStart; year <= p.opts.YearEnd; year++ {
		if _, err := p.RunScope(ctx, year); err != nil {
			p.logger.Error("scope failed", "scope", year, "error", err)
			return fmt.Errorf("scope %d: %w", year, err)
		}
		scopes = append(scopes, year)
	}

	if p.opts.Combiner != nil && len(scopes) > 0 {
		if err := p.opts.Combiner.Combine(ctx, scopes); err != nil {
			return fmt.Errorf("combine scopes: %w", err)
		}
	}
	p.logger.Info("pipeline finished", "scopes", len(scopes))
	return nil
}

// RunScope attributes every instance of year and hands the result to the
// loaders. Row i of the result belongs to instance i.
func (p *Pipeline) RunScope(ctx context.Context, year int) (*domain.ScopeResult, error) {
	insts, err := p.opts.Tracks.Instances(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("read tracks: %w", err)
	}
	if p.opts.GridCache != nil {
		defer p.opts.GridCache.Reset()
	}

	p.update(func(st *Status) { st.Current = year })
	res := domain.NewScopeResult(year, p.opts.Continents, len(insts))
	res.StartedAt = domain.Now()
	p.logger.Info("scope started", "scope", year, "instances", len(insts))

	if err := p.attributeAll(ctx, insts, res); err != nil {
		return nil, err
	}

	res.CompletedAt = domain.Now()
	for _, l := range p.opts.Loaders {
		if err := l.LoadScope(ctx, res); err != nil {
			return nil, fmt.Errorf("load scope: %w", err)
		}
	}

	elapsed := res.CompletedAt.Sub(res.StartedAt)
	p.metrics.ScopeDuration.Observe(elapsed.Seconds())
	p.metrics.ScopesCompleted.Inc()
	p.ready.Store(true)
	p.update(func(st *Status) {
		st.Completed = append(st.Completed, year)
		st.Last = &ScopeSummary{
			Scope:          year,
			Instances:      len(insts),
			Topology:       res.Errors.Topology,
			NoData:         res.Errors.NoData,
			Geodesy:        res.Errors.Geodesy,
			ElapsedSeconds: elapsed.Seconds(),
		}
	})
	p.logger.Info("scope completed",
		"scope", year,
		"instances", len(insts),
		"tperrors", res.Errors.Topology,
		"nodataerrors", res.Errors.NoData,
		"geodesyerrors", res.Errors.Geodesy,
		"elapsed", elapsed,
	)
	return res, nil
}

// attributeAll runs the worker pool. Each worker owns one attributor and
// pulls the next instance index until the scope is exhausted.
func (p *Pipeline) attributeAll(ctx context.Context, insts []domain.ARInstance, res *domain.ScopeResult) error {
	workers := min(len(p.attributors), len(insts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	var next atomic.Int64
	for w := 0; w < workers; w++ {
		att := p.attributors[w]
		att.Errors() // drop counts left over from an aborted scope
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(insts) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				row, axis, err := att.Attribute(ctx, i, insts[i])
				if err != nil {
					return err
				}
				res.Rows[i], res.Axes[i] = row, axis
			}
		})
	}
	err := g.Wait()

	for _, a := range p.attributors[:workers] {
		res.Errors.Merge(a.Errors())
	}
	sort.Ints(res.Errors.TopologyRows)
	sort.Ints(res.Errors.NoDataRows)
	return err
}
