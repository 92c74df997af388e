package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
	"github.com/couchcryptid/epiweek-climate-etl/internal/product"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// Query selects the daily observations of one collection.
type Query struct {
	Collection string
	Bounds     raster.Bounds
	Start      time.Time // inclusive
	End        time.Time // exclusive
	Bands      []string
}

// ObservationSource returns the observations that fall in [Start, End) and
// intersect Bounds, ordered by date.
type ObservationSource interface {
	QueryObservations(ctx context.Context, q Query) ([]raster.Observation, error)
}

// ZonalReducer computes statistics per polygon over a grid.
type ZonalReducer interface {
	ReduceZonal(ctx context.Context, g *raster.Grid, polygons []raster.Polygon, stats []domain.Statistic, resolution float64) ([]raster.ZonalValue, error)
}

// Loader writes the assembled tables to a destination.
type Loader interface {
	LoadTables(ctx context.Context, tables []domain.Table) error
}

// Staged is output prepared by a StagingLoader but not yet visible.
type Staged interface {
	Commit() error
	Abort()
}

// StagingLoader is a Loader whose output can be prepared first and made
// visible only after every other loader has succeeded.
type StagingLoader interface {
	Loader
	StageTables(ctx context.Context, tables []domain.Table) (Staged, error)
}

// Job is one run's input.
type Job struct {
	Product    product.Product
	Windows    []domain.Window
	Polygons   []raster.Polygon
	Statistics []domain.Statistic
	Resolution float64
}

func (j Job) validate() error {
	switch {
	case len(j.Windows) == 0:
		return fmt.Errorf("%w: no windows", domain.ErrInvalidInput)
	case len(j.Polygons) == 0:
		return fmt.Errorf("%w: no polygons", domain.ErrInvalidInput)
	case len(j.Statistics) == 0:
		return fmt.Errorf("%w: no statistics", domain.ErrInvalidInput)
	case !(j.Resolution > 0):
		return fmt.Errorf("%w: resolution must be positive, got %g", domain.ErrInvalidInput, j.Resolution)
	case len(j.Product.SubVariables) == 0:
		return fmt.Errorf("%w: product %q has no sub-variables", domain.ErrInvalidInput, j.Product.Name)
	}
	seen := make(map[string]struct{}, len(j.Polygons))
	for _, p := range j.Polygons {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate polygon id %q", domain.ErrInvalidInput, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Pipeline runs the window loop: query, aggregate, reduce, then assemble and
// load. Windows are processed one at a time.
type Pipeline struct {
	source  ObservationSource
	reducer ZonalReducer
	loaders []Loader
	logger  *slog.Logger
	metrics *observability.Metrics
	retry   RetryPolicy
	clock   clockwork.Clock
	ready   atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// Progress is a snapshot of the current run.
type Progress struct {
	Product      string `json:"product"`
	WindowsTotal int    `json:"windows_total"`
	WindowsDone  int    `json:"windows_done"`
	CurrentWeek  int    `json:"current_week,omitempty"`
	Finished     bool   `json:"finished"`
}

// New creates a Pipeline. Loaders run in order after every table is assembled.
func New(source ObservationSource, reducer ZonalReducer, loaders []Loader, logger *slog.Logger, metrics *observability.Metrics, retry RetryPolicy) *Pipeline {
	clock := retry.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		source:  source,
		reducer: reducer,
		loaders: loaders,
		logger:  logger,
		metrics: metrics,
		retry:   retry,
		clock:   clock,
	}
}

// CheckReadiness returns nil once the pipeline has completed a window.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any window yet")
	}
	return nil
}

// Progress returns the state of the current or last run.
func (p *Pipeline) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *Pipeline) updateProgress(f func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.progress)
}

// Run processes every window of job, assembles one table per polygon and
// hands them to the loaders. Nothing is loaded unless every window succeeds
// and every table assembles.
func (p *Pipeline) Run(ctx context.Context, job Job) ([]domain.Table, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}

	start := p.clock.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	p.logger.Info("pipeline started",
		"product", job.Product.Name,
		"windows", len(job.Windows),
		"polygons", len(job.Polygons),
		"statistics", len(job.Statistics),
		"resolution", job.Resolution,
	)

	p.updateProgress(func(pr *Progress) {
		*pr = Progress{Product: job.Product.Name, WindowsTotal: len(job.Windows)}
	})

	bounds := raster.BoundsOf(job.Polygons)
	records := make([]domain.ZonalRecord, 0,
		len(job.Windows)*len(job.Product.SubVariables)*len(job.Polygons)*len(job.Statistics))

	for i, w := range job.Windows {
		if err := ctx.Err(); err != nil {
			p.logger.Info("pipeline stopping", "reason", err, "week", w.WeekID)
			return nil, fmt.Errorf("run interrupted: %w", err)
		}
		p.updateProgress(func(pr *Progress) { pr.CurrentWeek = w.WeekID })
		for _, sv := range job.Product.SubVariables {
			recs, err := p.processWindow(ctx, job, i, sv, bounds)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
		p.metrics.WindowsProcessed.Inc()
		p.updateProgress(func(pr *Progress) { pr.WindowsDone = i + 1 })
		p.ready.Store(true)
		p.logger.Debug("window complete", "week", w.WeekID, "year", w.Year)
	}

	tables, err := assemble(job, records)
	if err != nil {
		return nil, err
	}

	if err := p.load(ctx, tables); err != nil {
		return nil, err
	}

	p.updateProgress(func(pr *Progress) { pr.Finished = true })
	p.metrics.RunDuration.Observe(p.clock.Since(start).Seconds())
	p.logger.Info("pipeline finished", "tables", len(tables), "duration", p.clock.Since(start))
	return tables, nil
}

// load runs the loaders in order. Staging loaders only prepare their output;
// it is committed once every loader has succeeded and discarded otherwise.
func (p *Pipeline) load(ctx context.Context, tables []domain.Table) error {
	var staged []Staged
	abort := func(from int) {
		for _, s := range staged[from:] {
			s.Abort()
		}
	}

	for _, l := range p.loaders {
		if sl, ok := l.(StagingLoader); ok {
			s, err := sl.StageTables(ctx, tables)
			if err != nil {
				abort(0)
				return fmt.Errorf("stage tables: %w", err)
			}
			staged = append(staged, s)
			continue
		}
		if err := l.LoadTables(ctx, tables); err != nil {
			abort(0)
			return fmt.Errorf("load tables: %w", err)
		}
	}

	for i, s := range staged {
		if err := s.Commit(); err != nil {
			abort(i + 1)
			return fmt.Errorf("commit tables: %w", err)
		}
	}
	return nil
}

// processWindow aggregates one sub-variable over window i and reduces it.
func (p *Pipeline) processWindow(ctx context.Context, job Job, i int, sv product.SubVariable, bounds raster.Bounds) ([]domain.ZonalRecord, error) {
	w := job.Windows[i]
	q := Query{
		Collection: job.Product.Collection,
		Bounds:     bounds,
		Start:      w.Start,
		End:        w.End,
		Bands:      job.Product.Bands(sv),
	}

	var obs []raster.Observation
	err := p.call(ctx, "query", func(ctx context.Context) error {
		var err error
		obs, err = p.source.QueryObservations(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query %s for %s: %w", sv.Band, w, err)
	}
	obs = p.withinWindow(w, sv, obs)

	grid, empty, err := job.Product.Aggregate(obs, sv, bounds, job.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate %s for %s: %w", domain.ErrAggregation, sv.Band, w, err)
	}
	p.metrics.WindowObservations.Observe(float64(len(obs)))
	if empty {
		p.metrics.EmptyWindows.WithLabelValues(job.Product.SubVariableName(sv)).Inc()
	}

	var values []raster.ZonalValue
	err = p.call(ctx, "reduce", func(ctx context.Context) error {
		var err error
		values, err = p.reducer.ReduceZonal(ctx, grid, job.Polygons, job.Statistics, job.Resolution)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reduce %s for %s: %w", sv.Band, w, err)
	}

	p.logger.Info("window processed",
		"week", w.WeekID,
		"start", domain.FormatDay(w.Start),
		"end", domain.FormatDay(w.End),
		"days", w.Days(),
		"band", sv.Band,
		"observations", len(obs),
		"valid_pixels", grid.ValidCount(),
		"empty", empty,
	)

	recs := make([]domain.ZonalRecord, len(values))
	for k, v := range values {
		recs[k] = domain.ZonalRecord{
			Window:    i,
			Prefix:    sv.Prefix,
			PolygonID: v.PolygonID,
			Statistic: v.Statistic,
			Value:     v.Value,
		}
	}
	return recs, nil
}

// withinWindow drops observations dated outside w. A source that returns
// them has ignored the query range.
func (p *Pipeline) withinWindow(w domain.Window, sv product.SubVariable, obs []raster.Observation) []raster.Observation {
	kept := obs[:0:0]
	for _, o := range obs {
		if !w.Contains(o.Date) {
			p.logger.Warn("observation outside window dropped",
				"week", w.WeekID,
				"band", sv.Band,
				"date", domain.FormatDay(o.Date),
			)
			continue
		}
		kept = append(kept, o)
	}
	return kept
}

// assemble groups records by polygon and pivots each group into a table.
func assemble(job Job, records []domain.ZonalRecord) ([]domain.Table, error) {
	byPolygon := make(map[string][]domain.ZonalRecord, len(job.Polygons))
	for _, r := range records {
		byPolygon[r.PolygonID] = append(byPolygon[r.PolygonID], r)
	}

	columns := domain.Columns(job.Product.Prefixes(), job.Statistics)
	tables := make([]domain.Table, 0, len(job.Polygons))
	grouped := 0
	for _, poly := range job.Polygons {
		group := byPolygon[poly.ID]
		grouped += len(group)
		t, err := domain.AssembleTable(job.Product.Name, poly.ID, job.Windows, columns, group)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if grouped != len(records) {
		return nil, fmt.Errorf("%w: %d results reference unknown polygons", domain.ErrShapeMismatch, len(records)-grouped)
	}
	return tables, nil
}
