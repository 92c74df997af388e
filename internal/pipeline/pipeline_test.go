package pipeline_test

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/sheet"
	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
	"github.com/couchcryptid/epiweek-climate-etl/internal/pipeline"
	"github.com/couchcryptid/epiweek-climate-etl/internal/product"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// --- fakes ---

// fakeBackend serves observations keyed by window start and reduces in
// process. queryErrs and reduceErrs are returned, in order, before real work.
type fakeBackend struct {
	mu         sync.Mutex
	byStart    map[time.Time][]raster.Observation
	queryErrs  []error
	reduceErrs []error
	queries    []pipeline.Query
	reduces    int
	dropOne    bool
}

func (b *fakeBackend) QueryObservations(_ context.Context, q pipeline.Query) ([]raster.Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	if len(b.queryErrs) > 0 {
		err := b.queryErrs[0]
		b.queryErrs = b.queryErrs[1:]
		return nil, err
	}
	return b.byStart[q.Start], nil
}

func (b *fakeBackend) ReduceZonal(_ context.Context, g *raster.Grid, polygons []raster.Polygon, stats []domain.Statistic, resolution float64) ([]raster.ZonalValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reduces++
	if len(b.reduceErrs) > 0 {
		err := b.reduceErrs[0]
		b.reduceErrs = b.reduceErrs[1:]
		return nil, err
	}
	values, err := raster.ReduceZonal(g, polygons, stats, resolution)
	if err != nil || !b.dropOne {
		return values, err
	}
	return values[1:], nil
}

type recordingLoader struct {
	name  string
	err   error
	calls *[]string
	got   []domain.Table
}

func (l *recordingLoader) LoadTables(_ context.Context, tables []domain.Table) error {
	*l.calls = append(*l.calls, l.name)
	if l.err != nil {
		return l.err
	}
	l.got = tables
	return nil
}

// --- fixtures ---

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func windows(t *testing.T) []domain.Window {
	t.Helper()
	w, err := domain.BuildWindows([]domain.WeekRecord{
		{Year: 2024, WeekID: 1, StartDate: day(time.January, 1)},
		{Year: 2024, WeekID: 2, StartDate: day(time.January, 8)},
		{Year: 2024, WeekID: 3, StartDate: day(time.January, 15)},
	})
	require.NoError(t, err)
	return w
}

func zone(t *testing.T, id string) raster.Polygon {
	t.Helper()
	p, err := raster.NewPolygon(id, geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {2000, 0}, {2000, 2000}, {0, 2000}, {0, 0},
	}}))
	require.NoError(t, err)
	return p
}

// uniform is a 2x2 grid of 1000-unit cells over [0,2000]x[0,2000].
func uniform(t *testing.T, v float64) *raster.Grid {
	t.Helper()
	g, err := raster.Constant(raster.Bounds{MinX: 0, MinY: 0, MaxX: 1999, MaxY: 2000}, 1000, v)
	require.NoError(t, err)
	return g
}

func rain(t *testing.T, date time.Time, v float64) raster.Observation {
	return raster.Observation{Date: date, Bands: map[string]*raster.Grid{"precipitation": uniform(t, v)}}
}

func newPipeline(backend *fakeBackend, loaders []pipeline.Loader, policy pipeline.RetryPolicy) (*pipeline.Pipeline, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return pipeline.New(backend, backend, loaders, slog.Default(), metrics, policy), metrics
}

func noWait() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{MaxAttempts: 3, Timeout: time.Second}
}

func precipJob(t *testing.T) pipeline.Job {
	return pipeline.Job{
		Product:    product.Precipitation,
		Windows:    windows(t),
		Polygons:   []raster.Polygon{zone(t, "1")},
		Statistics: domain.AllStatistics(),
		Resolution: 1000,
	}
}

// --- tests ---

func TestPipeline_Run_EmptyMiddleWindow(t *testing.T) {
	backend := &fakeBackend{byStart: map[time.Time][]raster.Observation{
		day(time.January, 1): {
			rain(t, day(time.January, 1), 1),
			rain(t, day(time.January, 3), 1),
		},
		day(time.January, 15): {
			rain(t, day(time.January, 16), 3),
		},
	}}
	var calls []string
	loader := &recordingLoader{name: "file", calls: &calls}
	p, metrics := newPipeline(backend, []pipeline.Loader{loader}, noWait())

	require.Error(t, p.CheckReadiness(context.Background()))

	tables, err := p.Run(context.Background(), precipJob(t))
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, tables, loader.got)
	require.NoError(t, p.CheckReadiness(context.Background()))

	tbl := tables[0]
	require.Len(t, tbl.Values, 3)

	cell := func(row int, col string) float64 { return cellOf(t, tbl, row, col) }

	assert.Equal(t, 4.0, cell(0, "COUNT"))
	assert.Equal(t, 8.0, cell(0, "SUM"))
	assert.Equal(t, 2.0, cell(0, "MEAN"))

	// Window 2 had no observations: the zero raster covers the polygon.
	assert.Equal(t, 4.0, cell(1, "COUNT"))
	assert.Equal(t, 0.0, cell(1, "SUM"))
	assert.Equal(t, 0.0, cell(1, "MEAN"))
	assert.Equal(t, 0.0, cell(1, "STD"))
	assert.Equal(t, 0.0, cell(1, "VARIANCE"))

	assert.Equal(t, pipeline.Progress{
		Product: "precipitation", WindowsTotal: 3, WindowsDone: 3, CurrentWeek: 3, Finished: true,
	}, p.Progress())

	assert.Equal(t, 12.0, cell(2, "SUM"))
	assert.Equal(t, 3.0, cell(2, "MODE"))

	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.WindowsProcessed), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.EmptyWindows.WithLabelValues("precipitation")), 0)

	wantQuery := pipeline.Query{
		Collection: "UCSB-CHG/CHIRPS/DAILY",
		Bounds:     raster.Bounds{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000},
		Start:      day(time.January, 15),
		End:        day(time.January, 22),
		Bands:      []string{"precipitation"},
	}
	if diff := cmp.Diff(wantQuery, backend.queries[2]); diff != "" {
		t.Fatalf("last query mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Run_LSTSubVariables(t *testing.T) {
	lst := func(date time.Time, dayRaw, nightRaw float64) raster.Observation {
		return raster.Observation{Date: date, Bands: map[string]*raster.Grid{
			"LST_Day_1km":   uniform(t, dayRaw),
			"QC_Day":        uniform(t, 0),
			"LST_Night_1km": uniform(t, nightRaw),
			"QC_Night":      uniform(t, 0),
		}}
	}
	backend := &fakeBackend{byStart: map[time.Time][]raster.Observation{
		day(time.January, 1): {lst(day(time.January, 2), 15000, 14000)},
		day(time.January, 8): {lst(day(time.January, 9), 15000, 14000)},
	}}
	p, metrics := newPipeline(backend, nil, noWait())

	job := precipJob(t)
	job.Product = product.LST
	job.Statistics = []domain.Statistic{domain.Count, domain.Median}

	tables, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	tbl := tables[0]
	assert.Equal(t, []string{"DAY_COUNT", "DAY_MEDIAN", "NIGHT_COUNT", "NIGHT_MEDIAN"}, tbl.ColumnNames())
	assert.InDelta(t, 26.85, tbl.Values[1][1], 1e-9)
	assert.InDelta(t, 6.85, tbl.Values[1][3], 1e-9)
	assert.Len(t, backend.queries, 6)
	assert.Equal(t, []string{"LST_Night_1km", "QC_Night"}, backend.queries[1].Bands)

	// Week 3 had no observations for either sub-variable.
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.EmptyWindows.WithLabelValues("day")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.EmptyWindows.WithLabelValues("night")), 0)
}

func TestPipeline_Run_MultiplePolygons(t *testing.T) {
	backend := &fakeBackend{}
	p, _ := newPipeline(backend, nil, noWait())

	job := precipJob(t)
	job.Polygons = []raster.Polygon{zone(t, "a"), zone(t, "b")}

	tables, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "a", tables[0].PolygonID)
	assert.Equal(t, "b", tables[1].PolygonID)
}

func TestPipeline_Run_RetriesTransientFailures(t *testing.T) {
	fakeClock := clockwork.NewFakeClock()
	backend := &fakeBackend{queryErrs: []error{errors.New("503"), errors.New("connection reset")}}
	policy := pipeline.RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Clock:          fakeClock,
	}
	p, metrics := newPipeline(backend, nil, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, precipJob(t))
		done <- err
	}()

	for range 2 {
		require.NoError(t, fakeClock.BlockUntilContext(ctx, 1))
		fakeClock.Advance(10 * time.Second)
	}

	require.NoError(t, <-done)
	assert.Len(t, backend.queries, 5)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.BackendRequests.WithLabelValues("query", "retry")), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.BackendRequests.WithLabelValues("query", "success")), 0)
}

func TestPipeline_Run_ExhaustedRetries(t *testing.T) {
	boom := errors.New("backend unavailable")
	backend := &fakeBackend{reduceErrs: []error{boom, boom, boom, boom}}
	var calls []string
	loader := &recordingLoader{name: "file", calls: &calls}
	p, _ := newPipeline(backend, []pipeline.Loader{loader}, noWait())

	_, err := p.Run(context.Background(), precipJob(t))
	require.ErrorIs(t, err, domain.ErrAggregation)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")
	assert.Equal(t, 3, backend.reduces)
	assert.Empty(t, calls, "nothing is written after a failed run")
	assert.False(t, p.Progress().Finished)
	assert.Equal(t, 0, p.Progress().WindowsDone)
}

func TestPipeline_Run_PermanentErrorIsNotRetried(t *testing.T) {
	backend := &fakeBackend{reduceErrs: []error{
		errors.Join(domain.ErrPermanent, errors.New("polygon outside coverage")),
	}}
	p, metrics := newPipeline(backend, nil, noWait())

	_, err := p.Run(context.Background(), precipJob(t))
	require.ErrorIs(t, err, domain.ErrAggregation)
	require.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, 1, backend.reduces)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.BackendRequests.WithLabelValues("reduce", "retry")), 0)
}

func TestPipeline_Run_ShapeMismatch(t *testing.T) {
	backend := &fakeBackend{dropOne: true}
	var calls []string
	loader := &recordingLoader{name: "file", calls: &calls}
	p, _ := newPipeline(backend, []pipeline.Loader{loader}, noWait())

	_, err := p.Run(context.Background(), precipJob(t))
	require.ErrorIs(t, err, domain.ErrShapeMismatch)
	assert.Empty(t, calls)
}

func TestPipeline_Run_LoadersRunInOrderAndStopOnError(t *testing.T) {
	var calls []string
	file := &recordingLoader{name: "file", calls: &calls, err: errors.New("disk full")}
	kafka := &recordingLoader{name: "kafka", calls: &calls}
	p, _ := newPipeline(&fakeBackend{}, []pipeline.Loader{file, kafka}, noWait())

	_, err := p.Run(context.Background(), precipJob(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"file"}, calls)
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	p, _ := newPipeline(&fakeBackend{}, nil, noWait())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, precipJob(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_Run_InvalidJob(t *testing.T) {
	p, _ := newPipeline(&fakeBackend{}, nil, noWait())

	job := precipJob(t)
	job.Polygons = []raster.Polygon{zone(t, "dup"), zone(t, "dup")}
	_, err := p.Run(context.Background(), job)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	job = precipJob(t)
	job.Resolution = 0
	_, err = p.Run(context.Background(), job)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipeline_NullsSurviveAssembly(t *testing.T) {
	masked := uniform(t, math.NaN())
	backend := &fakeBackend{byStart: map[time.Time][]raster.Observation{
		day(time.January, 8): {{Date: day(time.January, 9), Bands: map[string]*raster.Grid{"precipitation": masked}}},
	}}
	p, _ := newPipeline(backend, nil, noWait())

	tables, err := p.Run(context.Background(), precipJob(t))
	require.NoError(t, err)

	assert.True(t, domain.IsNull(cellOf(t, tables[0], 1, "MEAN")))
	assert.Equal(t, 0.0, cellOf(t, tables[0], 1, "COUNT"))
}

func TestPipeline_Run_DropsObservationsOutsideWindow(t *testing.T) {
	backend := &fakeBackend{byStart: map[time.Time][]raster.Observation{
		day(time.January, 1): {rain(t, day(time.January, 2), 1)},
		// A source ignoring the range returns the next week's day.
		day(time.January, 8): {rain(t, day(time.January, 15), 5)},
	}}
	p, metrics := newPipeline(backend, nil, noWait())

	tables, err := p.Run(context.Background(), precipJob(t))
	require.NoError(t, err)
	assert.Equal(t, 4.0, cellOf(t, tables[0], 0, "SUM"))
	assert.Equal(t, 0.0, cellOf(t, tables[0], 1, "SUM"))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.EmptyWindows.WithLabelValues("precipitation")), 0)
}

func TestPipeline_Run_FailedLoaderLeavesNoOutputFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "PRECIPITATION_2024.xlsx")
	metrics := observability.NewMetricsForTesting()
	writer, err := sheet.NewWriter(out, slog.Default(), metrics)
	require.NoError(t, err)

	var calls []string
	broker := &recordingLoader{name: "kafka", calls: &calls, err: errors.New("broker down")}
	p := pipeline.New(&fakeBackend{}, &fakeBackend{}, []pipeline.Loader{writer, broker}, slog.Default(), metrics, noWait())

	_, err = p.Run(context.Background(), precipJob(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{"kafka"}, calls)

	_, statErr := os.Stat(out)
	require.ErrorIs(t, statErr, fs.ErrNotExist)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files are removed")
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.TablesWritten), 0)
}

func TestPipeline_Run_StagedOutputCommittedAfterLoaders(t *testing.T) {
	out := filepath.Join(t.TempDir(), "PRECIPITATION_2024.xlsx")
	metrics := observability.NewMetricsForTesting()
	writer, err := sheet.NewWriter(out, slog.Default(), metrics)
	require.NoError(t, err)

	var calls []string
	broker := &recordingLoader{name: "kafka", calls: &calls}
	p := pipeline.New(&fakeBackend{}, &fakeBackend{}, []pipeline.Loader{writer, broker}, slog.Default(), metrics, noWait())

	tables, err := p.Run(context.Background(), precipJob(t))
	require.NoError(t, err)
	assert.Equal(t, tables, broker.got)
	assert.FileExists(t, out)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.TablesWritten), 0)
}

// cellOf returns the value of the named column in row.
func cellOf(t *testing.T, tbl domain.Table, row int, col string) float64 {
	t.Helper()
	for j, name := range tbl.ColumnNames() {
		if name == col {
			return tbl.Values[row][j]
		}
	}
	t.Fatalf("no column %q in %v", col, tbl.ColumnNames())
	return 0
}
