// Package archive is a local observation backend: daily single-band TIFF
// rasters with world files, laid out per collection and band.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
	"github.com/couchcryptid/epiweek-climate-etl/internal/pipeline"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

const dayLayout = "20060102"

// A Store serves observations from fsys. The file for one band of one day
// is <collection>/<YYYYMMDD>_<band>.tif, where the collection id's slashes
// are directory separators.
type Store struct {
	fsys       fs.FS
	logger     *slog.Logger
	metrics    *observability.Metrics
	cacheSize  int
	bandScales map[string]float64
	noData     *float64
	cache      *lru.Cache[string, *raster.Grid]
}

// An Option sets an option on a Store.
type Option func(*Store)

// WithCacheSize sets how many decoded rasters are kept.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		s.cacheSize = n
	}
}

// WithBandScale multiplies every stored value of band by scale, for bands
// archived as scaled integers.
func WithBandScale(band string, scale float64) Option {
	return func(s *Store) {
		s.bandScales[band] = scale
	}
}

// WithNoData masks stored pixels equal to raw.
func WithNoData(raw float64) Option {
	return func(s *Store) {
		s.noData = &raw
	}
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New returns a Store reading from fsys.
func New(fsys fs.FS, logger *slog.Logger, options ...Option) (*Store, error) {
	s := &Store{
		fsys:       fsys,
		logger:     logger,
		cacheSize:  64,
		bandScales: make(map[string]float64),
	}
	for _, option := range options {
		option(s)
	}

	var err error
	s.cache, err = lru.New[string, *raster.Grid](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("raster cache: %w", err)
	}
	return s, nil
}

// QueryObservations returns one observation per day in [q.Start, q.End) for
// which every requested band is archived and whose extent intersects
// q.Bounds. A day with only some of the bands is an error.
func (s *Store) QueryObservations(ctx context.Context, q pipeline.Query) ([]raster.Observation, error) {
	if len(q.Bands) == 0 {
		return nil, fmt.Errorf("%w: query without bands", domain.ErrPermanent)
	}

	var out []raster.Observation
	for day := domain.CalendarDay(q.Start); day.Before(q.End); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		names := make([]string, len(q.Bands))
		present := 0
		for i, band := range q.Bands {
			names[i] = s.filename(q.Collection, day.Format(dayLayout), band)
			if _, err := fs.Stat(s.fsys, names[i]); err == nil {
				present++
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("stat %s: %w", names[i], err)
			}
		}
		if present == 0 {
			continue
		}
		if present < len(q.Bands) {
			return nil, fmt.Errorf("%w: %s on %s has %d of %d bands",
				domain.ErrPermanent, q.Collection, domain.FormatDay(day), present, len(q.Bands))
		}

		obs := raster.Observation{Date: day, Bands: make(map[string]*raster.Grid, len(q.Bands))}
		for i, band := range q.Bands {
			g, err := s.load(names[i], band)
			if err != nil {
				return nil, err
			}
			obs.Bands[band] = g
		}
		if !obs.Bands[q.Bands[0]].Bounds().Intersects(q.Bounds) {
			continue
		}
		out = append(out, obs)
	}

	s.logger.Debug("archive query",
		"collection", q.Collection,
		"start", domain.FormatDay(q.Start),
		"end", domain.FormatDay(q.End),
		"observations", len(out),
	)
	return out, nil
}

// ReduceZonal reduces in process.
func (s *Store) ReduceZonal(ctx context.Context, g *raster.Grid, polygons []raster.Polygon, stats []domain.Statistic, resolution float64) ([]raster.ZonalValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return raster.ReduceZonal(g, polygons, stats, resolution)
}

func (s *Store) filename(collection, day, band string) string {
	return path.Join(strings.Trim(collection, "/"), day+"_"+band+".tif")
}

// load returns the decoded raster for name, from cache when possible.
func (s *Store) load(name, band string) (*raster.Grid, error) {
	if g, ok := s.cache.Get(name); ok {
		s.recordCache("hit")
		return g, nil
	}
	s.recordCache("miss")

	scale := 1.0
	if v, ok := s.bandScales[band]; ok {
		scale = v
	}
	g, err := readRaster(s.fsys, name, scale, s.noData)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPermanent, name, err)
	}
	s.cache.Add(name, g)
	return g, nil
}

func (s *Store) recordCache(result string) {
	if s.metrics != nil {
		s.metrics.RasterCache.WithLabelValues(result).Inc()
	}
}
