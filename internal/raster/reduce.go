package raster

import (
	"fmt"
	"math"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

// maxLatticePoints bounds the samples drawn for a single polygon.
const maxLatticePoints = 50_000_000

// ZonalValue is one statistic for one polygon.
type ZonalValue struct {
	PolygonID string
	Statistic domain.Statistic
	Value     float64
}

// ReduceZonal computes the requested statistics for every polygon. Samples
// are taken at the centres of resolution-sized cells aligned to the CRS
// origin; a sample contributes when it falls inside the polygon and on an
// unmasked grid cell. Results are ordered polygon-major, then by stats.
func ReduceZonal(g *Grid, polygons []Polygon, stats []domain.Statistic, resolution float64) ([]ZonalValue, error) {
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("%w: resolution must be positive, got %g", domain.ErrPermanent, resolution)
	}
	for _, s := range stats {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown statistic %d", domain.ErrPermanent, int(s))
		}
	}

	coverage := g.Bounds()
	out := make([]ZonalValue, 0, len(polygons)*len(stats))
	for _, p := range polygons {
		b := p.Bounds()
		if !b.Intersects(coverage) {
			return nil, fmt.Errorf("%w: polygon %q %s lies outside data coverage %s",
				domain.ErrPermanent, p.ID, b, coverage)
		}

		values, err := sampleLattice(g, p, resolution)
		if err != nil {
			return nil, err
		}
		set := newSamples(values)
		for _, s := range stats {
			out = append(out, ZonalValue{PolygonID: p.ID, Statistic: s, Value: reducers[s](set)})
		}
	}
	return out, nil
}

// sampleLattice collects the valid grid values at lattice points inside p.
func sampleLattice(g *Grid, p Polygon, resolution float64) ([]float64, error) {
	b := p.Bounds()
	kx0, kx1 := latticeRange(b.MinX, b.MaxX, resolution)
	ky0, ky1 := latticeRange(b.MinY, b.MaxY, resolution)
	if kx1 < kx0 || ky1 < ky0 {
		return nil, nil
	}
	if n := (kx1 - kx0 + 1) * (ky1 - ky0 + 1); n > maxLatticePoints {
		return nil, fmt.Errorf("%w: polygon %q needs %d samples at resolution %g",
			domain.ErrPermanent, p.ID, n, resolution)
	}

	var values []float64
	for ky := ky1; ky >= ky0; ky-- {
		y := (float64(ky) + 0.5) * resolution
		for kx := kx0; kx <= kx1; kx++ {
			x := (float64(kx) + 0.5) * resolution
			if !p.Contains(x, y) {
				continue
			}
			if v, ok := g.Sample(x, y); ok {
				values = append(values, v)
			}
		}
	}
	return values, nil
}

// latticeRange returns the first and last k with (k+0.5)*res in [lo, hi].
func latticeRange(lo, hi, res float64) (int64, int64) {
	return int64(math.Ceil(lo/res - 0.5)), int64(math.Floor(hi/res - 0.5))
}
