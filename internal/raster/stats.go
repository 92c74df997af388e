package raster

import (
	"math"
	"sort"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

// samples is the sorted multiset of valid values sampled inside one polygon.
type samples struct {
	sorted []float64
	sum    float64
}

func newSamples(values []float64) *samples {
	sort.Float64s(values)
	s := &samples{sorted: values}
	for _, v := range values {
		s.sum += v
	}
	return s
}

func (s *samples) n() int { return len(s.sorted) }

func (s *samples) mean() float64 { return s.sum / float64(s.n()) }

// variance is the population variance.
func (s *samples) variance() float64 {
	m := s.mean()
	acc := 0.0
	for _, v := range s.sorted {
		d := v - m
		acc += d * d
	}
	return acc / float64(s.n())
}

// reducers maps every statistic to its reduction. The array length is the
// size of the enumeration, so a new statistic without an entry leaves a nil
// slot that the dispatch test catches.
var reducers = [domain.NumStatistics]func(*samples) float64{
	domain.Count:    func(s *samples) float64 { return float64(s.n()) },
	domain.Minimum:  nonEmpty(func(s *samples) float64 { return s.sorted[0] }),
	domain.Mean:     nonEmpty((*samples).mean),
	domain.Maximum:  nonEmpty(func(s *samples) float64 { return s.sorted[s.n()-1] }),
	domain.Median:   nonEmpty(func(s *samples) float64 { return median(s.sorted) }),
	domain.Mode:     nonEmpty(func(s *samples) float64 { return mode(s.sorted) }),
	domain.Std:      nonEmpty(func(s *samples) float64 { return math.Sqrt(s.variance()) }),
	domain.Sum:      func(s *samples) float64 { return s.sum },
	domain.Variance: nonEmpty((*samples).variance),
}

// nonEmpty yields NaN for an empty sample set instead of calling f.
func nonEmpty(f func(*samples) float64) func(*samples) float64 {
	return func(s *samples) float64 {
		if s.n() == 0 {
			return math.NaN()
		}
		return f(s)
	}
}

// median of a sorted, non-empty slice; even counts average the middle pair.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode of a sorted, non-empty slice; ties resolve to the smallest value.
func mode(sorted []float64) float64 {
	best, bestRun := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestRun {
			best, bestRun = sorted[i], j-i
		}
		i = j
	}
	return best
}
