package product

import (
	"fmt"

	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// Aggregate combines the observations of one window into a single raster for
// sv. With no observations it returns a constant zero raster over bounds and
// empty=true; the zero raster is a deliberate "no data means zero" policy.
func (p Product) Aggregate(obs []raster.Observation, sv SubVariable, bounds raster.Bounds, resolution float64) (*raster.Grid, bool, error) {
	if len(obs) == 0 {
		g, err := raster.Constant(bounds, resolution, 0)
		if err != nil {
			return nil, true, fmt.Errorf("zero raster for %s%s: %w", sv.Prefix, sv.Band, err)
		}
		return g, true, nil
	}

	layers := make([]*raster.Grid, 0, len(obs))
	for _, o := range obs {
		g, err := p.prepare(o, sv)
		if err != nil {
			return nil, false, err
		}
		layers = append(layers, g)
	}

	out, err := raster.Composite(p.Rule, layers)
	if err != nil {
		return nil, false, fmt.Errorf("composite %s: %w", sv.Band, err)
	}
	return out, false, nil
}

// prepare masks and converts one day's value band.
func (p Product) prepare(o raster.Observation, sv SubVariable) (*raster.Grid, error) {
	g, err := o.Band(sv.Band)
	if err != nil {
		return nil, err
	}
	if p.HasFill {
		g = raster.MaskEqual(g, p.FillValue)
	}
	if sv.QCBand != "" {
		qc, err := o.Band(sv.QCBand)
		if err != nil {
			return nil, err
		}
		if g, err = raster.MaskQC(g, qc, p.QCBits); err != nil {
			return nil, fmt.Errorf("mask %s on %s: %w", sv.Band, o.Date.Format("2006-01-02"), err)
		}
	}
	if p.Convert {
		g = raster.Scale(g, p.Scale, p.Offset)
	}
	return g, nil
}
