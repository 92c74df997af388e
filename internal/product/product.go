// Package product defines the two weather products and folds the daily
// observations of a window into one representative raster.
package product

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// MODIS QC bits 2 and 3 flag a pixel whose LST error exceeds the accepted band.
const lstQCBits uint8 = 1<<2 | 1<<3

// SubVariable is one independently aggregated layer of a product. Its Prefix
// is prepended to every statistic column.
type SubVariable struct {
	Prefix string
	Band   string
	QCBand string
}

// Product describes where a product's observations live and how a window of
// them is combined.
type Product struct {
	Name         string
	Collection   string
	OutputPrefix string
	Rule         raster.Rule
	SubVariables []SubVariable

	// QCBits masks a pixel when any bit is set in the sub-variable's QC band.
	QCBits uint8

	// Convert applies v*Scale + Offset after masking.
	Convert bool
	Scale   float64
	Offset  float64

	// FillValue is the stored no-data marker when HasFill is set.
	HasFill   bool
	FillValue float64
}

// SubVariableName is the lower-case name of sv without its column
// separator, or the product name for an unprefixed sub-variable.
func (p Product) SubVariableName(sv SubVariable) string {
	if sv.Prefix == "" {
		return p.Name
	}
	return strings.ToLower(strings.TrimSuffix(sv.Prefix, "_"))
}

var (
	// Precipitation is CHIRPS daily rainfall in mm, summed per window.
	Precipitation = Product{
		Name:         "precipitation",
		Collection:   "UCSB-CHG/CHIRPS/DAILY",
		OutputPrefix: "PRECIPITATION",
		Rule:         raster.RuleSum,
		SubVariables: []SubVariable{{Prefix: "", Band: "precipitation"}},
	}

	// LST is MOD11A1 day and night land surface temperature in °C, median per
	// window after QC masking.
	LST = Product{
		Name:         "lst",
		Collection:   "MODIS/061/MOD11A1",
		OutputPrefix: "LST_DAY_NIGHT",
		Rule:         raster.RuleMedian,
		SubVariables: []SubVariable{
			{Prefix: "DAY_", Band: "LST_Day_1km", QCBand: "QC_Day"},
			{Prefix: "NIGHT_", Band: "LST_Night_1km", QCBand: "QC_Night"},
		},
		QCBits:    lstQCBits,
		Convert:   true,
		Scale:     0.02,
		Offset:    -273.15,
		HasFill:   true,
		FillValue: 0,
	}
)

// Lookup resolves a product by name.
func Lookup(name string) (Product, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Precipitation.Name:
		return Precipitation, nil
	case LST.Name:
		return LST, nil
	}
	return Product{}, fmt.Errorf("%w: unknown product %q", domain.ErrInvalidInput, name)
}

// Prefixes returns the sub-variable prefixes in column order.
func (p Product) Prefixes() []string {
	out := make([]string, len(p.SubVariables))
	for i, sv := range p.SubVariables {
		out[i] = sv.Prefix
	}
	return out
}

// Bands returns the bands to request for sv.
func (p Product) Bands(sv SubVariable) []string {
	if sv.QCBand == "" {
		return []string{sv.Band}
	}
	return []string{sv.Band, sv.QCBand}
}

// DefaultOutputFile names the output spreadsheet for a year label.
func (p Product) DefaultOutputFile(yearLabel string) string {
	return fmt.Sprintf("%s_%s.xlsx", p.OutputPrefix, yearLabel)
}
