package geoapi

import (
	"fmt"
	"math"
	"time"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// Wire types for the geoapi JSON protocol. Masked pixels and missing
// statistics travel as null.

type gridJSON struct {
	OriginX  float64    `json:"origin_x"`
	OriginY  float64    `json:"origin_y"`
	CellSize float64    `json:"cell_size"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Values   []*float64 `json:"values"`
}

type observationJSON struct {
	Date  string              `json:"date"`
	Bands map[string]gridJSON `json:"bands"`
}

type observationsResponse struct {
	Observations []observationJSON `json:"observations"`
}

type zoneJSON struct {
	ID       string            `json:"id"`
	Geometry *geojson.Geometry `json:"geometry"`
}

type reduceRequest struct {
	Grid       gridJSON           `json:"grid"`
	Zones      []zoneJSON         `json:"zones"`
	Statistics []domain.Statistic `json:"statistics"`
	Resolution float64            `json:"resolution"`
}

type resultJSON struct {
	ZoneID    string           `json:"zone_id"`
	Statistic domain.Statistic `json:"statistic"`
	Value     *float64         `json:"value"`
}

type reduceResponse struct {
	Results []resultJSON `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func encodeGrid(g *raster.Grid) gridJSON {
	values := make([]*float64, len(g.Values))
	for i, v := range g.Values {
		if !math.IsNaN(v) {
			values[i] = &v
		}
	}
	return gridJSON{
		OriginX:  g.OriginX,
		OriginY:  g.OriginY,
		CellSize: g.CellSize,
		Width:    g.Width,
		Height:   g.Height,
		Values:   values,
	}
}

func decodeGrid(j gridJSON) (*raster.Grid, error) {
	g, err := raster.NewGrid(j.OriginX, j.OriginY, j.CellSize, j.Width, j.Height)
	if err != nil {
		return nil, err
	}
	if len(j.Values) != len(g.Values) {
		return nil, fmt.Errorf("grid %dx%d carries %d values", j.Width, j.Height, len(j.Values))
	}
	for i, v := range j.Values {
		if v != nil {
			g.Values[i] = *v
		}
	}
	return g, nil
}

func decodeObservation(j observationJSON) (raster.Observation, error) {
	date, err := time.Parse(time.DateOnly, j.Date)
	if err != nil {
		return raster.Observation{}, fmt.Errorf("observation date %q: %w", j.Date, err)
	}
	obs := raster.Observation{Date: date, Bands: make(map[string]*raster.Grid, len(j.Bands))}
	for name, band := range j.Bands {
		g, err := decodeGrid(band)
		if err != nil {
			return raster.Observation{}, fmt.Errorf("observation %s band %s: %w", j.Date, name, err)
		}
		obs.Bands[name] = g
	}
	return obs, nil
}

func encodeZones(polygons []raster.Polygon) ([]zoneJSON, error) {
	zones := make([]zoneJSON, len(polygons))
	for i, p := range polygons {
		g, err := geojson.Encode(p.Geometry)
		if err != nil {
			return nil, fmt.Errorf("encode polygon %q: %w", p.ID, err)
		}
		zones[i] = zoneJSON{ID: p.ID, Geometry: g}
	}
	return zones, nil
}

func (r resultJSON) value() float64 {
	if r.Value == nil {
		return math.NaN()
	}
	return *r.Value
}
