// Package aoi loads the study-area polygons from a GeoJSON FeatureCollection.
package aoi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// idProperty is consulted when a feature has no top-level id.
const idProperty = "gid"

// Load reads the polygons of the FeatureCollection in path.
func Load(path string) ([]raster.Polygon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open aoi: %w", err)
	}
	defer f.Close()

	polygons, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return polygons, nil
}

// Decode parses a FeatureCollection of Polygon and MultiPolygon features.
// A feature's id is its top-level id, else its "gid" property, else its
// 1-based position.
func Decode(r io.Reader) ([]raster.Polygon, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("%w: decode feature collection: %w", domain.ErrInvalidInput, err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("%w: feature collection is empty", domain.ErrInvalidInput)
	}

	polygons := make([]raster.Polygon, 0, len(fc.Features))
	seen := make(map[string]int, len(fc.Features))
	for i, f := range fc.Features {
		id := featureID(f, i)
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: features %d and %d share id %q", domain.ErrInvalidInput, prev+1, i+1, id)
		}
		seen[id] = i

		if f.Geometry == nil {
			return nil, fmt.Errorf("%w: feature %q has no geometry", domain.ErrInvalidInput, id)
		}
		p, err := raster.NewPolygon(id, f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		polygons = append(polygons, p)
	}
	return polygons, nil
}

func featureID(f *geojson.Feature, i int) string {
	if f.ID != "" {
		return f.ID
	}
	switch v := f.Properties[idProperty].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.Itoa(i + 1)
}
