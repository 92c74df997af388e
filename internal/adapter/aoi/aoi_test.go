package aoi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

const santaMarta = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"gid": 1},
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2000,0],[2000,2000],[0,2000],[0,0]]]}
    },
    {
      "type": "Feature",
      "id": "rodadero",
      "properties": {"gid": 2},
      "geometry": {"type": "MultiPolygon", "coordinates": [
        [[[3000,0],[4000,0],[4000,1000],[3000,1000],[3000,0]]],
        [[[5000,0],[6000,0],[6000,1000],[5000,1000],[5000,0]]]
      ]}
    },
    {
      "type": "Feature",
      "properties": {},
      "geometry": {"type": "Polygon", "coordinates": [[[0,3000],[1000,3000],[1000,4000],[0,3000]]]}
    }
  ]
}`

func TestDecode(t *testing.T) {
	polygons, err := Decode(strings.NewReader(santaMarta))
	require.NoError(t, err)
	require.Len(t, polygons, 3)

	assert.Equal(t, "1", polygons[0].ID)
	assert.Equal(t, "rodadero", polygons[1].ID)
	assert.Equal(t, "3", polygons[2].ID)

	assert.Equal(t, raster.Bounds{MinX: 3000, MinY: 0, MaxX: 6000, MaxY: 1000}, polygons[1].Bounds())
	assert.True(t, polygons[1].Contains(5500, 500))
	assert.Equal(t, raster.Bounds{MinX: 0, MinY: 0, MaxX: 6000, MaxY: 4000}, raster.BoundsOf(polygons))
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":  `{`,
		"empty":     `{"type":"FeatureCollection","features":[]}`,
		"duplicate": `{"type":"FeatureCollection","features":[{"type":"Feature","id":"a","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{}},{"type":"Feature","id":"a","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{}}]}`,
		"point":     `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(body))
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(santaMarta), 0o644))

	polygons, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, polygons, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.geojson"))
	require.Error(t, err)
}
