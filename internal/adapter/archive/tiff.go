package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"strconv"
	"strings"

	gtiff "github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"golang.org/x/image/tiff"

	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// georef places a raster: the top-left corner of the top-left pixel and a
// square pixel size.
type georef struct {
	originX, originY, cellSize float64
}

// geoTIFFIFD is the subset of GeoTIFF tags needed to place a raster when no
// world file is present.
type geoTIFFIFD struct {
	ModelPixelScaleTag []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag   []float64 `tiff:"field,tag=33922"`
}

// readRaster decodes an 8- or 16-bit grayscale TIFF into a grid, multiplying
// stored values by scale. Pixels equal to noData are masked.
func readRaster(fsys fs.FS, name string, scale float64, noData *float64) (*raster.Grid, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}

	ref, err := readWorldFile(fsys, worldFileName(name))
	if errors.Is(err, fs.ErrNotExist) {
		ref, err = readGeoTIFFTags(data)
	}
	if err != nil {
		return nil, fmt.Errorf("georeference: %w", err)
	}

	b := img.Bounds()
	g, err := raster.NewGrid(ref.originX, ref.originY, ref.cellSize, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	var sample func(x, y int) float64
	switch img := img.(type) {
	case *image.Gray:
		sample = func(x, y int) float64 { return float64(img.GrayAt(x, y).Y) }
	case *image.Gray16:
		sample = func(x, y int) float64 { return float64(img.Gray16At(x, y).Y) }
	default:
		return nil, fmt.Errorf("unsupported pixel type %T", img)
	}

	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			v := sample(b.Min.X+col, b.Min.Y+row)
			if noData != nil && v == *noData {
				continue
			}
			g.Set(col, row, v*scale)
		}
	}
	return g, nil
}

func worldFileName(name string) string {
	return strings.TrimSuffix(name, ".tif") + ".tfw"
}

// readWorldFile parses the six-line world file format: pixel width, two
// rotation terms, negative pixel height, then the centre of the top-left
// pixel. Rotated or non-square rasters are rejected.
func readWorldFile(fsys fs.FS, name string) (georef, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return georef{}, err
	}

	var terms []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return georef{}, fmt.Errorf("%s: %w", name, err)
		}
		terms = append(terms, v)
	}
	if err := sc.Err(); err != nil {
		return georef{}, err
	}
	if len(terms) != 6 {
		return georef{}, fmt.Errorf("%s: %d terms, want 6", name, len(terms))
	}

	a, d, bb, e, c, f := terms[0], terms[1], terms[2], terms[3], terms[4], terms[5]
	if d != 0 || bb != 0 {
		return georef{}, fmt.Errorf("%s: rotated rasters are not supported", name)
	}
	if a <= 0 || math.Abs(a+e) > 1e-9*a {
		return georef{}, fmt.Errorf("%s: pixel size %g x %g is not square and north-up", name, a, e)
	}
	return georef{originX: c - a/2, originY: f + a/2, cellSize: a}, nil
}

// readGeoTIFFTags reads ModelPixelScale and ModelTiepoint from the first IFD.
func readGeoTIFFTags(data []byte) (georef, error) {
	t, err := gtiff.Parse(bytes.NewReader(data), gtiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return georef{}, err
	}
	if len(t.IFDs()) == 0 {
		return georef{}, errors.New("no IFDs")
	}

	var ifd geoTIFFIFD
	if err := gtiff.UnmarshalIFD(t.IFDs()[0], &ifd); err != nil {
		return georef{}, err
	}
	if len(ifd.ModelPixelScaleTag) < 2 || len(ifd.ModelTiepointTag) != 6 {
		return georef{}, errors.New("missing world file and GeoTIFF model tags")
	}
	sx, sy := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if sx <= 0 || sx != sy {
		return georef{}, fmt.Errorf("pixel scale %g x %g is not square", sx, sy)
	}
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	return georef{originX: x - i*sx, originY: y + j*sy, cellSize: sx}, nil
}
