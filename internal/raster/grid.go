// Package raster holds the georeferenced grid model and the pixel-level
// operations the aggregation pipeline is built from: compositing, quality
// masking, unit conversion and zonal reduction.
package raster

import (
	"fmt"
	"math"
	"time"
)

// geometryTolerance absorbs float noise in origins read from world files.
const geometryTolerance = 1e-9

// Bounds is an axis-aligned extent in CRS units.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Empty reports whether b covers no area.
func (b Bounds) Empty() bool {
	return !(b.MaxX > b.MinX && b.MaxY > b.MinY)
}

// Intersects reports whether b and o share any area or edge.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Union returns the smallest extent covering b and o.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%g %g, %g %g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Grid is a north-up raster with square cells. OriginX/OriginY is the
// top-left corner of the top-left cell; Values is row-major, NaN masked.
type Grid struct {
	OriginX  float64
	OriginY  float64
	CellSize float64
	Width    int
	Height   int
	Values   []float64
}

// NewGrid allocates a fully masked grid.
func NewGrid(originX, originY, cellSize float64, width, height int) (*Grid, error) {
	if cellSize <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d with cell size %g", width, height, cellSize)
	}
	values := make([]float64, width*height)
	for i := range values {
		values[i] = math.NaN()
	}
	return &Grid{
		OriginX:  originX,
		OriginY:  originY,
		CellSize: cellSize,
		Width:    width,
		Height:   height,
		Values:   values,
	}, nil
}

// At returns the value at (col, row).
func (g *Grid) At(col, row int) float64 {
	return g.Values[row*g.Width+col]
}

// Set stores v at (col, row).
func (g *Grid) Set(col, row int, v float64) {
	g.Values[row*g.Width+col] = v
}

// Bounds returns the grid's extent.
func (g *Grid) Bounds() Bounds {
	return Bounds{
		MinX: g.OriginX,
		MinY: g.OriginY - float64(g.Height)*g.CellSize,
		MaxX: g.OriginX + float64(g.Width)*g.CellSize,
		MaxY: g.OriginY,
	}
}

// Sample returns the value of the cell containing (x, y). ok is false when
// the point is off the grid or the cell is masked.
func (g *Grid) Sample(x, y float64) (v float64, ok bool) {
	col := int(math.Floor((x - g.OriginX) / g.CellSize))
	row := int(math.Floor((g.OriginY - y) / g.CellSize))
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return 0, false
	}
	v = g.At(col, row)
	return v, !math.IsNaN(v)
}

// SameGeometry reports whether g and o are pixel-aligned with equal shape.
func (g *Grid) SameGeometry(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height &&
		math.Abs(g.CellSize-o.CellSize) <= geometryTolerance &&
		math.Abs(g.OriginX-o.OriginX) <= geometryTolerance*math.Max(1, math.Abs(g.OriginX)) &&
		math.Abs(g.OriginY-o.OriginY) <= geometryTolerance*math.Max(1, math.Abs(g.OriginY))
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Values = append([]float64(nil), g.Values...)
	return &c
}

// ValidCount returns the number of unmasked cells.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Observation is one acquisition day with its named band grids.
type Observation struct {
	Date  time.Time
	Bands map[string]*Grid
}

// Band returns the named band or an error if the observation lacks it.
func (o Observation) Band(name string) (*Grid, error) {
	g, ok := o.Bands[name]
	if !ok || g == nil {
		return nil, fmt.Errorf("observation %s has no band %q", o.Date.Format(time.DateOnly), name)
	}
	return g, nil
}
