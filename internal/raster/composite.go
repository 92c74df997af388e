package raster

import (
	"fmt"
	"math"
	"sort"
)

// Rule combines the per-day values of one pixel into a single value.
type Rule int

const (
	RuleSum Rule = iota
	RuleMedian
)

func (r Rule) String() string {
	switch r {
	case RuleSum:
		return "SUM"
	case RuleMedian:
		return "MEDIAN"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// Composite reduces a stack of pixel-aligned grids. Each output pixel
// combines only the unmasked inputs at that position; a pixel with no valid
// input stays masked.
func Composite(rule Rule, grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("composite of zero grids")
	}
	for i, g := range grids[1:] {
		if !grids[0].SameGeometry(g) {
			return nil, fmt.Errorf("composite input %d is not aligned with input 0", i+1)
		}
	}

	out := grids[0].Clone()
	scratch := make([]float64, 0, len(grids))
	for p := range out.Values {
		scratch = scratch[:0]
		for _, g := range grids {
			if v := g.Values[p]; !math.IsNaN(v) {
				scratch = append(scratch, v)
			}
		}
		if len(scratch) == 0 {
			out.Values[p] = math.NaN()
			continue
		}
		switch rule {
		case RuleSum:
			s := 0.0
			for _, v := range scratch {
				s += v
			}
			out.Values[p] = s
		case RuleMedian:
			sort.Float64s(scratch)
			out.Values[p] = median(scratch)
		default:
			return nil, fmt.Errorf("unsupported rule %s", rule)
		}
	}
	return out, nil
}

// MaskQC masks every pixel of values whose QC byte has any of bits set, or
// whose QC cell is itself masked.
func MaskQC(values, qc *Grid, bits uint8) (*Grid, error) {
	if !values.SameGeometry(qc) {
		return nil, fmt.Errorf("qc band is not aligned with value band")
	}
	out := values.Clone()
	for p, q := range qc.Values {
		if math.IsNaN(q) || uint8(int64(q))&bits != 0 {
			out.Values[p] = math.NaN()
		}
	}
	return out, nil
}

// MaskEqual masks every pixel equal to fill.
func MaskEqual(g *Grid, fill float64) *Grid {
	out := g.Clone()
	for p, v := range out.Values {
		if v == fill {
			out.Values[p] = math.NaN()
		}
	}
	return out
}

// Scale maps every unmasked pixel to v*scale + offset.
func Scale(g *Grid, scale, offset float64) *Grid {
	out := g.Clone()
	for p, v := range out.Values {
		if !math.IsNaN(v) {
			out.Values[p] = v*scale + offset
		}
	}
	return out
}

// Constant returns a grid of value covering b with one spare cell on the
// right and bottom edges, so every point of b samples a cell.
func Constant(b Bounds, cellSize, value float64) (*Grid, error) {
	if b.Empty() {
		return nil, fmt.Errorf("constant raster over empty bounds %s", b)
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("constant raster with cell size %g", cellSize)
	}
	width := int(math.Floor((b.MaxX-b.MinX)/cellSize)) + 1
	height := int(math.Floor((b.MaxY-b.MinY)/cellSize)) + 1
	g, err := NewGrid(b.MinX, b.MaxY, cellSize, width, height)
	if err != nil {
		return nil, err
	}
	for p := range g.Values {
		g.Values[p] = value
	}
	return g, nil
}
