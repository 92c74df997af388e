package raster

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// Polygon is one study-area zone. Geometry is always a multipolygon so that
// single and multi-part features share one containment path.
type Polygon struct {
	ID       string
	Geometry *geom.MultiPolygon
}

// NewPolygon wraps a *geom.Polygon or *geom.MultiPolygon and validates its
// rings.
func NewPolygon(id string, g geom.T) (Polygon, error) {
	var mp *geom.MultiPolygon
	switch g := g.(type) {
	case *geom.Polygon:
		mp = geom.NewMultiPolygon(g.Layout())
		if err := mp.Push(g); err != nil {
			return Polygon{}, fmt.Errorf("polygon %q: %w", id, err)
		}
	case *geom.MultiPolygon:
		mp = g
	default:
		return Polygon{}, fmt.Errorf("polygon %q: unsupported geometry %T", id, g)
	}

	if mp.NumPolygons() == 0 {
		return Polygon{}, fmt.Errorf("polygon %q: empty geometry", id)
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 0 {
			return Polygon{}, fmt.Errorf("polygon %q part %d: no rings", id, i)
		}
		for j := 0; j < p.NumLinearRings(); j++ {
			if err := checkRing(p.LinearRing(j)); err != nil {
				return Polygon{}, fmt.Errorf("polygon %q part %d ring %d: %w", id, i, j, err)
			}
		}
	}
	return Polygon{ID: id, Geometry: mp}, nil
}

// checkRing requires a closed ring with at least three distinct vertices.
func checkRing(r *geom.LinearRing) error {
	n := r.NumCoords()
	if n < 4 {
		return fmt.Errorf("ring has %d coordinates", n)
	}
	first, last := r.Coord(0), r.Coord(n-1)
	if first.X() != last.X() || first.Y() != last.Y() {
		return fmt.Errorf("ring is not closed")
	}
	distinct := make(map[[2]float64]struct{}, n)
	for i := 0; i < n; i++ {
		c := r.Coord(i)
		distinct[[2]float64{c.X(), c.Y()}] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("ring has %d distinct vertices", len(distinct))
	}
	return nil
}

// Bounds returns the polygon's bounding box.
func (p Polygon) Bounds() Bounds {
	b := p.Geometry.Bounds()
	return Bounds{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Contains reports whether (x, y) lies inside or on the boundary of an outer
// ring and not strictly inside one of that part's holes.
func (p Polygon) Contains(x, y float64) bool {
	layout := p.Geometry.Layout()
	pt := geom.Coord{x, y}
	for i := 0; i < p.Geometry.NumPolygons(); i++ {
		part := p.Geometry.Polygon(i)
		if !xy.IsPointInRing(layout, pt, part.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for j := 1; j < part.NumLinearRings(); j++ {
			if xy.LocatePointInRing(layout, pt, part.LinearRing(j).FlatCoords()) == location.Interior {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// BoundsOf returns the union of the polygons' bounding boxes.
func BoundsOf(polygons []Polygon) Bounds {
	var b Bounds
	for i, p := range polygons {
		if i == 0 {
			b = p.Bounds()
			continue
		}
		b = b.Union(p.Bounds())
	}
	return b
}
