package domain

import (
	"fmt"
	"math"
	"time"
)

// Table is the assembled output for one polygon: one row per window, one
// column per (prefix, statistic). Values holds NaN for null cells.
type Table struct {
	Product     string
	PolygonID   string
	Windows     []Window
	Columns     []Column
	Values      [][]float64
	GeneratedAt time.Time
}

// ColumnNames returns the headers in column order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name()
	}
	return names
}

// AssembleTable pivots the records of one polygon into a table. Every
// (window, column) cell must be filled exactly once; anything else is an
// ErrShapeMismatch, never a silent truncation.
func AssembleTable(product, polygonID string, windows []Window, columns []Column, records []ZonalRecord) (Table, error) {
	if len(windows) == 0 || len(columns) == 0 {
		return Table{}, fmt.Errorf("%w: table needs at least one window and one column", ErrInvalidInput)
	}

	want := len(windows) * len(columns)
	if len(records) != want {
		return Table{}, fmt.Errorf("%w: polygon %q has %d results, want %d (%d windows x %d columns)",
			ErrShapeMismatch, polygonID, len(records), want, len(windows), len(columns))
	}

	colIndex := make(map[Column]int, len(columns))
	for j, c := range columns {
		colIndex[c] = j
	}

	values := make([][]float64, len(windows))
	filled := make([][]bool, len(windows))
	for i := range values {
		values[i] = make([]float64, len(columns))
		filled[i] = make([]bool, len(columns))
	}

	for _, r := range records {
		if r.PolygonID != polygonID {
			return Table{}, fmt.Errorf("%w: record for polygon %q in table for %q", ErrShapeMismatch, r.PolygonID, polygonID)
		}
		if r.Window < 0 || r.Window >= len(windows) {
			return Table{}, fmt.Errorf("%w: record references window %d of %d", ErrShapeMismatch, r.Window, len(windows))
		}
		j, ok := colIndex[Column{Prefix: r.Prefix, Statistic: r.Statistic}]
		if !ok {
			return Table{}, fmt.Errorf("%w: unexpected column %s", ErrShapeMismatch, r.Prefix+r.Statistic.String())
		}
		if filled[r.Window][j] {
			return Table{}, fmt.Errorf("%w: duplicate %s for %s", ErrShapeMismatch, columns[j].Name(), windows[r.Window])
		}
		values[r.Window][j] = r.Value
		filled[r.Window][j] = true
	}

	return Table{
		Product:     product,
		PolygonID:   polygonID,
		Windows:     windows,
		Columns:     columns,
		Values:      values,
		GeneratedAt: clock.Now().UTC(),
	}, nil
}

// IsNull reports whether v represents a missing value.
func IsNull(v float64) bool {
	return math.IsNaN(v)
}
