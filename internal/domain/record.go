package domain

// ZonalRecord is one reduced value, keyed by everything needed to place it
// in an output table without relying on call order.
type ZonalRecord struct {
	Window    int // index into the run's window slice
	Prefix    string
	PolygonID string
	Statistic Statistic
	Value     float64 // NaN when the backend produced no value
}

// Column is one output column: a sub-variable prefix and a statistic.
type Column struct {
	Prefix    string
	Statistic Statistic
}

// Name returns the column header, e.g. "DAY_MEAN" or "SUM".
func (c Column) Name() string {
	return c.Prefix + c.Statistic.String()
}

// Columns lays out output columns prefix-major: every statistic of the first
// sub-variable, then every statistic of the next.
func Columns(prefixes []string, stats []Statistic) []Column {
	cols := make([]Column, 0, len(prefixes)*len(stats))
	for _, p := range prefixes {
		for _, s := range stats {
			cols = append(cols, Column{Prefix: p, Statistic: s})
		}
	}
	return cols
}
