// Package domain models epidemiological-week climate statistics.
//
// # Epidemiological Weeks
//
// Public-health surveillance reports cases per epidemiological week ("semana
// epidemiológica", SE). Each week starts on a Sunday and is numbered within
// its epidemiological year. The input week table carries three columns:
//
//	year       epidemiological year, e.g. 2024
//	se         week number within the year, 1..53
//	fecha_ini  first day of the week
//
// Week 1 ends on the first Saturday of January when that Saturday falls on
// or after January 4th; otherwise it ends on the following Saturday. See
// [EpiWeeks].
//
// # Windows
//
// Each week becomes a half-open date window [start, end). The end of week i
// is the start of week i+1. The last week has no successor, so its end is
// synthesized as start + 7 days. This keeps compatibility with tables that
// contain a single year, at the cost of a wrong boundary when the last row
// is not a 7-day week. See [BuildWindows].
//
// # Statistics
//
// Zonal results are one scalar per (week, sub-variable, polygon, statistic).
// The statistic enumeration is closed and ordered:
//
//	COUNT MINIMUM MEAN MAXIMUM MEDIAN MODE STD SUM VARIANCE
//
// Column order in output tables follows this enumeration, with sub-variable
// prefixes (e.g. "DAY_", "NIGHT_") applied in product order.
//
// # Empty Windows
//
// A window with no source observations is reduced over a constant-zero
// raster instead of producing nulls. COUNT still reports the number of
// sampled cells while SUM, MEAN, STD and VARIANCE are 0.
//
// # Errors
//
// [ErrInvalidInput], [ErrAggregation] and [ErrShapeMismatch] abort a run.
// [ErrPermanent] marks backend failures that must not be retried.
package domain
