// Command validate checks an output table against the week table it was
// built from: row alignment, column layout, and internal consistency of the
// statistics in every row.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -weeks data/SE_2024.xlsx \
//	  -output PRECIPITATION_2024.xlsx \
//	  -product precipitation
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/sheet"
	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/product"
)

// tolerance is the relative error allowed between derived statistics.
const tolerance = 1e-6

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	weeksPath := flag.String("weeks", "", "week table the output was built from (.xlsx or .csv)")
	outputPath := flag.String("output", "", "output table to validate (.xlsx or .csv)")
	productName := flag.String("product", product.Precipitation.Name, "product the output holds: precipitation or lst")
	statistics := flag.String("statistics", "", "comma-separated statistics the run selected (default all)")
	flag.Parse()

	if *weeksPath == "" || *outputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*weeksPath, *outputPath, *productName, *statistics); code != 0 {
		os.Exit(code)
	}
}

func run(weeksPath, outputPath, productName, statistics string) int {
	fmt.Println("=== Epidemiological Week Output Validation ===")
	fmt.Println()

	prod, err := product.Lookup(productName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	stats := domain.AllStatistics()
	if statistics != "" {
		if stats, err = domain.ParseStatistics(statistics); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
	}

	weeks, err := sheet.ReadWeeks(weeksPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load weeks: %v\n", err)
		return 1
	}
	tables, err := sheet.ReadTables(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load output: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateWeekAlignment(tables, weeks),
		validateColumnLayout(tables, domain.Columns(prod.Prefixes(), stats)),
		validateStatistics(tables, prod.Prefixes()),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Tables: %d, weeks: %d, product: %s\n", len(tables), len(weeks), prod.Name)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Week Alignment ──
// Every table has one row per week, in week-table order.

func validateWeekAlignment(tables []sheet.Sheet, weeks []domain.WeekRecord) *phase {
	p := &phase{name: "Phase 1: Week Alignment"}

	want := make([]int, len(weeks))
	for i, w := range weeks {
		want[i] = w.WeekID
	}
	for _, t := range tables {
		if len(t.Weeks) != len(want) {
			p.errorf("%s: %d rows, week table has %d", t.Name, len(t.Weeks), len(want))
			continue
		}
		for i := range want {
			if t.Weeks[i] != want[i] {
				p.errorf("%s row %d: se=%d, want %d", t.Name, i+1, t.Weeks[i], want[i])
			}
		}
	}
	return p
}

// ── Phase 2: Column Layout ──
// Columns are the product's prefixes crossed with the selected statistics.

func validateColumnLayout(tables []sheet.Sheet, columns []domain.Column) *phase {
	p := &phase{name: "Phase 2: Column Layout"}

	want := make([]string, len(columns))
	for i, c := range columns {
		want[i] = c.Name()
	}
	for _, t := range tables {
		if !slices.Equal(t.Columns, want) {
			p.errorf("%s: columns %v, want %v", t.Name, t.Columns, want)
		}
	}
	return p
}

// ── Phase 3: Statistic Consistency ──
// Statistics of one row must agree with each other wherever both are present.

func validateStatistics(tables []sheet.Sheet, prefixes []string) *phase {
	p := &phase{name: "Phase 3: Statistic Consistency"}

	for _, t := range tables {
		for _, prefix := range prefixes {
			cols := make(map[domain.Statistic][]float64)
			for _, s := range domain.AllStatistics() {
				if v, ok := t.Column(prefix + s.String()); ok {
					cols[s] = v
				}
			}
			for i, week := range t.Weeks {
				row := make(map[domain.Statistic]float64, len(cols))
				for s, v := range cols {
					row[s] = v[i]
				}
				checkRow(p, fmt.Sprintf("%s se=%d %s", t.Name, week, prefix), row)
			}
		}
	}
	return p
}

func checkRow(p *phase, where string, row map[domain.Statistic]float64) {
	get := func(s domain.Statistic) (float64, bool) {
		v, ok := row[s]
		return v, ok && !domain.IsNull(v)
	}

	count, hasCount := get(domain.Count)
	if hasCount && (count < 0 || count != math.Trunc(count)) {
		p.errorf("%s: COUNT=%g is not a non-negative integer", where, count)
	}
	if hasCount && count == 0 {
		for _, s := range []domain.Statistic{domain.Minimum, domain.Mean, domain.Maximum, domain.Median} {
			if v, ok := get(s); ok {
				p.errorf("%s: COUNT=0 but %s=%g", where, s, v)
			}
		}
		return
	}

	lo, hasMin := get(domain.Minimum)
	hi, hasMax := get(domain.Maximum)
	if hasMin && hasMax {
		if lo > hi {
			p.errorf("%s: MINIMUM=%g > MAXIMUM=%g", where, lo, hi)
		}
		for _, s := range []domain.Statistic{domain.Mean, domain.Median, domain.Mode} {
			if v, ok := get(s); ok && (v < lo-slack(lo) || v > hi+slack(hi)) {
				p.errorf("%s: %s=%g outside [%g, %g]", where, s, v, lo, hi)
			}
		}
	}

	std, hasStd := get(domain.Std)
	variance, hasVar := get(domain.Variance)
	if hasStd && hasVar && !near(variance, std*std) {
		p.errorf("%s: VARIANCE=%g, STD^2=%g", where, variance, std*std)
	}

	mean, hasMean := get(domain.Mean)
	sum, hasSum := get(domain.Sum)
	if hasCount && hasMean && hasSum && !near(sum, mean*count) {
		p.errorf("%s: SUM=%g, MEAN*COUNT=%g", where, sum, mean*count)
	}
}

func slack(v float64) float64 {
	return tolerance * math.Max(1, math.Abs(v))
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= slack(math.Max(math.Abs(a), math.Abs(b)))
}
