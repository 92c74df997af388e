// Command genweeks writes the epidemiological week table (year, se,
// fecha_ini) for one or more calendar years, as XLSX or CSV.
//
// Usage:
//
//	go run ./cmd/genweeks -years 2024 -out data/SE_2024.xlsx
//	go run ./cmd/genweeks -years 2023,2024 -out data/SE_2023_2024.csv
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/sheet"
	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	years := flag.String("years", "", "comma-separated calendar years, ascending")
	out := flag.String("out", "", "output path (.xlsx or .csv)")
	flag.Parse()

	if *years == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -years, -out")
	}

	var weeks []domain.WeekRecord
	for _, part := range strings.Split(*years, ",") {
		year, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("invalid year %q: %w", part, err)
		}
		yw, err := domain.EpiWeeks(year)
		if err != nil {
			return err
		}
		log.Printf("%d: %d weeks, %s to %s", year, len(yw),
			domain.FormatDay(yw[0].StartDate), domain.FormatDay(yw[len(yw)-1].StartDate))
		weeks = append(weeks, yw...)
	}

	// Rejects years given out of order.
	if _, err := domain.NewWeekTable(weeks); err != nil {
		return err
	}
	if err := sheet.WriteWeeks(*out, weeks); err != nil {
		return fmt.Errorf("writing week table: %w", err)
	}
	log.Printf("wrote %d weeks: %s", len(weeks), *out)
	return nil
}
