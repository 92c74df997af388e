// Package sheet reads epidemiological week tables and writes and reads the
// per-polygon output tables, as XLSX workbooks or CSV files.
package sheet

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

type format int

const (
	formatXLSX format = iota + 1
	formatCSV
)

// defaultSheet is the sheet a new workbook starts with.
const defaultSheet = "Sheet1"

// maxSheetName is Excel's limit on worksheet name length.
const maxSheetName = 31

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return formatXLSX, nil
	case ".csv":
		return formatCSV, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported extension, want .xlsx or .csv", domain.ErrInvalidInput, path)
	}
}

// sheetName makes a polygon id usable as a worksheet name.
func sheetName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, id)
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

// fileSuffix makes a polygon id usable in a file name.
func fileSuffix(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}

// csvPaths returns one output path per table: path itself for a single table,
// <stem>_<polygon>.csv otherwise.
func csvPaths(path string, tables []domain.Table) []string {
	if len(tables) == 1 {
		return []string{path}
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	paths := make([]string, len(tables))
	for i, t := range tables {
		paths[i] = stem + "_" + fileSuffix(t.PolygonID) + filepath.Ext(path)
	}
	return paths
}
