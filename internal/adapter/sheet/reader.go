package sheet

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

// Sheet is an output table as read back from disk.
type Sheet struct {
	Name    string
	Columns []string    // headers after "se"
	Weeks   []int       // "se" column
	Values  [][]float64 // NaN for empty cells
}

// ReadTables reads every table written by a Writer to path. For CSV output
// with several polygons the <stem>_<polygon>.csv siblings are read instead.
func ReadTables(path string) ([]Sheet, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	if f == formatXLSX {
		return readWorkbook(path)
	}

	if _, err := os.Stat(path); err == nil {
		s, err := readCSVSheet(path, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if err != nil {
			return nil, err
		}
		return []Sheet{s}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	stem := strings.TrimSuffix(path, filepath.Ext(path))
	matches, err := filepath.Glob(stem + "_*" + filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no tables found at %s", domain.ErrInvalidInput, path)
	}
	sort.Strings(matches)
	sheets := make([]Sheet, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimPrefix(strings.TrimSuffix(m, filepath.Ext(m)), stem+"_")
		s, err := readCSVSheet(m, name)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, s)
	}
	return sheets, nil
}

func readWorkbook(path string) ([]Sheet, error) {
	wb, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	var sheets []Sheet
	for _, name := range wb.GetSheetList() {
		rows, err := wb.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		s, err := parseSheet(name, rows)
		if err != nil {
			return nil, fmt.Errorf("%s: sheet %q: %w", path, name, err)
		}
		sheets = append(sheets, s)
	}
	return sheets, nil
}

func readCSVSheet(path, name string) (Sheet, error) {
	rows, err := readCSV(path)
	if err != nil {
		return Sheet{}, err
	}
	s, err := parseSheet(name, rows)
	if err != nil {
		return Sheet{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func parseSheet(name string, rows [][]string) (Sheet, error) {
	if len(rows) == 0 {
		return Sheet{}, fmt.Errorf("%w: missing header row", domain.ErrInvalidInput)
	}
	header := rows[0]
	if len(header) == 0 || !strings.EqualFold(strings.TrimSpace(header[0]), weekHeader) {
		return Sheet{}, fmt.Errorf("%w: first column must be %q", domain.ErrInvalidInput, weekHeader)
	}

	s := Sheet{Name: name, Columns: header[1:]}
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		week, err := parseInt(cell(row, 0))
		if err != nil {
			return Sheet{}, fmt.Errorf("%w: row %d: %s: %w", domain.ErrInvalidInput, n+2, weekHeader, err)
		}
		values := make([]float64, len(s.Columns))
		for j := range values {
			raw := cell(row, j+1)
			if raw == "" {
				values[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return Sheet{}, fmt.Errorf("%w: row %d: %s: %w", domain.ErrInvalidInput, n+2, s.Columns[j], err)
			}
			values[j] = v
		}
		s.Weeks = append(s.Weeks, week)
		s.Values = append(s.Values, values)
	}
	return s, nil
}

// Column returns the values of the named column, or false if absent.
func (s Sheet) Column(name string) ([]float64, bool) {
	for j, c := range s.Columns {
		if c == name {
			out := make([]float64, len(s.Values))
			for i, row := range s.Values {
				out[i] = row[j]
			}
			return out, true
		}
	}
	return nil, false
}
