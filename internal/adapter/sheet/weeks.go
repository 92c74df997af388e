package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
)

// Week table headers, matched case-insensitively.
const (
	colYear  = "year"
	colWeek  = "se"
	colStart = "fecha_ini"
)

var errEmpty = errors.New("empty value")

var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"02/01/2006",
}

// ReadWeeks loads the week table at path (.xlsx or .csv) and validates it
// with domain.NewWeekTable. XLSX files are read from their first sheet.
func ReadWeeks(path string) ([]domain.WeekRecord, error) {
	rows, date1904, err := readRows(path)
	if err != nil {
		return nil, err
	}
	records, err := parseWeeks(rows, date1904)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return domain.NewWeekTable(records)
}

func readRows(path string) ([][]string, bool, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, false, err
	}
	if f == formatCSV {
		rows, err := readCSV(path)
		return rows, false, err
	}

	wb, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, false, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, false, fmt.Errorf("%w: %s has no sheets", domain.ErrInvalidInput, path)
	}
	rows, err := wb.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, false, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	props, err := wb.GetWorkbookProps()
	if err != nil {
		return nil, false, fmt.Errorf("read workbook properties: %w", err)
	}
	return rows, props.Date1904 != nil && *props.Date1904, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %w", domain.ErrInvalidInput, err)
	}
	return rows, nil
}

func parseWeeks(rows [][]string, date1904 bool) ([]domain.WeekRecord, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", domain.ErrInvalidInput)
	}
	idx, err := headerIndex(rows[0], colYear, colWeek, colStart)
	if err != nil {
		return nil, err
	}

	var records []domain.WeekRecord
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := n + 2
		year, err := parseInt(cell(row, idx[colYear]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %s: %w", domain.ErrInvalidInput, line, colYear, err)
		}
		week, err := parseInt(cell(row, idx[colWeek]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %s: %w", domain.ErrInvalidInput, line, colWeek, err)
		}
		start, err := parseDate(cell(row, idx[colStart]), date1904)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %s: %w", domain.ErrInvalidInput, line, colStart, err)
		}
		records = append(records, domain.WeekRecord{Year: year, WeekID: week, StartDate: start})
	}
	return records, nil
}

// headerIndex maps each wanted column to its position in header.
func headerIndex(header []string, want ...string) (map[string]int, error) {
	idx := make(map[string]int, len(want))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, w := range want {
		if _, ok := idx[w]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrInvalidInput, w)
		}
	}
	return idx, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseInt accepts integers written as floats, as spreadsheets often store them.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, errEmpty
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

func parseDate(s string, date1904 bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, errEmpty
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return excelize.ExcelDateToTime(serial, date1904)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// WriteWeeks saves a week table to path (.xlsx or .csv) with the headers
// ReadWeeks expects. XLSX start dates are written as date cells.
func WriteWeeks(path string, weeks []domain.WeekRecord) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch f {
	case formatXLSX:
		data, err = encodeWeeksXLSX(weeks)
	case formatCSV:
		data, err = encodeWeeksCSV(weeks)
	}
	if err != nil {
		return fmt.Errorf("encode weeks: %w", err)
	}
	return writeAtomic(map[string][]byte{path: data})
}

func encodeWeeksXLSX(weeks []domain.WeekRecord) ([]byte, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetRow(defaultSheet, "A1", &[]any{colYear, colWeek, colStart}); err != nil {
		return nil, err
	}
	for i, w := range weeks {
		ref, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := wb.SetSheetRow(defaultSheet, ref, &[]any{w.Year, w.WeekID, w.StartDate}); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWeeksCSV(weeks []domain.WeekRecord) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{colYear, colWeek, colStart}); err != nil {
		return nil, err
	}
	for _, w := range weeks {
		if err := cw.Write([]string{strconv.Itoa(w.Year), strconv.Itoa(w.WeekID), domain.FormatDay(w.StartDate)}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}
