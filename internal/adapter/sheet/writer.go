package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
	"github.com/couchcryptid/epiweek-climate-etl/internal/pipeline"
)

const weekHeader = "se"

var _ pipeline.StagingLoader = (*Writer)(nil)

// Writer saves assembled tables to an XLSX workbook or CSV files. Files are
// written to temporaries and renamed into place only once every table has
// been encoded. As a pipeline.StagingLoader the rename waits until every
// other loader has succeeded.
type Writer struct {
	path    string
	format  format
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter returns a Writer for path; the extension selects the format.
func NewWriter(path string, logger *slog.Logger, metrics *observability.Metrics) (*Writer, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, format: f, logger: logger, metrics: metrics}, nil
}

// LoadTables writes tables to the configured path.
func (w *Writer) LoadTables(ctx context.Context, tables []domain.Table) error {
	st, err := w.StageTables(ctx, tables)
	if err != nil {
		return err
	}
	return st.Commit()
}

// StageTables encodes tables into temporaries next to the configured path.
// Nothing is visible at the path until the result is committed.
func (w *Writer) StageTables(ctx context.Context, tables []domain.Table) (pipeline.Staged, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no tables to write", domain.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var files map[string][]byte
	var err error
	switch w.format {
	case formatXLSX:
		var data []byte
		data, err = encodeWorkbook(tables)
		files = map[string][]byte{w.path: data}
	case formatCSV:
		files, err = encodeCSV(w.path, tables)
	}
	if err != nil {
		return nil, fmt.Errorf("encode tables: %w", err)
	}

	st, err := stageFiles(files)
	if err != nil {
		return nil, err
	}
	st.onCommit = func() {
		w.metrics.TablesWritten.Add(float64(len(tables)))
		for path := range files {
			w.logger.Info("table written", "path", path, "tables", len(tables))
		}
	}
	return st, nil
}

func encodeWorkbook(tables []domain.Table) ([]byte, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	names := make(map[string]string, len(tables))
	for i, t := range tables {
		name := defaultSheet
		if len(tables) > 1 {
			name = sheetName(t.PolygonID)
		}
		if other, dup := names[name]; dup {
			return nil, fmt.Errorf("%w: polygons %q and %q map to sheet %q", domain.ErrInvalidInput, other, t.PolygonID, name)
		}
		names[name] = t.PolygonID

		if i == 0 {
			if name != defaultSheet {
				if err := wb.SetSheetName(defaultSheet, name); err != nil {
					return nil, err
				}
			}
		} else if _, err := wb.NewSheet(name); err != nil {
			return nil, err
		}
		if err := writeSheet(wb, name, t); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
	}

	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(wb *excelize.File, name string, t domain.Table) error {
	header := append([]any{weekHeader}, stringsToAny(t.ColumnNames())...)
	if err := wb.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}
	for i, win := range t.Windows {
		row := i + 2
		if err := setCell(wb, name, 1, row, win.WeekID); err != nil {
			return err
		}
		for j, v := range t.Values[i] {
			if domain.IsNull(v) {
				continue
			}
			if err := setCell(wb, name, j+2, row, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func setCell(wb *excelize.File, sheet string, col, row int, v any) error {
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return wb.SetCellValue(sheet, ref, v)
}

func stringsToAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func encodeCSV(path string, tables []domain.Table) (map[string][]byte, error) {
	paths := csvPaths(path, tables)
	files := make(map[string][]byte, len(tables))
	for i, t := range tables {
		if _, dup := files[paths[i]]; dup {
			return nil, fmt.Errorf("%w: two polygons map to %s", domain.ErrInvalidInput, paths[i])
		}
		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		if err := cw.Write(append([]string{weekHeader}, t.ColumnNames()...)); err != nil {
			return nil, err
		}
		for r, win := range t.Windows {
			rec := make([]string, 0, len(t.Columns)+1)
			rec = append(rec, strconv.Itoa(win.WeekID))
			for _, v := range t.Values[r] {
				if domain.IsNull(v) {
					rec = append(rec, "")
					continue
				}
				rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
			}
			if err := cw.Write(rec); err != nil {
				return nil, err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return nil, err
		}
		files[paths[i]] = buf.Bytes()
	}
	return files, nil
}

// staging holds temporaries keyed by their destination.
type staging struct {
	files    map[string]string
	onCommit func()
}

// stageFiles writes every file to a temporary next to its destination. A
// failure removes whatever was already staged.
func stageFiles(files map[string][]byte) (*staging, error) {
	st := &staging{files: make(map[string]string, len(files))}
	for path, data := range files {
		tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
		if err != nil {
			st.Abort()
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
		st.files[path] = tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			st.Abort()
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
		if err := tmp.Close(); err != nil {
			st.Abort()
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
	}
	return st, nil
}

// Commit renames every temporary into place.
func (s *staging) Commit() error {
	for path, tmp := range s.files {
		if err := os.Rename(tmp, path); err != nil {
			s.Abort()
			return fmt.Errorf("commit %s: %w", path, err)
		}
		delete(s.files, path)
	}
	if s.onCommit != nil {
		s.onCommit()
	}
	return nil
}

// Abort removes the temporaries that have not been committed.
func (s *staging) Abort() {
	for path, tmp := range s.files {
		_ = os.Remove(tmp)
		delete(s.files, path)
	}
}

// writeAtomic stages every file next to its destination, then renames them
// all. A failure while staging leaves no destination touched.
func writeAtomic(files map[string][]byte) error {
	st, err := stageFiles(files)
	if err != nil {
		return err
	}
	return st.Commit()
}
