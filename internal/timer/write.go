package timer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Columns is the header row of every export.
var Columns = []string{"tags", "elapsed_s", "start_unix", "end_unix"}

const sheetName = "timers"

// Write exports stats to path, as XLSX when the extension is .xlsx and CSV otherwise.
func Write(path string, stats []Stats) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, stats)
	}
	return WriteCSV(path, stats)
}

// WriteCSV writes a header row and one row per event. Tags are joined by a space.
func WriteCSV(path string, stats []Stats) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return err
	}
	for _, s := range stats {
		if err := w.Write(s.record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteXLSX writes the same table as WriteCSV into a single-sheet workbook, with
// numeric cells for the measurements.
func WriteXLSX(path string, stats []Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, s := range stats {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{strings.Join(s.Tags, " "), s.Elapsed, s.Start, s.End}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (s Stats) record() []string {
	return []string{
		strings.Join(s.Tags, " "),
		strconv.FormatFloat(s.Elapsed, 'f', -1, 64),
		strconv.FormatFloat(s.Start, 'f', -1, 64),
		strconv.FormatFloat(s.End, 'f', -1, 64),
	}
}
