package writer

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

// SheetName is the worksheet holding the exclusion table in XLSX output.
const SheetName = "exclude"

type XLSXWriter struct{}

func (w *XLSXWriter) Write(path string, records []models.ExclusionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name worksheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to open worksheet stream: %w", err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, []interface{}{r.ExpNum, r.CCDNum, r.Reason, r.Analyst}); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush worksheet: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if _, err := f.WriteTo(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return file.Close()
}

func ReadXLSX(path string) ([]models.ExclusionRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %s: %w", SheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("worksheet %s is empty", SheetName)
	}

	idx, err := columnPositions(rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]models.ExclusionRecord, 0, len(rows)-1)
	for n, row := range rows[1:] {
		cell := func(i int) string {
			if i < len(row) {
				return row[i]
			}
			return ""
		}
		record, err := recordFromStrings(cell(idx[0]), cell(idx[1]), cell(idx[2]), cell(idx[3]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		records = append(records, record)
	}
	return records, nil
}
