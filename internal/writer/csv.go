package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

// CSVWriter writes the table as comma-separated text with a header row.
type CSVWriter struct{}

func (w *CSVWriter) Write(path string, records []models.ExclusionRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}

	if err := EncodeCSV(file, records); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// EncodeCSV writes the EXPNUM,CCDNUM,REASON,ANALYST header followed by one row per record.
func EncodeCSV(out io.Writer, records []models.ExclusionRecord) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(Columns))
	for _, r := range records {
		row[0] = strconv.FormatInt(int64(r.ExpNum), 10)
		row[1] = strconv.FormatInt(int64(r.CCDNum), 10)
		row[2] = r.Reason
		row[3] = r.Analyst
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a CSV exclusion table from disk. See DecodeCSV.
func ReadCSV(path string) ([]models.ExclusionRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	records, err := DecodeCSV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

// DecodeCSV reads a CSV table whose header names the four exclusion columns in any order and case.
func DecodeCSV(in io.Reader) ([]models.ExclusionRecord, error) {
	cr := csv.NewReader(in)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	idx, err := columnPositions(header)
	if err != nil {
		return nil, err
	}

	var records []models.ExclusionRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}

		record, err := recordFromStrings(row[idx[0]], row[idx[1]], row[idx[2]], row[idx[3]])
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func columnPositions(header []string) ([4]int, error) {
	idx := [4]int{-1, -1, -1, -1}
	for i, name := range header {
		for j, col := range Columns {
			if strings.EqualFold(strings.TrimSpace(name), col) {
				idx[j] = i
			}
		}
	}
	for j, i := range idx {
		if i < 0 {
			return idx, fmt.Errorf("missing column %s in header %v", Columns[j], header)
		}
	}
	return idx, nil
}

func recordFromStrings(expnum, ccdnum, reason, analyst string) (models.ExclusionRecord, error) {
	exp, err := strconv.ParseInt(strings.TrimSpace(expnum), 10, 32)
	if err != nil {
		return models.ExclusionRecord{}, fmt.Errorf("invalid %s %q: %w", ColumnExpNum, expnum, err)
	}
	ccd, err := strconv.ParseInt(strings.TrimSpace(ccdnum), 10, 16)
	if err != nil {
		return models.ExclusionRecord{}, fmt.Errorf("invalid %s %q: %w", ColumnCCDNum, ccdnum, err)
	}
	return models.ExclusionRecord{ExpNum: int32(exp), CCDNum: int16(ccd), Reason: reason, Analyst: analyst}, nil
}
