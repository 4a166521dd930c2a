package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

const (
	ColumnExpNum = "expnum"
	ColumnCCDNum = "ccdnum"
)

// TableRow is one (exposure, detector) pair from a tabular exclude list.
type TableRow struct {
	Line   int
	ExpNum int32
	CCDNum int16
}

type lineSource interface {
	Scan() bool
	Text() string
	Err() error
}

func lineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

// ParseTableFile reads a tabular exclude list from disk. See ParseTable.
func ParseTableFile(filePath string) ([]TableRow, []models.AppError, error) {
	file, err := openFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return parseTableLines(lineScanner(file), filePath)
}

// ParseTable reads a whitespace-delimited table whose header names at least expnum and
// ccdnum. The header is the first non-comment line; a leading comment line naming both
// columns is accepted as the header too. A missing header or column returns
// ErrMissingColumns. Rows that cannot be coerced are returned as recoverable errors.
func ParseTable(r io.Reader, name string) ([]TableRow, []models.AppError, error) {
	return parseTableLines(lineScanner(r), name)
}

func parseTableLines(scanner lineSource, name string) ([]TableRow, []models.AppError, error) {
	var rows []TableRow
	var rowErrors []models.AppError

	expIdx, ccdIdx := -1, -1
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		if expIdx < 0 {
			if isComment(trimmed) {
				columns := headerColumns(strings.TrimLeft(trimmed, CommentMarker))
				if e, c := columnIndex(columns, ColumnExpNum), columnIndex(columns, ColumnCCDNum); e >= 0 && c >= 0 {
					expIdx, ccdIdx = e, c
				}
				continue
			}

			columns := headerColumns(stripComment(trimmed))
			expIdx, ccdIdx = columnIndex(columns, ColumnExpNum), columnIndex(columns, ColumnCCDNum)
			if expIdx < 0 || ccdIdx < 0 {
				return nil, nil, fmt.Errorf("%w in %s: header %v must include %s and %s", ErrMissingColumns, name, columns, ColumnExpNum, ColumnCCDNum)
			}
			continue
		}

		if isComment(trimmed) {
			continue
		}
		fields := strings.Fields(stripComment(trimmed))
		if len(fields) == 0 {
			continue
		}
		if len(fields) <= expIdx || len(fields) <= ccdIdx {
			rowErrors = append(rowErrors, models.AppError{File: name, Line: lineNo, Message: "row has fewer columns than the header", Fields: fields})
			continue
		}

		expnum, err := parseInt(fields[expIdx], 32)
		if err != nil {
			rowErrors = append(rowErrors, models.AppError{File: name, Line: lineNo, Message: "bad expnum", Err: err, Fields: fields})
			continue
		}
		ccdnum, err := parseInt(fields[ccdIdx], 16)
		if err != nil {
			rowErrors = append(rowErrors, models.AppError{File: name, Line: lineNo, Message: "bad ccdnum", Err: err, Fields: fields})
			continue
		}

		rows = append(rows, TableRow{Line: lineNo, ExpNum: int32(expnum), CCDNum: int16(ccdnum)})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if expIdx < 0 {
		return nil, nil, fmt.Errorf("%w in %s: no header line", ErrMissingColumns, name)
	}

	return rows, rowErrors, nil
}

func headerColumns(line string) []string {
	columns := strings.Fields(line)
	for i, c := range columns {
		columns[i] = strings.ToLower(c)
	}
	return columns
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
