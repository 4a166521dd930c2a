package parser

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

// Problem lists separate columns by tabs or by two or more spaces, so the
// free-text problem column may contain single spaces.
var problemSeparator = regexp.MustCompile(`\s*\t\s*|\s{2,}`)

// ProblemRow is one whole-exposure exclusion.
type ProblemRow struct {
	Line     int
	Nite     string
	Exposure int32
	Problem  string
}

// ParseProblemFile reads a problem list from disk. See ParseProblemList.
func ParseProblemFile(filePath string) ([]ProblemRow, []models.AppError, error) {
	file, err := openFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return parseProblemLines(lineScanner(file), filePath)
}

// ParseProblemList reads rows of Nite, Exposure, Problem. Comment and blank lines are
// skipped. Rows that cannot be coerced are returned as recoverable errors. The returned
// error is only set when the input itself cannot be read.
func ParseProblemList(r io.Reader, name string) ([]ProblemRow, []models.AppError, error) {
	return parseProblemLines(lineScanner(r), name)
}

func parseProblemLines(scanner lineSource, name string) ([]ProblemRow, []models.AppError, error) {
	var rows []ProblemRow
	var rowErrors []models.AppError

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if isComment(raw) {
			continue
		}
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		fields := splitProblemLine(line)
		if len(fields) < 3 {
			rowErrors = append(rowErrors, models.AppError{File: name, Line: lineNo, Message: "expected Nite, Exposure and Problem columns", Fields: fields})
			continue
		}

		exposure, err := parseInt(fields[1], 32)
		if err != nil {
			if isProblemHeader(fields) {
				continue
			}
			rowErrors = append(rowErrors, models.AppError{File: name, Line: lineNo, Message: "bad exposure", Err: err, Fields: fields})
			continue
		}

		rows = append(rows, ProblemRow{
			Line:     lineNo,
			Nite:     fields[0],
			Exposure: int32(exposure),
			Problem:  fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return rows, rowErrors, nil
}

func splitProblemLine(line string) []string {
	fields := problemSeparator.Split(line, -1)
	if len(fields) >= 3 {
		return []string{fields[0], fields[1], strings.Join(fields[2:], " ")}
	}

	fields = strings.Fields(line)
	if len(fields) > 3 {
		return []string{fields[0], fields[1], strings.Join(fields[2:], " ")}
	}
	return fields
}

func isProblemHeader(fields []string) bool {
	switch strings.ToLower(fields[1]) {
	case "exposure", "expnum":
		return true
	}
	return false
}
