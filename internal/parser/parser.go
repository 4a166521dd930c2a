package parser

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// CommentMarker starts a comment anywhere on a line.
const CommentMarker = "#"

const maxLineSize = 1024 * 1024

var ErrMissingColumns = errors.New("missing required columns")

func stripComment(line string) string {
	if i := strings.Index(line, CommentMarker); i >= 0 {
		return line[:i]
	}
	return line
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), CommentMarker)
}

func openFile(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	return file, nil
}

// parseInt accepts plain integers and integral floats such as "123456.0", which
// appear in lists exported from dataframes. NaN, fractions and out-of-range values fail.
func parseInt(s string, bitSize int) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, bitSize); err == nil {
		return v, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}

	limit := math.Ldexp(1, bitSize-1)
	if f < -limit || f >= limit {
		return 0, fmt.Errorf("out of range for int%d: %q", bitSize, s)
	}
	return int64(f), nil
}
