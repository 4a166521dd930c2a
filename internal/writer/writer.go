// Package writer serializes exclusion tables. The format is chosen by the output
// file's extension, and files are replaced atomically so a failed run leaves nothing behind.
package writer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

var ErrUnsupportedFormat = errors.New("unrecognized file extension")

// Format identifies an output table format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatFITS   Format = "fits"
	FormatXLSX   Format = "xlsx"
	FormatSQLite Format = "sqlite"
)

// Column names shared by every output format.
const (
	ColumnExpNum  = "EXPNUM"
	ColumnCCDNum  = "CCDNUM"
	ColumnReason  = "REASON"
	ColumnAnalyst = "ANALYST"
)

var Columns = []string{ColumnExpNum, ColumnCCDNum, ColumnReason, ColumnAnalyst}

var extensions = map[string]Format{
	".csv":    FormatCSV,
	".fits":   FormatFITS,
	".fz":     FormatFITS,
	".xlsx":   FormatXLSX,
	".db":     FormatSQLite,
	".sqlite": FormatSQLite,
}

// FormatFor maps an output path to its format, or returns ErrUnsupportedFormat.
func FormatFor(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := extensions[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return format, nil
}

// Options tune the writers. Zero values take the defaults.
type Options struct {
	// ReasonWidth and AnalystWidth size the fixed-width string columns of FITS tables.
	ReasonWidth  int
	AnalystWidth int
	Logger       *zap.Logger
}

// ReasonColumnWidth is the width reasons are cut to in fixed-width formats.
func (o Options) ReasonColumnWidth() int {
	return o.withDefaults().ReasonWidth
}

func (o Options) withDefaults() Options {
	if o.ReasonWidth <= 0 {
		o.ReasonWidth = 30
	}
	if o.AnalystWidth <= 0 {
		o.AnalystWidth = 30
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Writer writes a complete table to path, creating or truncating it.
type Writer interface {
	Write(path string, records []models.ExclusionRecord) error
}

// New returns the Writer for the format of path.
func New(path string, opts Options) (Writer, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	switch format {
	case FormatCSV:
		return &CSVWriter{}, nil
	case FormatFITS:
		return &FITSWriter{ReasonWidth: opts.ReasonWidth, AnalystWidth: opts.AnalystWidth, logger: opts.Logger}, nil
	case FormatXLSX:
		return &XLSXWriter{}, nil
	default:
		return &SQLiteWriter{}, nil
	}
}

// WriteFile writes records to path through a temporary sibling file that is renamed into
// place on success and removed on failure. A new file gets 0666 less the umask, like
// os.Create; an existing file keeps its permissions.
func WriteFile(path string, records []models.ExclusionRecord, opts Options) error {
	w, err := New(path, opts)
	if err != nil {
		return err
	}

	tmpPath, err := createTemp(path)
	if err != nil {
		return err
	}

	if err := w.Write(tmpPath, records); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// createTemp creates an empty hidden sibling of path with the permissions the final file
// should end up with and returns its name.
func createTemp(path string) (string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(base)
	tmpPath := filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+"-"+uuid.NewString()+ext)

	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	if info, statErr := os.Stat(path); statErr == nil && info.Mode().IsRegular() {
		if err := tmp.Chmod(info.Mode().Perm()); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("failed to copy permissions of %s: %w", path, err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	return tmpPath, nil
}

// ReadFile reads a table written by WriteFile back into records.
func ReadFile(path string) ([]models.ExclusionRecord, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return ReadCSV(path)
	case FormatFITS:
		return ReadFITS(path)
	case FormatXLSX:
		return ReadXLSX(path)
	default:
		return ReadSQLite(path)
	}
}
