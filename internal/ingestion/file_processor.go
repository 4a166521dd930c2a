package ingestion

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/thiago-r-goveia/exclude-builder/internal/classify"
	"github.com/thiago-r-goveia/exclude-builder/internal/models"
	"github.com/thiago-r-goveia/exclude-builder/pkg/checksum"
)

var ErrNoInputs = errors.New("no input files")

// Processor resolves command-line inputs into classified files.
type Processor interface {
	ScanForFiles(args []string) ([]models.FileInfo, error)
}

// FileProcessor expands input arguments, checksums each file and classifies it.
type FileProcessor struct {
	classifier *classify.Classifier
	logger     *zap.Logger
}

func NewFileProcessor(classifier *classify.Classifier, logger *zap.Logger) *FileProcessor {
	return &FileProcessor{
		classifier: classifier,
		logger:     logger,
	}
}

// ScanForFiles expands each argument in order: directories are walked recursively in
// lexical order, glob patterns are expanded, and plain paths are used as given. Any
// unreadable input aborts the scan. Content-identical inputs are reported but kept.
func (fp *FileProcessor) ScanForFiles(args []string) ([]models.FileInfo, error) {
	var fileInfos []models.FileInfo
	seen := make(map[string]string)

	for _, arg := range args {
		paths, err := expandArg(arg)
		if err != nil {
			return nil, err
		}

		for _, path := range paths {
			sum, err := checksum.GetFileChecksum(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read input %s: %w", path, err)
			}
			if first, ok := seen[sum]; ok {
				fp.logger.Warn("Input has the same content as an earlier input; its rows will be counted twice",
					zap.String("file", path), zap.String("same_as", first), zap.String("checksum", sum))
			} else {
				seen[sum] = path
			}

			layout, reason := fp.classifier.Classify(path)
			fileInfos = append(fileInfos, models.FileInfo{Path: path, Checksum: sum, Layout: layout, Reason: reason})
		}
	}

	if len(fileInfos) == 0 {
		return nil, ErrNoInputs
	}

	fp.logger.Debug("Found input files", zap.Int("count", len(fileInfos)))
	return fileInfos, nil
}

func expandArg(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && strings.ContainsAny(arg, "*?[") {
			matches, globErr := filepath.Glob(arg)
			if globErr != nil {
				return nil, fmt.Errorf("invalid input pattern %s: %w", arg, globErr)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("input pattern %s matched no files", arg)
			}
			return regularFiles(matches)
		}
		return nil, fmt.Errorf("failed to read input %s: %w", arg, err)
	}

	if !info.IsDir() {
		return []string{arg}, nil
	}

	var paths []string
	err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", arg, err)
	}
	return paths, nil
}

func regularFiles(matches []string) ([]string, error) {
	var paths []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", m, err)
		}
		if info.Mode().IsRegular() {
			paths = append(paths, m)
		}
	}
	return paths, nil
}
