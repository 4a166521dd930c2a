package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
	"github.com/thiago-r-goveia/exclude-builder/internal/parser"
	"github.com/thiago-r-goveia/exclude-builder/internal/writer"
)

// ErrBadRows is returned in strict mode when any data row could not be coerced.
var ErrBadRows = errors.New("unparseable rows in input")

type ServiceConfig struct {
	Outfile string
	Analyst string
	// CCDNums is the detector range a whole-exposure exclusion expands over.
	CCDNums []int16
	Strict  bool
	// Workers is the number of files parsed concurrently; values below 1 mean one.
	Workers int
	Writer  writer.Options
}

type Result struct {
	Files     int
	Records   int
	RowErrors int
	Counts    []models.ReasonCount
	Outfile   string
}

type ExclusionService struct {
	fileProcessor Processor
	config        ServiceConfig
	logger        *zap.Logger
	out           io.Writer
}

// NewExclusionService wires the service. The operator summary is written to out.
func NewExclusionService(processor Processor, cfg ServiceConfig, logger *zap.Logger, out io.Writer) *ExclusionService {
	return &ExclusionService{
		fileProcessor: processor,
		config:        cfg,
		logger:        logger,
		out:           out,
	}
}

// Execute builds the exclusion table from args and writes it to the configured output.
// Any fatal error returns before the output file is created.
func (s *ExclusionService) Execute(ctx context.Context, args []string) (*Result, error) {
	// Step 1: Reject the output format before reading anything.
	format, err := writer.FormatFor(s.config.Outfile)
	if err != nil {
		return nil, err
	}

	// Step 2: Resolve and classify the inputs.
	files, err := s.fileProcessor.ScanForFiles(args)
	if err != nil {
		return nil, err
	}

	// Step 3: Parse, expand and aggregate in input order.
	records, fileErrors, err := s.BuildRecords(ctx, files)
	if err != nil {
		return nil, err
	}

	// Step 4: Report per-reason counts for the operator.
	summaryWidth := 0
	if format == writer.FormatFITS {
		summaryWidth = s.config.Writer.ReasonColumnWidth()
	}
	counts := SummarizeWidth(records, summaryWidth)
	if err := PrintSummary(s.out, len(records), counts, s.config.Writer.ReasonWidth); err != nil {
		return nil, fmt.Errorf("failed to print summary: %w", err)
	}

	// Step 5: Write the table.
	fmt.Fprintf(s.out, "Writing %s...\n", s.config.Outfile)
	if err := writer.WriteFile(s.config.Outfile, records, s.config.Writer); err != nil {
		return nil, err
	}
	fmt.Fprintln(s.out, "Done.")

	return &Result{
		Files:     len(files),
		Records:   len(records),
		RowErrors: fileErrors.Total(),
		Counts:    counts,
		Outfile:   s.config.Outfile,
	}, nil
}

// BuildRecords parses files on the worker pool and concatenates their records in input order. Recoverable row
// errors are logged and the rows dropped, unless the service is strict.
func (s *ExclusionService) BuildRecords(ctx context.Context, files []models.FileInfo) ([]models.ExclusionRecord, *models.FileErrorMap, error) {
	pool := newParserPool(s.config.Workers, s.processFile, s.logger)
	results, err := pool.Run(ctx, files)
	if err != nil {
		return nil, nil, err
	}

	var records []models.ExclusionRecord
	fileErrors := models.NewFileErrorMap()
	for _, result := range results {
		if result.err != nil {
			return nil, nil, result.err
		}
		collectRowErrors(s.logger, result.file.Path, result.rowErrors, fileErrors)
		records = append(records, result.records...)
	}

	if s.config.Strict && fileErrors.Total() > 0 {
		return nil, nil, fmt.Errorf("%w: %d rows in %d files", ErrBadRows, fileErrors.Total(), len(fileErrors.Errors))
	}

	return records, fileErrors, nil
}

func (s *ExclusionService) processFile(file models.FileInfo) ([]models.ExclusionRecord, []models.AppError, error) {
	switch file.Layout {
	case models.LayoutProblem:
		rows, rowErrors, err := parser.ParseProblemFile(file.Path)
		if err != nil {
			return nil, nil, err
		}
		return s.expandProblems(rows, file.Reason), rowErrors, nil
	default:
		rows, rowErrors, err := parser.ParseTableFile(file.Path)
		if err != nil {
			return nil, nil, err
		}
		return s.tableRecords(rows, file.Reason), rowErrors, nil
	}
}

// expandProblems emits one record per detector for each whole-exposure row. A non-empty
// override replaces the row's own problem text.
func (s *ExclusionService) expandProblems(rows []parser.ProblemRow, override string) []models.ExclusionRecord {
	records := make([]models.ExclusionRecord, 0, len(rows)*len(s.config.CCDNums))
	for _, row := range rows {
		reason := row.Problem
		if override != "" {
			reason = override
		}
		for _, ccd := range s.config.CCDNums {
			records = append(records, models.ExclusionRecord{
				ExpNum:  row.Exposure,
				CCDNum:  ccd,
				Reason:  reason,
				Analyst: s.config.Analyst,
			})
		}
	}
	return records
}

func (s *ExclusionService) tableRecords(rows []parser.TableRow, reason string) []models.ExclusionRecord {
	records := make([]models.ExclusionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.ExclusionRecord{
			ExpNum:  row.ExpNum,
			CCDNum:  row.CCDNum,
			Reason:  reason,
			Analyst: s.config.Analyst,
		})
	}
	return records
}
