package ingestion

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

// maxLoggedRowErrors bounds the per-row warnings for one file; past it the file is
// probably malformed and only the total is reported.
const maxLoggedRowErrors = 100

type parseJob struct {
	index int
	file  models.FileInfo
}

type parseResult struct {
	index     int
	file      models.FileInfo
	records   []models.ExclusionRecord
	rowErrors []models.AppError
	err       error
}

type parseFunc func(models.FileInfo) ([]models.ExclusionRecord, []models.AppError, error)

// parserPool parses input files on a fixed number of goroutines. Results are handed back
// in input order regardless of which worker finished first.
type parserPool struct {
	workers int
	parse   parseFunc
	logger  *zap.Logger
}

func newParserPool(workers int, parse parseFunc, logger *zap.Logger) *parserPool {
	if workers < 1 {
		workers = 1
	}
	return &parserPool{workers: workers, parse: parse, logger: logger}
}

// Run parses every file and returns one result per file, indexed like files. It stops
// dispatching once ctx is done and returns ctx.Err().
func (p *parserPool) Run(ctx context.Context, files []models.FileInfo) ([]parseResult, error) {
	jobs := make(chan parseJob)
	results := make(chan parseResult, len(files))

	var wg sync.WaitGroup
	for i := 1; i <= p.workers; i++ {
		wg.Add(1)
		go p.parserWorker(ctx, i, jobs, results, &wg)
	}

	go p.dispatchJobs(ctx, files, jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]parseResult, len(files))
	for result := range results {
		ordered[result.index] = result
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ordered, nil
}

func (p *parserPool) dispatchJobs(ctx context.Context, files []models.FileInfo, jobs chan<- parseJob) {
	defer close(jobs)
	for i, file := range files {
		select {
		case <-ctx.Done():
			return
		case jobs <- parseJob{index: i, file: file}:
		}
	}
}

func (p *parserPool) parserWorker(ctx context.Context, workerID int, jobs <-chan parseJob, results chan<- parseResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		if ctx.Err() != nil {
			continue
		}

		p.logger.Info("Reading file",
			zap.Int("worker", workerID),
			zap.String("file", job.file.Path),
			zap.Stringer("layout", job.file.Layout),
			zap.String("reason", job.file.Reason),
			zap.String("checksum", job.file.Checksum))

		records, rowErrors, err := p.parse(job.file)
		results <- parseResult{
			index:     job.index,
			file:      job.file,
			records:   records,
			rowErrors: rowErrors,
			err:       err,
		}
	}
}

// collectRowErrors logs the recoverable errors of one file and adds them to fileErrors.
func collectRowErrors(logger *zap.Logger, file string, rowErrors []models.AppError, fileErrors *models.FileErrorMap) {
	for i := range rowErrors {
		if i < maxLoggedRowErrors {
			logger.Warn("Skipping row", zap.Error(&rowErrors[i]))
		}
		fileErrors.Add(rowErrors[i])
	}
	if len(rowErrors) > maxLoggedRowErrors {
		logger.Warn("Too many bad rows, remaining ones not logged",
			zap.String("file", file),
			zap.Int("unlogged", len(rowErrors)-maxLoggedRowErrors))
	}
	if len(rowErrors) > 0 {
		logger.Warn("Bad rows in file", zap.String("file", file), zap.Int("count", len(rowErrors)))
	}
}
