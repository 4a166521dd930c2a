package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
	"github.com/thiago-r-goveia/exclude-builder/internal/writer"
)

// MockProcessor is a mock implementation of the Processor interface.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ScanForFiles(args []string) ([]models.FileInfo, error) {
	a := m.Called(args)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).([]models.FileInfo), a.Error(1)
}

func ccdRange(n int) []int16 {
	ccds := make([]int16, n)
	for i := range ccds {
		ccds[i] = int16(i + 1)
	}
	return ccds
}

func newTestService(processor Processor, outfile string, strict bool) (*ExclusionService, *bytes.Buffer) {
	var out bytes.Buffer
	cfg := ServiceConfig{
		Outfile: outfile,
		Analyst: "kadrlica",
		CCDNums: ccdRange(62),
		Strict:  strict,
		Writer:  writer.Options{ReasonWidth: 30, AnalystWidth: 30},
	}
	return NewExclusionService(processor, cfg, zap.NewNop(), &out), &out
}

func sortRecords(records []models.ExclusionRecord) []models.ExclusionRecord {
	sorted := append([]models.ExclusionRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ExpNum != b.ExpNum {
			return a.ExpNum < b.ExpNum
		}
		if a.CCDNum != b.CCDNum {
			return a.CCDNum < b.CCDNum
		}
		return a.Reason < b.Reason
	})
	return sorted
}

func TestExclusionService_BuildRecords_StreakExample(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "streak_list.txt"), "expnum ccdnum\n123456 7\n")
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)

	records, fileErrors, err := service.BuildRecords(context.Background(), []models.FileInfo{
		{Path: path, Layout: models.LayoutTable, Reason: "Streak"},
	})
	require.NoError(t, err)
	assert.Zero(t, fileErrors.Total())
	assert.Equal(t, []models.ExclusionRecord{{ExpNum: 123456, CCDNum: 7, Reason: "Streak", Analyst: "kadrlica"}}, records)
}

func TestExclusionService_BuildRecords_ProblemExample(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "problem_tiles.txt"), "20200101  555  BadSky\n")
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)

	records, _, err := service.BuildRecords(context.Background(), []models.FileInfo{
		{Path: path, Layout: models.LayoutProblem},
	})
	require.NoError(t, err)
	require.Len(t, records, 62)
	for i, r := range records {
		assert.Equal(t, models.ExclusionRecord{ExpNum: 555, CCDNum: int16(i + 1), Reason: "BadSky", Analyst: "kadrlica"}, r)
	}
}

func TestExclusionService_BuildRecords_ProblemRowsExpandOverDetectors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "problem_exposures.txt"),
		"# Nite  Exposure  Problem\n20200101  555  BadSky\n20200102  556  Bright star\n20200102  557  Airplane\n")
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)

	records, _, err := service.BuildRecords(context.Background(), []models.FileInfo{
		{Path: path, Layout: models.LayoutProblem},
	})
	require.NoError(t, err)
	assert.Len(t, records, 62*3)

	perExposure := make(map[int32]map[int16]bool)
	for _, r := range records {
		if perExposure[r.ExpNum] == nil {
			perExposure[r.ExpNum] = make(map[int16]bool)
		}
		perExposure[r.ExpNum][r.CCDNum] = true
	}
	for _, exp := range []int32{555, 556, 557} {
		assert.Len(t, perExposure[exp], 62, "exposure %d", exp)
		assert.True(t, perExposure[exp][1])
		assert.True(t, perExposure[exp][62])
	}
}

func TestExclusionService_BuildRecords_ReasonOverrideOnProblemFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "problem.txt"), "20200101  555  BadSky\n")
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)
	service.config.CCDNums = ccdRange(2)

	records, _, err := service.BuildRecords(context.Background(), []models.FileInfo{
		{Path: path, Layout: models.LayoutProblem, Reason: "Bright Star"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.ExclusionRecord{
		{ExpNum: 555, CCDNum: 1, Reason: "Bright Star", Analyst: "kadrlica"},
		{ExpNum: 555, CCDNum: 2, Reason: "Bright Star", Analyst: "kadrlica"},
	}, records)
}

func TestExclusionService_BuildRecords_ConcatenationIsOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	files := []models.FileInfo{
		{Path: writeFile(t, filepath.Join(dir, "streak.txt"), "expnum ccdnum\n100 1\n100 2\n"), Layout: models.LayoutTable, Reason: "Streak"},
		{Path: writeFile(t, filepath.Join(dir, "problem.txt"), "20200101  200  BadSky\n"), Layout: models.LayoutProblem},
		{Path: writeFile(t, filepath.Join(dir, "noise.txt"), "expnum ccdnum\n100 1\n"), Layout: models.LayoutTable, Reason: "Noise"},
	}
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)
	ctx := context.Background()

	combined, _, err := service.BuildRecords(ctx, files)
	require.NoError(t, err)

	var separate []models.ExclusionRecord
	for i := len(files) - 1; i >= 0; i-- {
		records, _, err := service.BuildRecords(ctx, files[i:i+1])
		require.NoError(t, err)
		separate = append(separate, records...)
	}

	assert.Len(t, combined, 2+62+1, "no deduplication across files")
	if diff := cmp.Diff(sortRecords(combined), sortRecords(separate)); diff != "" {
		t.Errorf("multiset mismatch (-combined +separate):\n%s", diff)
	}
}

func TestExclusionService_BuildRecords_WorkerCountDoesNotChangeOutput(t *testing.T) {
	dir := t.TempDir()
	var files []models.FileInfo
	for i, reason := range []string{"Streak", "Noise", "Comet", "Readout", "Bad CCD", "Processing"} {
		content := "expnum ccdnum\n"
		for row := 0; row < 3; row++ {
			content += fmt.Sprintf("%d %d\n", 1000+i, row+1)
		}
		path := writeFile(t, filepath.Join(dir, fmt.Sprintf("list_%d.txt", i)), content)
		files = append(files, models.FileInfo{Path: path, Layout: models.LayoutTable, Reason: reason})
	}
	files = append(files, models.FileInfo{
		Path:   writeFile(t, filepath.Join(dir, "problem.txt"), "20200101  200  BadSky\n"),
		Layout: models.LayoutProblem,
	})

	sequential, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)
	expected, _, err := sequential.BuildRecords(context.Background(), files)
	require.NoError(t, err)

	parallel, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)
	parallel.config.Workers = 4
	actual, _, err := parallel.BuildRecords(context.Background(), files)
	require.NoError(t, err)

	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("records differ between 1 and 4 workers (-sequential +parallel):\n%s", diff)
	}
}

func TestExclusionService_BuildRecords_BadRows(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, filepath.Join(dir, "readout.txt"), "expnum ccdnum\nNaN 1\n300 2\n")
	good := writeFile(t, filepath.Join(dir, "comet.txt"), "expnum ccdnum\n400 3\n")
	files := []models.FileInfo{
		{Path: bad, Layout: models.LayoutTable, Reason: "Readout"},
		{Path: good, Layout: models.LayoutTable, Reason: "Comet"},
	}

	t.Run("Lenient mode warns and continues", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)
		service.logger = zap.New(core)

		records, fileErrors, err := service.BuildRecords(context.Background(), files)
		require.NoError(t, err)
		assert.Equal(t, []models.ExclusionRecord{
			{ExpNum: 300, CCDNum: 2, Reason: "Readout", Analyst: "kadrlica"},
			{ExpNum: 400, CCDNum: 3, Reason: "Comet", Analyst: "kadrlica"},
		}, records)
		assert.Len(t, fileErrors.Errors[bad], 1)

		fileWarnings := logs.FilterMessage("Bad rows in file").All()
		require.Len(t, fileWarnings, 1)
		assert.Equal(t, bad, fileWarnings[0].ContextMap()["file"])
	})

	t.Run("Strict mode is fatal", func(t *testing.T) {
		service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), true)
		_, _, err := service.BuildRecords(context.Background(), files)
		assert.ErrorIs(t, err, ErrBadRows)
	})
}

func TestExclusionService_BuildRecords_MissingColumnsIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "noise.txt"), "expnum band\n1 g\n")
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)

	_, _, err := service.BuildRecords(context.Background(), []models.FileInfo{{Path: path, Layout: models.LayoutTable, Reason: "Noise"}})
	assert.ErrorContains(t, err, "missing required columns")
}

func TestExclusionService_BuildRecords_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "streak.txt"), "expnum ccdnum\n1 1\n")
	service, _ := newTestService(new(MockProcessor), filepath.Join(dir, "exclude.csv"), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := service.BuildRecords(ctx, []models.FileInfo{{Path: path, Layout: models.LayoutTable, Reason: "Streak"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExclusionService_Execute(t *testing.T) {
	dir := t.TempDir()
	streak := writeFile(t, filepath.Join(dir, "streak_list.txt"), "expnum ccdnum\n123456 7\n")
	problem := writeFile(t, filepath.Join(dir, "problem_tiles.txt"), "20200101  555  BadSky\n")
	outfile := filepath.Join(dir, "exclude.csv")

	processor := new(MockProcessor)
	args := []string{streak, problem}
	processor.On("ScanForFiles", args).Return([]models.FileInfo{
		{Path: streak, Layout: models.LayoutTable, Reason: "Streak"},
		{Path: problem, Layout: models.LayoutProblem},
	}, nil)

	service, out := newTestService(processor, outfile, false)
	result, err := service.Execute(context.Background(), args)
	require.NoError(t, err)
	processor.AssertExpectations(t)

	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 63, result.Records)
	assert.Equal(t, []models.ReasonCount{{Reason: "BadSky", Count: 62}, {Reason: "Streak", Count: 1}}, result.Counts)

	want := "Excluding 63 CCDs...\n" +
		"  BadSky                        : 62\n" +
		"  Streak                        : 1\n" +
		"Writing " + outfile + "...\n" +
		"Done.\n"
	assert.Equal(t, want, out.String())

	written, err := writer.ReadCSV(outfile)
	require.NoError(t, err)
	assert.Len(t, written, 63)
	assert.Equal(t, models.ExclusionRecord{ExpNum: 123456, CCDNum: 7, Reason: "Streak", Analyst: "kadrlica"}, written[0])
}

func TestExclusionService_Execute_SummaryMatchesFITSColumn(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, filepath.Join(dir, "a.txt"), "expnum ccdnum\n1 1\n")
	second := writeFile(t, filepath.Join(dir, "b.txt"), "expnum ccdnum\n2 2\n")
	longA := strings.Repeat("r", 30) + " first pass"
	longB := strings.Repeat("r", 30) + " second pass"

	processor := new(MockProcessor)
	args := []string{first, second}
	processor.On("ScanForFiles", args).Return([]models.FileInfo{
		{Path: first, Layout: models.LayoutTable, Reason: longA},
		{Path: second, Layout: models.LayoutTable, Reason: longB},
	}, nil)

	t.Run("FITS counts the stored reason", func(t *testing.T) {
		outfile := filepath.Join(dir, "exclude.fits")
		service, _ := newTestService(processor, outfile, false)
		result, err := service.Execute(context.Background(), args)
		require.NoError(t, err)
		assert.Equal(t, []models.ReasonCount{{Reason: strings.Repeat("r", 30), Count: 2}}, result.Counts)

		written, err := writer.ReadFITS(outfile)
		require.NoError(t, err)
		assert.Equal(t, result.Counts, Summarize(written))
	})

	t.Run("CSV keeps reasons whole", func(t *testing.T) {
		service, _ := newTestService(processor, filepath.Join(dir, "exclude.csv"), false)
		result, err := service.Execute(context.Background(), args)
		require.NoError(t, err)
		assert.Equal(t, []models.ReasonCount{{Reason: longA, Count: 1}, {Reason: longB, Count: 1}}, result.Counts)
	})
}

func TestExclusionService_Execute_UnsupportedOutput(t *testing.T) {
	dir := t.TempDir()
	processor := new(MockProcessor)
	service, out := newTestService(processor, filepath.Join(dir, "exclude.txt"), false)

	_, err := service.Execute(context.Background(), []string{"streak.txt"})
	assert.ErrorIs(t, err, writer.ErrUnsupportedFormat)
	processor.AssertNotCalled(t, "ScanForFiles", mock.Anything)
	assert.Empty(t, out.String())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExclusionService_Execute_ScanFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "exclude.fits")
	processor := new(MockProcessor)
	processor.On("ScanForFiles", mock.Anything).Return(nil, errors.New("failed to read input missing.txt"))

	service, _ := newTestService(processor, outfile, false)
	_, err := service.Execute(context.Background(), []string{"missing.txt"})
	assert.ErrorContains(t, err, "missing.txt")

	_, statErr := os.Stat(outfile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExclusionService_Execute_FatalParseWritesNothing(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, filepath.Join(dir, "streak.txt"), "expnum ccdnum\n1 1\n")
	broken := writeFile(t, filepath.Join(dir, "noise.txt"), "ccdnum\n1\n")
	outfile := filepath.Join(dir, "exclude.csv")

	processor := new(MockProcessor)
	processor.On("ScanForFiles", mock.Anything).Return([]models.FileInfo{
		{Path: good, Layout: models.LayoutTable, Reason: "Streak"},
		{Path: broken, Layout: models.LayoutTable, Reason: "Noise"},
	}, nil)

	service, _ := newTestService(processor, outfile, false)
	_, err := service.Execute(context.Background(), []string{good, broken})
	assert.Error(t, err)

	_, statErr := os.Stat(outfile)
	assert.True(t, os.IsNotExist(statErr))
}
