package ingestion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
)

func TestSummarize(t *testing.T) {
	records := []models.ExclusionRecord{
		{Reason: "Streak"}, {Reason: "Bad CCD"}, {Reason: "Streak"}, {Reason: "Ghost/Scatter"},
	}

	assert.Equal(t, []models.ReasonCount{
		{Reason: "Bad CCD", Count: 1},
		{Reason: "Ghost/Scatter", Count: 1},
		{Reason: "Streak", Count: 2},
	}, Summarize(records))

	assert.Empty(t, Summarize(nil))
}

func TestSummarizeWidth(t *testing.T) {
	records := []models.ExclusionRecord{
		{Reason: "Bright star halo, north"}, {Reason: "Bright star halo, south"}, {Reason: "Comet"}, {Reason: "Müller"},
	}

	assert.Equal(t, []models.ReasonCount{
		{Reason: "Bright star halo", Count: 2},
		{Reason: "Comet", Count: 1},
		{Reason: "Müller", Count: 1},
	}, SummarizeWidth(records, 16))

	assert.Equal(t, Summarize(records), SummarizeWidth(records, 0))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	err := PrintSummary(&buf, 3, []models.ReasonCount{{Reason: "Noise", Count: 1}, {Reason: "Streak", Count: 2}}, 8)
	require.NoError(t, err)

	assert.Equal(t, "Excluding 3 CCDs...\n  Noise   : 1\n  Streak  : 2\n", buf.String())
}
