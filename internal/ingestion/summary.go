package ingestion

import (
	"fmt"
	"io"
	"sort"

	"github.com/thiago-r-goveia/exclude-builder/internal/models"
	"github.com/thiago-r-goveia/exclude-builder/internal/writer"
)

// Summarize counts records per reason, sorted by reason.
func Summarize(records []models.ExclusionRecord) []models.ReasonCount {
	return SummarizeWidth(records, 0)
}

// SummarizeWidth counts records per reason as stored in a column of width bytes, so
// reasons that only differ past the width share a count. A width of zero or less keeps
// reasons whole.
func SummarizeWidth(records []models.ExclusionRecord, width int) []models.ReasonCount {
	counts := make(map[string]int)
	for _, r := range records {
		reason := r.Reason
		if width > 0 {
			reason = writer.TruncateToWidth(reason, width)
		}
		counts[reason]++
	}

	summary := make([]models.ReasonCount, 0, len(counts))
	for reason, count := range counts {
		summary = append(summary, models.ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Reason < summary[j].Reason
	})
	return summary
}

// PrintSummary writes the operator report, padding reasons to width.
func PrintSummary(out io.Writer, total int, counts []models.ReasonCount, width int) error {
	if _, err := fmt.Fprintf(out, "Excluding %d CCDs...\n", total); err != nil {
		return err
	}
	for _, c := range counts {
		if _, err := fmt.Fprintf(out, "  %-*s: %d\n", width, c.Reason, c.Count); err != nil {
			return err
		}
	}
	return nil
}
