package report

import (
	"fmt"
	"time"

	"github.com/kubev2v/ids-validator/internal/report/csv"
	"github.com/kubev2v/ids-validator/internal/report/types"
	"github.com/kubev2v/ids-validator/internal/report/xlsx"
	"github.com/kubev2v/ids-validator/internal/validation"
)

func NewRenderer(format types.ReportFormat) (types.ReportRenderer, error) {
	for _, r := range []types.ReportRenderer{csv.NewRenderer(), xlsx.NewRenderer()} {
		if r.SupportedFormat() == format {
			return r, nil
		}
	}
	return nil, fmt.Errorf("unsupported report format %q", format)
}

// NewReportData summarizes a validation result for rendering.
func NewReportData(result *validation.Result, elements int, generated time.Time) *types.ReportData {
	data := &types.ReportData{
		RunID:     result.RunID,
		Generated: generated,
		Elements:  elements,
		Rules:     make([]types.RuleSummary, 0, len(result.Rules)),
		Rows:      result.Rows,
	}

	for _, r := range result.Rules {
		summary := types.RuleSummary{
			ID:            r.ID,
			Title:         r.Title,
			Passed:        len(r.Passed),
			Failed:        len(r.Failed),
			NotApplicable: len(r.NA),
		}
		data.Rules = append(data.Rules, summary)
		data.Totals.Passed += summary.Passed
		data.Totals.Failed += summary.Failed
		data.Totals.NotApplicable += summary.NotApplicable
	}
	data.Totals.Rules = len(result.Rules)

	return data
}
