package types

import (
	"io"
	"time"

	"github.com/kubev2v/ids-validator/internal/validation"
)

type ReportRenderer interface {
	Render(w io.Writer, data *ReportData) error
	SupportedFormat() ReportFormat
}

type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatXLSX ReportFormat = "xlsx"
)

var SupportedFormats = []string{string(ReportFormatCSV), string(ReportFormatXLSX)}

type ReportData struct {
	RunID     string
	Generated time.Time
	Elements  int
	Totals    Totals
	Rules     []RuleSummary
	Rows      []validation.DetailRow
}

type Totals struct {
	Rules         int
	Passed        int
	Failed        int
	NotApplicable int
}

type RuleSummary struct {
	ID            string
	Title         string
	Passed        int
	Failed        int
	NotApplicable int
}

// PassRate is the share of applicable elements that passed, in percent.
// ok is false when no element was applicable.
func (r RuleSummary) PassRate() (rate float64, ok bool) {
	applicable := r.Passed + r.Failed
	if applicable == 0 {
		return 0, false
	}
	return float64(r.Passed) * 100 / float64(applicable), true
}
