package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kubev2v/ids-validator/internal/report/types"
)

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) SupportedFormat() types.ReportFormat {
	return types.ReportFormatCSV
}

func (r *Renderer) Render(w io.Writer, data *types.ReportData) error {
	var csvRows [][]string

	csvRows = append(csvRows, []string{"IDS VALIDATION REPORT"})
	csvRows = append(csvRows, []string{fmt.Sprintf("Generated: %s", data.Generated.Format(time.RFC3339))})
	csvRows = append(csvRows, []string{fmt.Sprintf("Run: %s", data.RunID)})
	csvRows = append(csvRows, []string{""})

	csvRows = r.addTotals(csvRows, data)
	csvRows = r.addRuleSummary(csvRows, data.Rules)
	csvRows = r.addDetails(csvRows, data)

	writer := csv.NewWriter(w)
	for _, row := range csvRows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

func (r *Renderer) addTotals(csvRows [][]string, data *types.ReportData) [][]string {
	csvRows = append(csvRows, []string{"TOTALS"})
	csvRows = append(csvRows, []string{"Metric", "Value"})
	csvRows = append(csvRows, []string{"Elements", strconv.Itoa(data.Elements)})
	csvRows = append(csvRows, []string{"Rules", strconv.Itoa(data.Totals.Rules)})
	csvRows = append(csvRows, []string{"Passed", strconv.Itoa(data.Totals.Passed)})
	csvRows = append(csvRows, []string{"Failed", strconv.Itoa(data.Totals.Failed)})
	csvRows = append(csvRows, []string{"Not applicable", strconv.Itoa(data.Totals.NotApplicable)})
	csvRows = append(csvRows, []string{""})
	return csvRows
}

func (r *Renderer) addRuleSummary(csvRows [][]string, rules []types.RuleSummary) [][]string {
	csvRows = append(csvRows, []string{"RULE SUMMARY"})
	csvRows = append(csvRows, []string{"Rule ID", "Title", "Passed", "Failed", "Not applicable", "Pass rate"})

	for _, rule := range rules {
		rate := "n/a"
		if v, ok := rule.PassRate(); ok {
			rate = fmt.Sprintf("%.1f%%", v)
		}
		csvRows = append(csvRows, []string{
			rule.ID,
			rule.Title,
			strconv.Itoa(rule.Passed),
			strconv.Itoa(rule.Failed),
			strconv.Itoa(rule.NotApplicable),
			rate,
		})
	}

	csvRows = append(csvRows, []string{""})
	return csvRows
}

func (r *Renderer) addDetails(csvRows [][]string, data *types.ReportData) [][]string {
	csvRows = append(csvRows, []string{"DETAILS"})
	csvRows = append(csvRows, []string{"Element ID", "Global ID", "IFC Class", "Rule ID", "Rule", "Status", "Reasons"})

	for _, row := range data.Rows {
		csvRows = append(csvRows, []string{
			row.ElementID,
			row.GlobalID,
			row.IfcClass,
			row.RuleID,
			row.RuleTitle,
			string(row.Status),
			strings.Join(row.Reasons, "; "),
		})
	}
	return csvRows
}
