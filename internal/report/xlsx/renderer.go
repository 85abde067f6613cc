package xlsx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kubev2v/ids-validator/internal/report/types"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet = "Summary"
	DetailsSheet = "Details"
)

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) SupportedFormat() types.ReportFormat {
	return types.ReportFormatXLSX
}

func (r *Renderer) Render(w io.Writer, data *types.ReportData) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(DetailsSheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", DetailsSheet, err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := r.writeSummary(f, data, bold); err != nil {
		return err
	}
	if err := r.writeDetails(f, data, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (r *Renderer) writeSummary(f *excelize.File, data *types.ReportData, headerStyle int) error {
	rows := [][]interface{}{
		{"IDS VALIDATION REPORT"},
		{"Generated", data.Generated.Format(time.RFC3339)},
		{"Run", data.RunID},
		{"Elements", data.Elements},
		{"Passed", data.Totals.Passed},
		{"Failed", data.Totals.Failed},
		{"Not applicable", data.Totals.NotApplicable},
		{},
		{"Rule ID", "Title", "Passed", "Failed", "Not applicable", "Pass rate"},
	}
	header := len(rows)

	for _, rule := range data.Rules {
		var rate interface{} = "n/a"
		if v, ok := rule.PassRate(); ok {
			rate = v / 100
		}
		rows = append(rows, []interface{}{rule.ID, rule.Title, rule.Passed, rule.Failed, rule.NotApplicable, rate})
	}

	if err := writeRows(f, SummarySheet, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(SummarySheet, 1, 1, headerStyle); err != nil {
		return err
	}
	return f.SetRowStyle(SummarySheet, header, header, headerStyle)
}

func (r *Renderer) writeDetails(f *excelize.File, data *types.ReportData, headerStyle int) error {
	rows := make([][]interface{}, 0, len(data.Rows)+1)
	rows = append(rows, []interface{}{"Element ID", "Global ID", "IFC Class", "Rule ID", "Rule", "Status", "Reasons"})
	for _, row := range data.Rows {
		rows = append(rows, []interface{}{
			row.ElementID,
			row.GlobalID,
			row.IfcClass,
			row.RuleID,
			row.RuleTitle,
			string(row.Status),
			strings.Join(row.Reasons, "; "),
		})
	}

	if err := writeRows(f, DetailsSheet, rows); err != nil {
		return err
	}
	return f.SetRowStyle(DetailsSheet, 1, 1, headerStyle)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}
	return nil
}
