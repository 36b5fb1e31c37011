// Package export renders completed import runs into downloadable reports.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/lumenhq/taskpilot/internal/domain"
)

const (
	summarySheet = "Summary"
	errorSheet   = "Errors"
)

// ReportWriter renders an import run as an xlsx workbook with a summary
// sheet and an error log sheet.
type ReportWriter struct{}

func NewReportWriter() *ReportWriter {
	return &ReportWriter{}
}

// WriteRunReport writes the workbook for one run to out.
func (rw *ReportWriter) WriteRunReport(out io.Writer, run domain.ImportRun) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename summary sheet: %w", err)
	}
	if err := writeSummarySheet(f, run); err != nil {
		return err
	}
	if _, err := f.NewSheet(errorSheet); err != nil {
		return fmt.Errorf("failed to create error sheet: %w", err)
	}
	if err := writeErrorSheet(f, run.Errors); err != nil {
		return err
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, run domain.ImportRun) error {
	completed := ""
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format("2006-01-02 15:04:05")
	}
	header := [][]any{
		{"Run ID", run.ID.String()},
		{"External workspace", run.ExternalWorkspaceGID},
		{"Status", string(run.Status)},
		{"Started", run.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Completed", completed},
		{},
		{"Entity type", "Created", "Reused", "Skipped", "Failed"},
	}
	row := 1
	for _, values := range header {
		if err := setRow(f, summarySheet, row, values); err != nil {
			return err
		}
		row++
	}

	types := make([]string, 0, len(run.Summary))
	for entityType := range run.Summary {
		types = append(types, entityType)
	}
	sort.Strings(types)
	for _, entityType := range types {
		counts := run.Summary[entityType]
		values := []any{entityType, counts.Created, counts.Reused, counts.Skipped, counts.Failed}
		if err := setRow(f, summarySheet, row, values); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeErrorSheet(f *excelize.File, errs []domain.ImportRunError) error {
	if err := setRow(f, errorSheet, 1, []any{"Entity type", "External ID", "Name", "Message"}); err != nil {
		return err
	}
	for i, entry := range errs {
		values := []any{entry.EntityType, entry.ExternalGID, entry.Name, entry.Message}
		if err := setRow(f, errorSheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d on %s: %w", row, sheet, err)
	}
	return nil
}
