package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	pois "spikealerts/internal/pois/domain"
)

func tierLabel(sensitive bool) string {
	if sensitive {
		return "sensitive groups"
	}
	return "general population"
}

// BuildReportPDF renders a minimal PDF for an alert episode report.
func BuildReportPDF(report *pois.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Air Quality Alert Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Report: %s", report.ReportID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Location: %s", report.POIName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Tier: %s", tierLabel(report.Sensitive)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Start: %s", report.StartTime.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("End: %s", report.EndTime().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Duration (minutes): %d", report.DurationMinutes))
	pdf.Ln(8)

	// Alerts table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "#", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Alert ID", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for i, alertID := range report.AlertIDs {
		pdf.CellFormat(40, 6, fmt.Sprintf("%d", i+1), "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, fmt.Sprintf("%d", alertID), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders a minimal XLSX for an alert episode report.
func BuildReportXLSX(report *pois.Report) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Air Quality Alert Report")
	_ = f.SetCellValue(summarySheet, "A3", "Report")
	_ = f.SetCellValue(summarySheet, "B3", report.ReportID)
	_ = f.SetCellValue(summarySheet, "A4", "Location")
	_ = f.SetCellValue(summarySheet, "B4", report.POIName)
	_ = f.SetCellValue(summarySheet, "A5", "Tier")
	_ = f.SetCellValue(summarySheet, "B5", tierLabel(report.Sensitive))
	_ = f.SetCellValue(summarySheet, "A6", "Start")
	_ = f.SetCellValue(summarySheet, "B6", report.StartTime.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "End")
	_ = f.SetCellValue(summarySheet, "B7", report.EndTime().UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A8", "Duration (minutes)")
	_ = f.SetCellValue(summarySheet, "B8", report.DurationMinutes)

	_ = f.SetCellValue(alertsSheet, "A1", "#")
	_ = f.SetCellValue(alertsSheet, "B1", "Alert ID")
	for i, alertID := range report.AlertIDs {
		row := i + 2
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("A%d", row), i+1)
		_ = f.SetCellValue(alertsSheet, fmt.Sprintf("B%d", row), alertID)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
