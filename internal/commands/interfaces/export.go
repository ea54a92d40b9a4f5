package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	commands "tpv-fleet/internal/commands/domain"
)

// BuildHistoryXLSX renders a command history export for back-office audits.
func BuildHistoryXLSX(venueID string, from, to time.Time, entries []commands.HistoryEntry) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "history"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Command History")
	_ = f.SetCellValue(sheet, "A2", "Venue")
	_ = f.SetCellValue(sheet, "B2", venueID)
	_ = f.SetCellValue(sheet, "A3", "From")
	_ = f.SetCellValue(sheet, "B3", from.Format(time.RFC3339))
	_ = f.SetCellValue(sheet, "A4", "To")
	_ = f.SetCellValue(sheet, "B4", to.Format(time.RFC3339))

	headers := []string{"Time", "Command", "Terminal", "Type", "Status", "Message", "Requested By"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 6)
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, entry := range entries {
		row := i + 7
		terminal := entry.TerminalName
		if terminal == "" {
			terminal = entry.TerminalID
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.CreatedAt.Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.CommandID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), terminal)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), string(entry.Type))
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), entry.Status)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), entry.Message)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), entry.RequestedBy)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBulkReportPDF renders a per-terminal outcome report for a bulk
// operation.
func BuildBulkReportPDF(op *commands.BulkOperation, siblings []commands.Command) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Bulk Operation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Operation: %s", op.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Venue: %s", op.VenueID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Command: %s", op.Type))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", op.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Requested by: %s", op.RequestedBy))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Created: %s", op.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !op.CompletedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Completed: %s", op.CompletedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Terminals: %d total, %d completed, %d failed, %d pending",
		op.TotalTerminals, op.CompletedTerminals, op.FailedTerminals, op.PendingTerminals()))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(55, 6, "Terminal", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Result", "1", 0, "C", false, 0, "")
	pdf.CellFormat(75, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, cmd := range siblings {
		pdf.CellFormat(55, 6, cmd.TerminalID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, cmd.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, cmd.ResultStatus, "1", 0, "C", false, 0, "")
		pdf.CellFormat(75, 6, truncate(cmd.ResultMessage, 60), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
