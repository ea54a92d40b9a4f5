package interfaces

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	commands "tpv-fleet/internal/commands/domain"
)

func TestBuildHistoryXLSX(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	entries := []commands.HistoryEntry{
		{
			CommandID: "cmd-1", TerminalID: "term-1", TerminalName: "Bar TPV",
			Type: commands.TypeRestart, Status: commands.HistoryCompleted,
			Message: "done", RequestedBy: "user-1", CreatedAt: from.Add(time.Hour),
		},
		{
			CommandID: "cmd-2", TerminalID: "term-2",
			Type: commands.TypeLock, Status: commands.HistoryFailed,
			RequestedBy: "user-1", CreatedAt: from.Add(2 * time.Hour),
		},
	}

	data, err := BuildHistoryXLSX("venue-1", from, to, entries)
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer workbook.Close()

	if venue, _ := workbook.GetCellValue("history", "B2"); venue != "venue-1" {
		t.Fatalf("venue cell: got %q", venue)
	}
	if commandID, _ := workbook.GetCellValue("history", "B7"); commandID != "cmd-1" {
		t.Fatalf("first entry: got %q, want cmd-1", commandID)
	}
	// Entries without a terminal name fall back to the id.
	if terminal, _ := workbook.GetCellValue("history", "C8"); terminal != "term-2" {
		t.Fatalf("terminal fallback: got %q, want term-2", terminal)
	}
}

func TestBuildBulkReportPDF(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	op := &commands.BulkOperation{
		ID: "bulk-1", VenueID: "venue-1", Type: commands.TypeRestart,
		Status: commands.BulkStatusPartiallyCompleted, RequestedBy: "user-1",
		TotalTerminals: 2, CompletedTerminals: 1, FailedTerminals: 1,
		CreatedAt: now, CompletedAt: now.Add(time.Minute),
	}
	siblings := []commands.Command{
		{TerminalID: "term-1", Status: commands.StatusCompleted, ResultStatus: commands.ResultSuccess},
		{TerminalID: "term-2", Status: commands.StatusFailed, ResultStatus: commands.ResultFailure, ResultMessage: "printer jam"},
	}

	data, err := BuildBulkReportPDF(op, siblings)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatal("expected a PDF header")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 60); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 60)
	if len(got) != 60 || got[57:] != "..." {
		t.Fatalf("got %q (len %d)", got, len(got))
	}
}
