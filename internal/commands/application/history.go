package application

import (
	"context"
	"log"

	commands "tpv-fleet/internal/commands/domain"
)

// historyRecorder appends one immutable entry per lifecycle transition,
// denormalizing terminal and venue names so the timeline survives terminal
// deletion. Recording is best effort: an audit write must never fail the
// transition it documents.
type historyRecorder struct {
	store     HistoryStore
	terminals TerminalDirectory
	venues    VenueDirectory
	clock     Clock
	logger    *log.Logger
}

func (r *historyRecorder) record(ctx context.Context, cmd *commands.Command, message string) {
	if r == nil || r.store == nil || cmd == nil {
		return
	}
	status, ok := commands.HistoryStatusFor(cmd.Status)
	if !ok {
		return
	}
	entry := &commands.HistoryEntry{
		ID:            newID("hist"),
		CommandID:     cmd.ID,
		CorrelationID: cmd.CorrelationID,
		TerminalID:    cmd.TerminalID,
		VenueID:       cmd.VenueID,
		Type:          cmd.Type,
		Status:        status,
		Message:       message,
		RequestedBy:   cmd.RequestedBy,
		CreatedAt:     r.clock.Now(),
	}
	if r.terminals != nil {
		if terminal, err := r.terminals.Get(ctx, cmd.TerminalID); err == nil && terminal != nil {
			entry.TerminalName = terminal.Name
		}
	}
	if r.venues != nil {
		if venue, err := r.venues.Get(ctx, cmd.VenueID); err == nil && venue != nil {
			entry.VenueName = venue.Name
		}
	}
	if err := r.store.Append(ctx, entry); err != nil && r.logger != nil {
		r.logger.Printf("history append error: command=%s status=%s: %v", cmd.ID, status, err)
	}
}
