package notify

import (
	"context"
	"time"
)

// Event kinds pushed to live observers.
const (
	KindCommandQueued  = "command.queued"
	KindCommandStatus  = "command.status"
	KindTerminalStatus = "terminal.status"
	KindBulkProgress   = "bulk.progress"
)

// Event is a best-effort observer notification.
type Event struct {
	Kind            string    `json:"kind"`
	VenueID         string    `json:"venue_id,omitempty"`
	TerminalID      string    `json:"terminal_id,omitempty"`
	CommandID       string    `json:"command_id,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	BulkOperationID string    `json:"bulk_operation_id,omitempty"`
	CommandType     string    `json:"command_type,omitempty"`
	Status          string    `json:"status,omitempty"`
	ResultStatus    string    `json:"result_status,omitempty"`
	Message         string    `json:"message,omitempty"`
	At              time.Time `json:"at"`
}

// Notifier pushes events to live observers. Implementations swallow their
// own failures; a notification must never fail the operation that raised it.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}
