package commands

import "time"

// History statuses use their own vocabulary so dashboard timelines stay
// readable even if the lifecycle statuses evolve.
const (
	HistorySent             = "sent"
	HistoryAckReceived      = "ack_received"
	HistoryExecutionStarted = "execution_started"
	HistoryCompleted        = "completed"
	HistoryFailed           = "failed"
	HistoryTimeout          = "timeout"
	HistoryCancelled        = "cancelled"
)

// HistoryEntry is one immutable lifecycle transition record. Terminal and
// venue names are denormalized so the audit trail survives terminal deletion.
type HistoryEntry struct {
	ID            string    `json:"id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	TerminalID    string    `json:"terminal_id"`
	TerminalName  string    `json:"terminal_name"`
	VenueID       string    `json:"venue_id"`
	VenueName     string    `json:"venue_name"`
	Type          Type      `json:"type"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	RequestedBy   string    `json:"requested_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryStatusFor maps a command lifecycle status to the history
// vocabulary. Acceptance into the queue is recorded as "sent".
func HistoryStatusFor(status string) (string, bool) {
	switch status {
	case StatusPending, StatusQueued, StatusSent:
		return HistorySent, true
	case StatusReceived:
		return HistoryAckReceived, true
	case StatusExecuting:
		return HistoryExecutionStarted, true
	case StatusCompleted:
		return HistoryCompleted, true
	case StatusFailed:
		return HistoryFailed, true
	case StatusExpired:
		return HistoryTimeout, true
	case StatusCancelled:
		return HistoryCancelled, true
	}
	return "", false
}
