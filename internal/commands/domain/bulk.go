package commands

import (
	"encoding/json"
	"time"
)

// Bulk operation statuses.
const (
	BulkStatusPending            = "pending"
	BulkStatusInProgress         = "in_progress"
	BulkStatusCompleted          = "completed"
	BulkStatusPartiallyCompleted = "partially_completed"
	BulkStatusFailed             = "failed"
)

// BulkOperation is one logical request fanned out to many terminals.
type BulkOperation struct {
	ID                 string          `json:"id"`
	VenueID            string          `json:"venue_id"`
	Type               Type            `json:"type"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	TerminalIDs        []string        `json:"terminal_ids"`
	TotalTerminals     int             `json:"total_terminals"`
	CompletedTerminals int             `json:"completed_terminals"`
	FailedTerminals    int             `json:"failed_terminals"`
	Status             string          `json:"status"`
	ScheduledFor       time.Time       `json:"scheduled_for,omitempty"`
	RequestedBy        string          `json:"requested_by"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        time.Time       `json:"completed_at,omitempty"`
}

// PendingTerminals derives the unresolved count. The invariant
// completed + failed + pending == total holds because pending is never
// stored independently.
func (b *BulkOperation) PendingTerminals() int {
	if b == nil {
		return 0
	}
	pending := b.TotalTerminals - b.CompletedTerminals - b.FailedTerminals
	if pending < 0 {
		return 0
	}
	return pending
}

// FanOutStatus resolves the first-pass bulk status right after the enqueue
// loop, before any device acknowledgement refines the tallies.
func FanOutStatus(total, failed int, scheduled bool) string {
	switch {
	case total > 0 && failed == total:
		return BulkStatusFailed
	case failed == 0 && scheduled:
		return BulkStatusPending
	case failed == 0:
		return BulkStatusCompleted
	default:
		return BulkStatusPartiallyCompleted
	}
}

// AggregateStatus resolves the bulk status from resolved sibling commands.
// While any command is unresolved the operation stays in progress.
func AggregateStatus(total, completed, failed int) string {
	pending := total - completed - failed
	switch {
	case pending > 0:
		return BulkStatusInProgress
	case total > 0 && failed == total:
		return BulkStatusFailed
	case failed == 0:
		return BulkStatusCompleted
	default:
		return BulkStatusPartiallyCompleted
	}
}

// ResolvedAsFailure reports whether a command status counts against the
// failed tally of its bulk operation.
func ResolvedAsFailure(status string) bool {
	switch status {
	case StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}
