package commands

import (
	"encoding/json"
	"time"
)

// Command lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusReceived  = "received"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Device-reported result statuses.
const (
	ResultSuccess        = "success"
	ResultPartialSuccess = "partial_success"
	ResultFailure        = "failure"
	ResultTimeout        = "timeout"
)

// Command represents one remote instruction targeted at a single terminal.
type Command struct {
	ID              string          `json:"id"`
	CorrelationID   string          `json:"correlation_id"`
	TerminalID      string          `json:"terminal_id"`
	VenueID         string          `json:"venue_id"`
	Type            Type            `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Priority        int             `json:"priority"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	RequiresPin     bool            `json:"requires_pin"`
	ScheduledFor    time.Time       `json:"scheduled_for,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	RequestedBy     string          `json:"requested_by"`
	RequestedByName string          `json:"requested_by_name,omitempty"`
	BulkOperationID string          `json:"bulk_operation_id,omitempty"`
	ResultStatus    string          `json:"result_status,omitempty"`
	ResultMessage   string          `json:"result_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExecutedAt      time.Time       `json:"executed_at,omitempty"`
}

// forward holds the permitted forward edges of the lifecycle. Expiry and
// cancellation shortcuts are handled in CanTransition.
var forward = map[string][]string{
	StatusPending:   {StatusQueued, StatusSent},
	StatusQueued:    {StatusSent},
	StatusSent:      {StatusReceived},
	StatusReceived:  {StatusExecuting},
	StatusExecuting: {StatusCompleted, StatusFailed},
}

// IsTerminalStatus reports whether no further transitions are permitted.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}
	switch to {
	case StatusExpired:
		return true
	case StatusCancelled:
		return from == StatusPending || from == StatusQueued
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CountsAttempt reports whether entering the status increments the
// re-delivery counter. Delivery and each device acknowledgement step
// count; reaching MaxAttempts is a signal for callers, never an
// automatic failure.
func CountsAttempt(status string) bool {
	switch status {
	case StatusSent, StatusReceived, StatusExecuting:
		return true
	}
	return false
}

// Due reports whether the command is eligible for delivery at now.
func (c *Command) Due(now time.Time) bool {
	if c == nil {
		return false
	}
	return c.ScheduledFor.IsZero() || !c.ScheduledFor.After(now)
}

// ExpiredAt reports whether the command is past its expiration at now.
func (c *Command) ExpiredAt(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now)
}

// StatusUpdate carries the mutable fields applied alongside a status
// transition. Zero values leave the stored column untouched.
type StatusUpdate struct {
	ResultStatus  string
	ResultMessage string
	ExecutedAt    time.Time
}
