package events

import (
	"encoding/json"
	"time"
)

// CommandQueued is published when a command is accepted into the queue.
type CommandQueued struct {
	EventID       string          `json:"event_id"`
	CommandID     string          `json:"command_id"`
	CorrelationID string          `json:"correlation_id"`
	TerminalID    string          `json:"terminal_id"`
	VenueID       string          `json:"venue_id"`
	CommandType   string          `json:"command_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Scheduled     bool            `json:"scheduled"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// CommandStatusChanged is published on every lifecycle transition.
type CommandStatusChanged struct {
	EventID       string    `json:"event_id"`
	CommandID     string    `json:"command_id"`
	CorrelationID string    `json:"correlation_id"`
	TerminalID    string    `json:"terminal_id"`
	VenueID       string    `json:"venue_id"`
	CommandType   string    `json:"command_type"`
	Status        string    `json:"status"`
	ResultStatus  string    `json:"result_status,omitempty"`
	ResultMessage string    `json:"result_message,omitempty"`
	Attempts      int       `json:"attempts"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// BulkOperationUpdated is published whenever bulk tallies are recomputed.
type BulkOperationUpdated struct {
	EventID         string    `json:"event_id"`
	BulkOperationID string    `json:"bulk_operation_id"`
	VenueID         string    `json:"venue_id"`
	CommandType     string    `json:"command_type"`
	Status          string    `json:"status"`
	Total           int       `json:"total"`
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	Pending         int       `json:"pending"`
	OccurredAt      time.Time `json:"occurred_at"`
}
