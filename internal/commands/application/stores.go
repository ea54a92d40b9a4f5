package application

import (
	"context"
	"time"

	commands "tpv-fleet/internal/commands/domain"
	terminals "tpv-fleet/internal/terminals/domain"
	venues "tpv-fleet/internal/venues/domain"
)

// Clock provides time to the services.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// CommandStore persists queued commands. Transition is the only mutation
// path after Create: it applies a compare-and-swap on the status column so
// concurrent ACK delivery and sweeps cannot clobber each other.
type CommandStore interface {
	Create(ctx context.Context, cmd *commands.Command) error
	Get(ctx context.Context, id string) (*commands.Command, error)
	// Transition moves the command to status `to` only when its current
	// status is one of `from`, incrementing the attempt counter when the
	// target status counts one. Returns ErrNotFound for an unknown id and
	// ErrInvalidTransition when the CAS predicate does not match.
	Transition(ctx context.Context, id, to string, from []string, update commands.StatusUpdate) (*commands.Command, error)
	// ListPendingForTerminal returns undelivered, due, unexpired commands
	// ordered by priority descending then createdAt ascending.
	ListPendingForTerminal(ctx context.Context, terminalID string, now time.Time) ([]commands.Command, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]commands.Command, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]commands.Command, error)
	ListByBulkOperation(ctx context.Context, bulkID string) ([]commands.Command, error)
}

// BulkStore persists bulk operations.
type BulkStore interface {
	Create(ctx context.Context, op *commands.BulkOperation) error
	Get(ctx context.Context, id string) (*commands.BulkOperation, error)
	Update(ctx context.Context, op *commands.BulkOperation) error
}

// HistoryStore appends immutable lifecycle history.
type HistoryStore interface {
	Append(ctx context.Context, entry *commands.HistoryEntry) error
	ListByCommand(ctx context.Context, commandID string) ([]commands.HistoryEntry, error)
	ListByVenue(ctx context.Context, venueID string, from, to time.Time) ([]commands.HistoryEntry, error)
}

// TerminalDirectory is the external device registry: reads plus the partial
// updates command results are allowed to apply.
type TerminalDirectory interface {
	Get(ctx context.Context, id string) (*terminals.Terminal, error)
	Apply(ctx context.Context, id string, update terminals.Update) (*terminals.Terminal, error)
}

// VenueDirectory resolves venues for tenancy checks and history denormalization.
type VenueDirectory interface {
	Get(ctx context.Context, id string) (*venues.Venue, error)
}
