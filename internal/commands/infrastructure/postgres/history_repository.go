package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	commands "tpv-fleet/internal/commands/domain"
)

const defaultHistoryTable = "command_history"

const historyColumns = `id, command_id, correlation_id, terminal_id, terminal_name,
venue_id, venue_name, command_type, status, message, requested_by, created_at`

// HistoryRepository is a Postgres implementation of the history store.
// Rows are append only.
type HistoryRepository struct {
	db    *sql.DB
	table string
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *sql.DB, opts ...HistoryOption) *HistoryRepository {
	repo := &HistoryRepository{db: db, table: defaultHistoryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// HistoryOption configures the repository.
type HistoryOption func(*HistoryRepository)

// WithHistoryTable overrides the table name.
func WithHistoryTable(table string) HistoryOption {
	return func(repo *HistoryRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Append inserts one history entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *commands.HistoryEntry) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if entry == nil {
		return errors.New("history repo: nil entry")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, command_id, correlation_id, terminal_id, terminal_name,
	venue_id, venue_name, command_type, status, message, requested_by, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.CommandID,
		entry.CorrelationID,
		entry.TerminalID,
		entry.TerminalName,
		entry.VenueID,
		entry.VenueName,
		string(entry.Type),
		entry.Status,
		entry.Message,
		entry.RequestedBy,
		entry.CreatedAt,
	)
	return err
}

// ListByCommand returns the timeline of one command, oldest first.
func (r *HistoryRepository) ListByCommand(ctx context.Context, commandID string) ([]commands.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if commandID == "" {
		return nil, errors.New("history repo: empty command id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE command_id = $1
ORDER BY created_at ASC, id ASC`, historyColumns, r.table)

	return r.list(ctx, query, commandID)
}

// ListByVenue returns the venue timeline within [from, to], newest first.
func (r *HistoryRepository) ListByVenue(ctx context.Context, venueID string, from, to time.Time) ([]commands.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if venueID == "" {
		return nil, errors.New("history repo: empty venue id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE venue_id = $1
  AND created_at >= $2
  AND created_at <= $3
ORDER BY created_at DESC, id DESC`, historyColumns, r.table)

	return r.list(ctx, query, venueID, from, to)
}

func (r *HistoryRepository) list(ctx context.Context, query string, args ...any) ([]commands.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commands.HistoryEntry
	for rows.Next() {
		var (
			entry       commands.HistoryEntry
			commandType string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.CommandID,
			&entry.CorrelationID,
			&entry.TerminalID,
			&entry.TerminalName,
			&entry.VenueID,
			&entry.VenueName,
			&commandType,
			&entry.Status,
			&entry.Message,
			&entry.RequestedBy,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Type = commands.Type(commandType)
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
