package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	commands "tpv-fleet/internal/commands/domain"
)

const defaultCommandsTable = "commands"

const commandColumns = `id, correlation_id, terminal_id, venue_id, command_type, payload,
priority, status, attempts, max_attempts, requires_pin, scheduled_for, expires_at,
requested_by, requested_by_name, bulk_operation_id, result_status, result_message,
created_at, executed_at`

// CommandRepository is a Postgres implementation of the command store.
type CommandRepository struct {
	db    *sql.DB
	table string
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB, opts ...CommandOption) *CommandRepository {
	repo := &CommandRepository{db: db, table: defaultCommandsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CommandOption configures the repository.
type CommandOption func(*CommandRepository)

// WithCommandsTable overrides the table name.
func WithCommandsTable(table string) CommandOption {
	return func(repo *CommandRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Create inserts a new command row.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if cmd == nil {
		return errors.New("command repo: nil command")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, correlation_id, terminal_id, venue_id, command_type, payload,
	priority, status, attempts, max_attempts, requires_pin, scheduled_for,
	expires_at, requested_by, requested_by_name, bulk_operation_id,
	result_status, result_message, created_at, executed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
)`, r.table)

	var payload any
	if len(cmd.Payload) > 0 {
		payload = []byte(cmd.Payload)
	}
	_, err := r.db.ExecContext(ctx, query,
		cmd.ID,
		cmd.CorrelationID,
		cmd.TerminalID,
		cmd.VenueID,
		string(cmd.Type),
		payload,
		cmd.Priority,
		cmd.Status,
		cmd.Attempts,
		cmd.MaxAttempts,
		cmd.RequiresPin,
		nullableTime(cmd.ScheduledFor),
		cmd.ExpiresAt,
		cmd.RequestedBy,
		cmd.RequestedByName,
		cmd.BulkOperationID,
		cmd.ResultStatus,
		cmd.ResultMessage,
		cmd.CreatedAt,
		nullableTime(cmd.ExecutedAt),
	)
	return err
}

// Get loads a command by id. Returns (nil, nil) when absent.
func (r *CommandRepository) Get(ctx context.Context, id string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if id == "" {
		return nil, errors.New("command repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, commandColumns, r.table)

	cmd, err := scanCommand(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return cmd, nil
}

// Transition applies a compare-and-swap status move. The WHERE predicate
// carries the allowed source statuses so two writers racing on the same
// command cannot both win.
func (r *CommandRepository) Transition(ctx context.Context, id, to string, from []string, update commands.StatusUpdate) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if id == "" {
		return nil, errors.New("command repo: empty id")
	}
	if len(from) == 0 {
		return nil, errors.New("command repo: empty source status set")
	}

	attemptDelta := 0
	if commands.CountsAttempt(to) {
		attemptDelta = 1
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	attempts = attempts + $3,
	result_status = CASE WHEN $4 <> '' THEN $4 ELSE result_status END,
	result_message = CASE WHEN $5 <> '' THEN $5 ELSE result_message END,
	executed_at = COALESCE($6, executed_at)
WHERE id = $1 AND status = ANY($7)
RETURNING %s`, r.table, commandColumns)

	cmd, err := scanCommand(r.db.QueryRowContext(ctx, query,
		id,
		to,
		attemptDelta,
		update.ResultStatus,
		update.ResultMessage,
		nullableTime(update.ExecutedAt),
		from,
	))
	if err == nil {
		return cmd, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	existing, lookupErr := r.Get(ctx, id)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing == nil {
		return nil, commands.ErrNotFound
	}
	return nil, fmt.Errorf("%w: %s -> %s", commands.ErrInvalidTransition, existing.Status, to)
}

// ListPendingForTerminal returns the deliverable backlog of one terminal.
func (r *CommandRepository) ListPendingForTerminal(ctx context.Context, terminalID string, now time.Time) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if terminalID == "" {
		return nil, errors.New("command repo: empty terminal id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE terminal_id = $1
  AND status IN ('pending', 'queued')
  AND (scheduled_for IS NULL OR scheduled_for <= $2)
  AND expires_at > $2
ORDER BY priority DESC, created_at ASC`, commandColumns, r.table)

	return r.list(ctx, query, terminalID, now)
}

// ListDueScheduled returns scheduled commands whose time has come.
func (r *CommandRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE status = 'pending'
  AND scheduled_for IS NOT NULL
  AND scheduled_for <= $1
  AND expires_at > $1
ORDER BY scheduled_for ASC
LIMIT $2`, commandColumns, r.table)

	return r.list(ctx, query, now, limit)
}

// ListExpired returns unresolved commands past their expiration.
func (r *CommandRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE status IN ('pending', 'queued', 'sent', 'received', 'executing')
  AND expires_at <= $1
ORDER BY expires_at ASC
LIMIT $2`, commandColumns, r.table)

	return r.list(ctx, query, now, limit)
}

// ListByBulkOperation returns the fanned-out siblings of a bulk operation.
func (r *CommandRepository) ListByBulkOperation(ctx context.Context, bulkID string) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if bulkID == "" {
		return nil, errors.New("command repo: empty bulk operation id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE bulk_operation_id = $1
ORDER BY created_at ASC`, commandColumns, r.table)

	return r.list(ctx, query, bulkID)
}

func (r *CommandRepository) list(ctx context.Context, query string, args ...any) ([]commands.Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commands.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*commands.Command, error) {
	var (
		cmd          commands.Command
		commandType  string
		payload      []byte
		scheduledFor sql.NullTime
		executedAt   sql.NullTime
	)
	if err := row.Scan(
		&cmd.ID,
		&cmd.CorrelationID,
		&cmd.TerminalID,
		&cmd.VenueID,
		&commandType,
		&payload,
		&cmd.Priority,
		&cmd.Status,
		&cmd.Attempts,
		&cmd.MaxAttempts,
		&cmd.RequiresPin,
		&scheduledFor,
		&cmd.ExpiresAt,
		&cmd.RequestedBy,
		&cmd.RequestedByName,
		&cmd.BulkOperationID,
		&cmd.ResultStatus,
		&cmd.ResultMessage,
		&cmd.CreatedAt,
		&executedAt,
	); err != nil {
		return nil, err
	}
	cmd.Type = commands.Type(commandType)
	if len(payload) > 0 {
		cmd.Payload = append([]byte(nil), payload...)
	}
	if scheduledFor.Valid {
		cmd.ScheduledFor = scheduledFor.Time.UTC()
	}
	if executedAt.Valid {
		cmd.ExecutedAt = executedAt.Time.UTC()
	}
	cmd.ExpiresAt = cmd.ExpiresAt.UTC()
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	return &cmd, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
