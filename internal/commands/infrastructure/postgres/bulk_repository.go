package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	commands "tpv-fleet/internal/commands/domain"
)

const defaultBulkTable = "bulk_operations"

// BulkRepository is a Postgres implementation of the bulk operation store.
type BulkRepository struct {
	db    *sql.DB
	table string
}

// NewBulkRepository constructs a repository.
func NewBulkRepository(db *sql.DB, opts ...BulkOption) *BulkRepository {
	repo := &BulkRepository{db: db, table: defaultBulkTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// BulkOption configures the repository.
type BulkOption func(*BulkRepository)

// WithBulkTable overrides the table name.
func WithBulkTable(table string) BulkOption {
	return func(repo *BulkRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Create inserts a bulk operation row.
func (r *BulkRepository) Create(ctx context.Context, op *commands.BulkOperation) error {
	if r == nil || r.db == nil {
		return errors.New("bulk repo: nil db")
	}
	if op == nil {
		return errors.New("bulk repo: nil operation")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, venue_id, command_type, payload, terminal_ids, total_terminals,
	completed_terminals, failed_terminals, status, scheduled_for,
	requested_by, created_at, completed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)`, r.table)

	var payload any
	if len(op.Payload) > 0 {
		payload = []byte(op.Payload)
	}
	terminalIDs, err := json.Marshal(op.TerminalIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query,
		op.ID,
		op.VenueID,
		string(op.Type),
		payload,
		terminalIDs,
		op.TotalTerminals,
		op.CompletedTerminals,
		op.FailedTerminals,
		op.Status,
		nullableTime(op.ScheduledFor),
		op.RequestedBy,
		op.CreatedAt,
		nullableTime(op.CompletedAt),
	)
	return err
}

// Get loads a bulk operation by id. Returns (nil, nil) when absent.
func (r *BulkRepository) Get(ctx context.Context, id string) (*commands.BulkOperation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bulk repo: nil db")
	}
	if id == "" {
		return nil, errors.New("bulk repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, venue_id, command_type, payload, terminal_ids, total_terminals,
	completed_terminals, failed_terminals, status, scheduled_for,
	requested_by, created_at, completed_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var (
		op           commands.BulkOperation
		commandType  string
		payload      []byte
		terminalIDs  []byte
		scheduledFor sql.NullTime
		completedAt  sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&op.ID,
		&op.VenueID,
		&commandType,
		&payload,
		&terminalIDs,
		&op.TotalTerminals,
		&op.CompletedTerminals,
		&op.FailedTerminals,
		&op.Status,
		&scheduledFor,
		&op.RequestedBy,
		&op.CreatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	op.Type = commands.Type(commandType)
	if len(payload) > 0 {
		op.Payload = append([]byte(nil), payload...)
	}
	if len(terminalIDs) > 0 {
		if err := json.Unmarshal(terminalIDs, &op.TerminalIDs); err != nil {
			return nil, err
		}
	}
	if scheduledFor.Valid {
		op.ScheduledFor = scheduledFor.Time.UTC()
	}
	if completedAt.Valid {
		op.CompletedAt = completedAt.Time.UTC()
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return &op, nil
}

// Update rewrites the mutable tally columns of a bulk operation.
func (r *BulkRepository) Update(ctx context.Context, op *commands.BulkOperation) error {
	if r == nil || r.db == nil {
		return errors.New("bulk repo: nil db")
	}
	if op == nil {
		return errors.New("bulk repo: nil operation")
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	completed_terminals = $2,
	failed_terminals = $3,
	status = $4,
	completed_at = $5
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query,
		op.ID,
		op.CompletedTerminals,
		op.FailedTerminals,
		op.Status,
		nullableTime(op.CompletedAt),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return commands.ErrNotFound
	}
	return nil
}
