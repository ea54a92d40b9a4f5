package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	terminals "tpv-fleet/internal/terminals/domain"
)

const defaultTerminalsTable = "terminals"

const terminalColumns = `id, venue_id, name, serial_number, last_heartbeat,
is_locked, locked_at, operating_status, updated_at`

// TerminalRepository is a Postgres implementation of the terminal directory.
type TerminalRepository struct {
	db    *sql.DB
	table string
}

// NewTerminalRepository constructs a repository.
func NewTerminalRepository(db *sql.DB, opts ...TerminalOption) *TerminalRepository {
	repo := &TerminalRepository{db: db, table: defaultTerminalsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// TerminalOption configures the repository.
type TerminalOption func(*TerminalRepository)

// WithTerminalsTable overrides the table name.
func WithTerminalsTable(table string) TerminalOption {
	return func(repo *TerminalRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a terminal by id. Returns (nil, nil) when absent.
func (r *TerminalRepository) Get(ctx context.Context, id string) (*terminals.Terminal, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("terminal repo: nil db")
	}
	if id == "" {
		return nil, errors.New("terminal repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, terminalColumns, r.table)

	terminal, err := scanTerminal(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return terminal, nil
}

// ListByVenue loads every terminal registered at a venue.
func (r *TerminalRepository) ListByVenue(ctx context.Context, venueID string) ([]terminals.Terminal, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("terminal repo: nil db")
	}
	if venueID == "" {
		return nil, errors.New("terminal repo: empty venue id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE venue_id = $1
ORDER BY name ASC`, terminalColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []terminals.Terminal
	for rows.Next() {
		terminal, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *terminal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a terminal record.
func (r *TerminalRepository) Save(ctx context.Context, terminal *terminals.Terminal) error {
	if r == nil || r.db == nil {
		return errors.New("terminal repo: nil db")
	}
	if terminal == nil {
		return errors.New("terminal repo: nil terminal")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, venue_id, name, serial_number, last_heartbeat,
	is_locked, locked_at, operating_status
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id)
DO UPDATE SET
	venue_id = EXCLUDED.venue_id,
	name = EXCLUDED.name,
	serial_number = EXCLUDED.serial_number,
	last_heartbeat = EXCLUDED.last_heartbeat,
	is_locked = EXCLUDED.is_locked,
	locked_at = EXCLUDED.locked_at,
	operating_status = EXCLUDED.operating_status,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		terminal.ID,
		terminal.VenueID,
		terminal.Name,
		terminal.SerialNumber,
		nullTime(terminal.LastHeartbeat),
		terminal.IsLocked,
		nullTime(terminal.LockedAt),
		terminal.OperatingStatus,
	)
	if err != nil {
		return err
	}
	terminal.UpdatedAt = time.Now().UTC()
	return nil
}

// Apply mutates the provided fields and returns the updated record. Nil
// update fields leave the stored column untouched; a zero LockedAt clears
// the column.
func (r *TerminalRepository) Apply(ctx context.Context, id string, update terminals.Update) (*terminals.Terminal, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("terminal repo: nil db")
	}
	if id == "" {
		return nil, errors.New("terminal repo: empty id")
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	is_locked = COALESCE($2, is_locked),
	locked_at = CASE WHEN $3 THEN $4 ELSE locked_at END,
	operating_status = COALESCE($5, operating_status),
	last_heartbeat = COALESCE($6, last_heartbeat),
	updated_at = NOW()
WHERE id = $1
RETURNING %s`, r.table, terminalColumns)

	var lockedAt sql.NullTime
	if update.LockedAt != nil {
		lockedAt = nullTime(*update.LockedAt)
	}
	var heartbeat sql.NullTime
	if update.LastHeartbeat != nil {
		heartbeat = nullTime(*update.LastHeartbeat)
	}
	terminal, err := scanTerminal(r.db.QueryRowContext(ctx, query,
		id,
		update.IsLocked,
		update.LockedAt != nil,
		lockedAt,
		update.OperatingStatus,
		heartbeat,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, terminals.ErrNotFound
		}
		return nil, err
	}
	return terminal, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTerminal(row rowScanner) (*terminals.Terminal, error) {
	var (
		terminal      terminals.Terminal
		lastHeartbeat sql.NullTime
		lockedAt      sql.NullTime
	)
	if err := row.Scan(
		&terminal.ID,
		&terminal.VenueID,
		&terminal.Name,
		&terminal.SerialNumber,
		&lastHeartbeat,
		&terminal.IsLocked,
		&lockedAt,
		&terminal.OperatingStatus,
		&terminal.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastHeartbeat.Valid {
		terminal.LastHeartbeat = lastHeartbeat.Time.UTC()
	}
	if lockedAt.Valid {
		terminal.LockedAt = lockedAt.Time.UTC()
	}
	terminal.UpdatedAt = terminal.UpdatedAt.UTC()
	return &terminal, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
