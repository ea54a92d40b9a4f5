package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	venues "tpv-fleet/internal/venues/domain"
)

const defaultVenuesTable = "venues"

// VenueRepository is a Postgres implementation of the venue directory.
type VenueRepository struct {
	db    *sql.DB
	table string
}

// NewVenueRepository constructs a repository.
func NewVenueRepository(db *sql.DB, opts ...VenueOption) *VenueRepository {
	repo := &VenueRepository{db: db, table: defaultVenuesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// VenueOption configures the repository.
type VenueOption func(*VenueRepository)

// WithVenuesTable overrides the table name.
func WithVenuesTable(table string) VenueOption {
	return func(repo *VenueRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a venue by id. Returns (nil, nil) when absent.
func (r *VenueRepository) Get(ctx context.Context, id string) (*venues.Venue, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("venue repo: nil db")
	}
	if id == "" {
		return nil, errors.New("venue repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, name, timezone, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var venue venues.Venue
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&venue.ID,
		&venue.TenantID,
		&venue.Name,
		&venue.Timezone,
		&venue.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	venue.CreatedAt = venue.CreatedAt.UTC()
	return &venue, nil
}

// TenantOf resolves the owning tenant of a venue for authorization checks.
func (r *VenueRepository) TenantOf(ctx context.Context, venueID string) (string, error) {
	venue, err := r.Get(ctx, venueID)
	if err != nil {
		return "", err
	}
	if venue == nil {
		return "", venues.ErrNotFound
	}
	return venue.TenantID, nil
}

// Save upserts a venue record.
func (r *VenueRepository) Save(ctx context.Context, venue *venues.Venue) error {
	if r == nil || r.db == nil {
		return errors.New("venue repo: nil db")
	}
	if venue == nil {
		return errors.New("venue repo: nil venue")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, tenant_id, name, timezone)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id)
DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id,
	name = EXCLUDED.name,
	timezone = EXCLUDED.timezone`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		venue.ID,
		venue.TenantID,
		venue.Name,
		venue.Timezone,
	)
	return err
}
