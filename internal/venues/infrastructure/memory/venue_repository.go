package memory

import (
	"context"
	"errors"
	"sync"

	venues "tpv-fleet/internal/venues/domain"
)

// VenueRepository is an in-memory venue directory for demo/testing.
type VenueRepository struct {
	mu   sync.RWMutex
	data map[string]*venues.Venue
}

// NewVenueRepository constructs a repository.
func NewVenueRepository() *VenueRepository {
	return &VenueRepository{data: make(map[string]*venues.Venue)}
}

// Get loads a venue by id. Returns (nil, nil) when absent.
func (r *VenueRepository) Get(ctx context.Context, id string) (*venues.Venue, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	venue, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	clone := *venue
	return &clone, nil
}

// TenantOf resolves the owning tenant of a venue.
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
	_ = ctx
	if venue == nil {
		return errors.New("memory venue repo: nil venue")
	}
	if venue.ID == "" {
		return errors.New("memory venue repo: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *venue
	r.data[venue.ID] = &clone
	return nil
}
