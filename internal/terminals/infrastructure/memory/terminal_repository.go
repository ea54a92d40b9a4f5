package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	terminals "tpv-fleet/internal/terminals/domain"
)

// TerminalRepository is an in-memory terminal directory for demo/testing.
type TerminalRepository struct {
	mu   sync.RWMutex
	data map[string]*terminals.Terminal
}

// NewTerminalRepository constructs a repository.
func NewTerminalRepository() *TerminalRepository {
	return &TerminalRepository{data: make(map[string]*terminals.Terminal)}
}

// Get loads a terminal by id. Returns (nil, nil) when absent.
func (r *TerminalRepository) Get(ctx context.Context, id string) (*terminals.Terminal, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	terminal, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	clone := *terminal
	return &clone, nil
}

// ListByVenue loads every terminal registered at a venue.
func (r *TerminalRepository) ListByVenue(ctx context.Context, venueID string) ([]terminals.Terminal, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []terminals.Terminal
	for _, terminal := range r.data {
		if terminal.VenueID == venueID {
			result = append(result, *terminal)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Save upserts a terminal record.
func (r *TerminalRepository) Save(ctx context.Context, terminal *terminals.Terminal) error {
	_ = ctx
	if terminal == nil {
		return errors.New("memory terminal repo: nil terminal")
	}
	if terminal.ID == "" {
		return errors.New("memory terminal repo: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *terminal
	clone.UpdatedAt = time.Now().UTC()
	r.data[terminal.ID] = &clone
	return nil
}

// Apply mutates the provided fields and returns the updated record.
func (r *TerminalRepository) Apply(ctx context.Context, id string, update terminals.Update) (*terminals.Terminal, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	terminal, ok := r.data[id]
	if !ok {
		return nil, terminals.ErrNotFound
	}
	if update.IsLocked != nil {
		terminal.IsLocked = *update.IsLocked
	}
	if update.LockedAt != nil {
		terminal.LockedAt = *update.LockedAt
	}
	if update.OperatingStatus != nil {
		terminal.OperatingStatus = *update.OperatingStatus
	}
	if update.LastHeartbeat != nil {
		terminal.LastHeartbeat = *update.LastHeartbeat
	}
	terminal.UpdatedAt = time.Now().UTC()
	clone := *terminal
	return &clone, nil
}
