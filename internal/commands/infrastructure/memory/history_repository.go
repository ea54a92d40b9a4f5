package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	commands "tpv-fleet/internal/commands/domain"
)

// HistoryRepository is an in-memory history store for demo/testing.
type HistoryRepository struct {
	mu      sync.RWMutex
	entries []commands.HistoryEntry
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

// Append stores one history entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *commands.HistoryEntry) error {
	_ = ctx
	if entry == nil {
		return errors.New("memory history repo: nil entry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// ListByCommand returns the timeline of one command, oldest first.
func (r *HistoryRepository) ListByCommand(ctx context.Context, commandID string) ([]commands.HistoryEntry, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []commands.HistoryEntry
	for _, entry := range r.entries {
		if entry.CommandID == commandID {
			result = append(result, entry)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListByVenue returns the venue timeline within [from, to], newest first.
func (r *HistoryRepository) ListByVenue(ctx context.Context, venueID string, from, to time.Time) ([]commands.HistoryEntry, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []commands.HistoryEntry
	for _, entry := range r.entries {
		if entry.VenueID != venueID {
			continue
		}
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
