package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	commands "tpv-fleet/internal/commands/domain"
)

// CommandRepository is an in-memory command store for demo/testing.
type CommandRepository struct {
	mu   sync.RWMutex
	data map[string]*commands.Command
}

// NewCommandRepository constructs a repository.
func NewCommandRepository() *CommandRepository {
	return &CommandRepository{data: make(map[string]*commands.Command)}
}

// Create inserts a command.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	_ = ctx
	if cmd == nil {
		return errors.New("memory command repo: nil command")
	}
	if cmd.ID == "" {
		return errors.New("memory command repo: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[cmd.ID]; exists {
		return fmt.Errorf("memory command repo: duplicate id %s", cmd.ID)
	}
	clone := *cmd
	r.data[cmd.ID] = &clone
	return nil
}

// Get loads a command by id. Returns (nil, nil) when absent.
func (r *CommandRepository) Get(ctx context.Context, id string) (*commands.Command, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	clone := *cmd
	return &clone, nil
}

// Transition applies a compare-and-swap status move under the lock.
func (r *CommandRepository) Transition(ctx context.Context, id, to string, from []string, update commands.StatusUpdate) (*commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd, ok := r.data[id]
	if !ok {
		return nil, commands.ErrNotFound
	}
	matched := false
	for _, status := range from {
		if cmd.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: %s -> %s", commands.ErrInvalidTransition, cmd.Status, to)
	}

	cmd.Status = to
	if commands.CountsAttempt(to) {
		cmd.Attempts++
	}
	if update.ResultStatus != "" {
		cmd.ResultStatus = update.ResultStatus
	}
	if update.ResultMessage != "" {
		cmd.ResultMessage = update.ResultMessage
	}
	if !update.ExecutedAt.IsZero() {
		cmd.ExecutedAt = update.ExecutedAt
	}
	clone := *cmd
	return &clone, nil
}

// ListPendingForTerminal returns the deliverable backlog ordered by
// priority descending then createdAt ascending.
func (r *CommandRepository) ListPendingForTerminal(ctx context.Context, terminalID string, now time.Time) ([]commands.Command, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range r.data {
		if cmd.TerminalID != terminalID {
			continue
		}
		if cmd.Status != commands.StatusPending && cmd.Status != commands.StatusQueued {
			continue
		}
		if !cmd.Due(now) || cmd.ExpiredAt(now) {
			continue
		}
		result = append(result, *cmd)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListDueScheduled returns scheduled pending commands whose time has come.
func (r *CommandRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]commands.Command, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range r.data {
		if cmd.Status != commands.StatusPending || cmd.ScheduledFor.IsZero() {
			continue
		}
		if cmd.ScheduledFor.After(now) || cmd.ExpiredAt(now) {
			continue
		}
		result = append(result, *cmd)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ScheduledFor.Before(result[j].ScheduledFor)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListExpired returns unresolved commands past their expiration.
func (r *CommandRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]commands.Command, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range r.data {
		if commands.IsTerminalStatus(cmd.Status) {
			continue
		}
		if !cmd.ExpiredAt(now) {
			continue
		}
		result = append(result, *cmd)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByBulkOperation returns the fanned-out siblings of a bulk operation.
func (r *CommandRepository) ListByBulkOperation(ctx context.Context, bulkID string) ([]commands.Command, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range r.data {
		if cmd.BulkOperationID == bulkID {
			result = append(result, *cmd)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
