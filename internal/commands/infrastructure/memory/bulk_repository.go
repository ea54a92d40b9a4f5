package memory

import (
	"context"
	"errors"
	"sync"

	commands "tpv-fleet/internal/commands/domain"
)

// BulkRepository is an in-memory bulk operation store for demo/testing.
type BulkRepository struct {
	mu   sync.RWMutex
	data map[string]*commands.BulkOperation
}

// NewBulkRepository constructs a repository.
func NewBulkRepository() *BulkRepository {
	return &BulkRepository{data: make(map[string]*commands.BulkOperation)}
}

// Create inserts a bulk operation.
func (r *BulkRepository) Create(ctx context.Context, op *commands.BulkOperation) error {
	_ = ctx
	if op == nil {
		return errors.New("memory bulk repo: nil operation")
	}
	if op.ID == "" {
		return errors.New("memory bulk repo: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *op
	clone.TerminalIDs = append([]string(nil), op.TerminalIDs...)
	r.data[op.ID] = &clone
	return nil
}

// Get loads a bulk operation by id. Returns (nil, nil) when absent.
func (r *BulkRepository) Get(ctx context.Context, id string) (*commands.BulkOperation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	clone := *op
	clone.TerminalIDs = append([]string(nil), op.TerminalIDs...)
	return &clone, nil
}

// Update rewrites a stored bulk operation.
func (r *BulkRepository) Update(ctx context.Context, op *commands.BulkOperation) error {
	_ = ctx
	if op == nil {
		return errors.New("memory bulk repo: nil operation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[op.ID]; !ok {
		return commands.ErrNotFound
	}
	clone := *op
	clone.TerminalIDs = append([]string(nil), op.TerminalIDs...)
	r.data[op.ID] = &clone
	return nil
}
