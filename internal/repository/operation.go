package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/xuecangming/transfer-queue/internal/common/errors"
	"github.com/xuecangming/transfer-queue/internal/common/types"
)

// OperationRepository is the in-memory registry of operations.
//
// Stored values are never mutated in place: Update clones the current
// snapshot, applies the change and swaps the entry, so values returned by
// Get and List stay consistent after the caller receives them.
type OperationRepository struct {
	operations map[string]*types.Operation
	sequence   uint64
	mu         sync.RWMutex
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository() *OperationRepository {
	return &OperationRepository{
		operations: make(map[string]*types.Operation),
	}
}

// Create stores a new operation and assigns its creation sequence
func (r *OperationRepository) Create(op *types.Operation) (*types.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; exists {
		return nil, errors.NewConflictError("operation already exists")
	}

	r.sequence++
	stored := op.Clone()
	stored.Sequence = r.sequence
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt
	r.operations[stored.ID] = stored

	return stored.Clone(), nil
}

// Get retrieves an operation snapshot by ID
func (r *OperationRepository) Get(id string) (*types.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, exists := r.operations[id]
	if !exists {
		return nil, errors.OperationNotFound(id)
	}

	return op.Clone(), nil
}

// Update applies fn to a copy of the operation and stores the result.
// If fn returns an error nothing is stored. fn runs under the registry
// lock and must not call back into the repository.
func (r *OperationRepository) Update(id string, fn func(op *types.Operation) error) (*types.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.operations[id]
	if !exists {
		return nil, errors.OperationNotFound(id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Sequence = current.Sequence
	next.UpdatedAt = time.Now()
	r.operations[id] = next

	return next.Clone(), nil
}

// List returns all operations ordered by priority desc, then creation order
func (r *OperationRepository) List() []*types.Operation {
	return r.ListByStatus()
}

// ListByStatus returns operations in any of the given statuses, ordered like
// List. With no statuses every operation is returned.
func (r *OperationRepository) ListByStatus(statuses ...types.OperationStatus) []*types.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]*types.Operation, 0, len(r.operations))
	for _, op := range r.operations {
		if len(statuses) > 0 && !hasStatus(statuses, op.Status) {
			continue
		}
		ops = append(ops, op.Clone())
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].RunsBefore(ops[j]) })
	return ops
}

// Count returns the number of operations in any of the given statuses
func (r *OperationRepository) Count(statuses ...types.OperationStatus) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(statuses) == 0 {
		return len(r.operations)
	}
	n := 0
	for _, op := range r.operations {
		if hasStatus(statuses, op.Status) {
			n++
		}
	}
	return n
}

// Delete deletes an operation
func (r *OperationRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[id]; !exists {
		return errors.OperationNotFound(id)
	}
	delete(r.operations, id)
	return nil
}

// DeleteByStatus removes every operation in one of the given statuses and
// returns the removed IDs
func (r *OperationRepository) DeleteByStatus(statuses ...types.OperationStatus) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, op := range r.operations {
		if hasStatus(statuses, op.Status) {
			delete(r.operations, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

func hasStatus(statuses []types.OperationStatus, status types.OperationStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
