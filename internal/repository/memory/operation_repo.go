package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/repository"
)

type OperationRepository struct {
	mu         sync.RWMutex
	operations map[string]*domain.CustodyOperation
}

func NewOperationRepository() *OperationRepository {
	return &OperationRepository{
		operations: make(map[string]*domain.CustodyOperation),
	}
}

func (r *OperationRepository) Create(ctx context.Context, op *domain.CustodyOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.operations[op.ID]; exists {
		return fmt.Errorf("%w: operation %s", repository.ErrDuplicate, op.ID)
	}

	r.operations[op.ID] = cloneOperation(op)
	return nil
}

func (r *OperationRepository) GetByID(ctx context.Context, id string) (*domain.CustodyOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, exists := r.operations[id]
	if !exists {
		return nil, fmt.Errorf("%w: operation %s", repository.ErrNotFound, id)
	}
	return cloneOperation(op), nil
}

func (r *OperationRepository) Advance(ctx context.Context, id string, expect domain.OperationStatus, step domain.OperationStep, next domain.OperationStatus) (*domain.CustodyOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, exists := r.operations[id]
	if !exists {
		return nil, fmt.Errorf("%w: operation %s", repository.ErrNotFound, id)
	}
	if op.Status != expect {
		return nil, fmt.Errorf("%w: operation %s is %s, want %s",
			repository.ErrInvalidState, id, op.Status, expect)
	}

	if err := op.AppendStep(step); err != nil {
		return nil, err
	}
	op.Status = next

	return cloneOperation(op), nil
}

func (r *OperationRepository) ListByDay(ctx context.Context, date time.Time) ([]*domain.CustodyOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := domain.DayKey(date)
	var result []*domain.CustodyOperation
	for _, op := range r.operations {
		if domain.DayKey(op.CreatedAt) == key {
			result = append(result, cloneOperation(op))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func cloneOperation(op *domain.CustodyOperation) *domain.CustodyOperation {
	c := *op
	c.Steps = append([]domain.OperationStep(nil), op.Steps...)
	return &c
}
