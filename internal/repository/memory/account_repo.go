package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/repository"

	"github.com/shopspring/decimal"
)

type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.CustodyAccount
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.CustodyAccount),
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.CustodyAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.ID)
	}

	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.CustodyAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return cloneAccount(account), nil
}

func (r *AccountRepository) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}

	account.Status = status
	return nil
}

func (r *AccountRepository) ListAll(ctx context.Context) ([]*domain.CustodyAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.CustodyAccount, 0, len(r.accounts))
	for _, account := range r.accounts {
		result = append(result, cloneAccount(account))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// ReserveDebit holds the store lock across the limit computation and the
// reference append, so two racing reservations on one account cannot both
// pass a check that only one of them fits under.
func (r *AccountRepository) ReserveDebit(ctx context.Context, accountID string, ref domain.OperationRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[accountID]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, accountID)
	}
	if !account.IsActive() {
		return fmt.Errorf("%w: account %s", repository.ErrAccountInactive, accountID)
	}
	if !account.WithinLimits(ref.Amount, ref.Timestamp) {
		return fmt.Errorf("%w: account %s amount %s", repository.ErrLimitExceeded, accountID, ref.Amount)
	}

	account.RecordDebit(ref)
	return nil
}

func (r *AccountRepository) ApplyPairedMutation(ctx context.Context, debitAccountID string, debitAmount decimal.Decimal, creditAccountID string, creditAmount decimal.Decimal, operationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	debit, exists := r.accounts[debitAccountID]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, debitAccountID)
	}
	credit, exists := r.accounts[creditAccountID]
	if !exists {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, creditAccountID)
	}

	if debit.Balance.LessThan(debitAmount) {
		return fmt.Errorf("%w: account %s balance %s debit %s",
			repository.ErrInsufficientFunds, debitAccountID, debit.Balance, debitAmount)
	}

	debit.Balance = debit.Balance.Sub(debitAmount)
	credit.Balance = credit.Balance.Add(creditAmount)
	credit.RecordCredit(domain.OperationRef{
		OperationID: operationID,
		Timestamp:   at,
		Amount:      creditAmount,
	})

	return nil
}

func cloneAccount(a *domain.CustodyAccount) *domain.CustodyAccount {
	c := *a
	c.RecentOperations = append([]domain.OperationRef(nil), a.RecentOperations...)
	return &c
}
