package repository

import (
	"context"
	"errors"
	"time"

	"custody_ledger/internal/domain"

	"github.com/shopspring/decimal"
)

type AccountRepository interface {
	Create(ctx context.Context, account *domain.CustodyAccount) error
	GetByID(ctx context.Context, id string) (*domain.CustodyAccount, error)
	SetStatus(ctx context.Context, id string, status domain.AccountStatus) error
	ListAll(ctx context.Context) ([]*domain.CustodyAccount, error)

	// ReserveDebit performs the limit check and the DEBIT reference append as
	// one atomic unit. Two concurrent reservations against the same account
	// must serialize; a reservation that would push the rolling daily or
	// monthly total past its ceiling fails with ErrLimitExceeded and leaves
	// the account untouched.
	ReserveDebit(ctx context.Context, accountID string, ref domain.OperationRef) error

	// ApplyPairedMutation debits one account and credits the other inside a
	// single transactional boundary: both mutations happen or neither does,
	// and no reader observes a partial pair. The CREDIT reference is appended
	// to the credited account.
	ApplyPairedMutation(ctx context.Context, debitAccountID string, debitAmount decimal.Decimal, creditAccountID string, creditAmount decimal.Decimal, operationID string, at time.Time) error
}

type OperationRepository interface {
	Create(ctx context.Context, op *domain.CustodyOperation) error
	GetByID(ctx context.Context, id string) (*domain.CustodyOperation, error)

	// Advance appends a step and moves the operation from the expected status
	// to the next one as a single compare-and-swap. A mismatch between the
	// stored status and expect fails with ErrInvalidState and appends nothing.
	Advance(ctx context.Context, id string, expect domain.OperationStatus, step domain.OperationStep, next domain.OperationStatus) (*domain.CustodyOperation, error)

	ListByDay(ctx context.Context, date time.Time) ([]*domain.CustodyOperation, error)
}

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate entry")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrAccountInactive   = errors.New("account inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("operation not in required state")
)
