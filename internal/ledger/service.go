package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/gateway"
	"custody_ledger/internal/repository"
	"custody_ledger/pkg/metrics"
	"custody_ledger/pkg/validator"
)

const defaultCollaboratorTimeout = 10 * time.Second

// ReceiptValidator checks funds-reception receipt references before an
// operation is allowed to advance.
type ReceiptValidator interface {
	Validate(receiptReference string) bool
}

// ReconciliationCase describes an operation that failed after funds were
// already received and needs manual follow-up.
type ReconciliationCase struct {
	OperationID     string          `json:"operation_id"`
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        domain.Currency `json:"currency"`
	Reason          string          `json:"reason"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// ReconciliationRecorder receives failed-transfer cases for manual review.
type ReconciliationRecorder interface {
	Enqueue(ctx context.Context, c ReconciliationCase) error
}

// Limits is a daily/monthly spending cap pair.
type Limits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// DefaultLimits returns the per-currency caps applied when account
// registration does not override them.
func DefaultLimits() map[domain.Currency]Limits {
	return map[domain.Currency]Limits{
		domain.CurrencyARS: {Daily: decimal.NewFromInt(1_000_000), Monthly: decimal.NewFromInt(10_000_000)},
		domain.CurrencyUSD: {Daily: decimal.NewFromInt(5_000), Monthly: decimal.NewFromInt(50_000)},
	}
}

// Params collects the collaborators a Service needs.
type Params struct {
	Accounts       repository.AccountRepository
	Operations     repository.OperationRepository
	Rates          gateway.RateProvider
	Executor       gateway.TransferExecutor
	Receipts       ReceiptValidator
	Reconciliation ReconciliationRecorder
	Metrics        *metrics.Collector
	Logger         *slog.Logger

	// CollaboratorTimeout bounds each rate-provider and transfer-executor
	// call. Zero means defaultCollaboratorTimeout.
	CollaboratorTimeout time.Duration

	// DefaultLimits overrides the built-in per-currency caps when non-nil.
	DefaultLimits map[domain.Currency]Limits

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Service owns custody accounts and drives conversion operations through
// their lifecycle.
type Service struct {
	accounts   repository.AccountRepository
	operations repository.OperationRepository
	rates      gateway.RateProvider
	executor   gateway.TransferExecutor
	receipts   ReceiptValidator
	recon      ReconciliationRecorder
	metrics    *metrics.Collector
	logger     *slog.Logger
	registry   *validator.RegistrationValidator
	timeout    time.Duration
	limits     map[domain.Currency]Limits
	now        func() time.Time

	opLocks sync.Map // operation id -> *sync.Mutex
}

func NewService(p Params) *Service {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.CollaboratorTimeout <= 0 {
		p.CollaboratorTimeout = defaultCollaboratorTimeout
	}
	if p.DefaultLimits == nil {
		p.DefaultLimits = DefaultLimits()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Service{
		accounts:   p.Accounts,
		operations: p.Operations,
		rates:      p.Rates,
		executor:   p.Executor,
		receipts:   p.Receipts,
		recon:      p.Reconciliation,
		metrics:    p.Metrics,
		logger:     p.Logger,
		registry:   validator.NewRegistrationValidator(),
		timeout:    p.CollaboratorTimeout,
		limits:     p.DefaultLimits,
		now:        p.Now,
	}
}

// RegisterAccountInput carries the fields needed to open a custody account.
// DailyLimit and MonthlyLimit are optional; zero values fall back to the
// per-currency defaults.
type RegisterAccountInput struct {
	Currency      string
	Bank          string
	AccountNumber string
	RoutingAlias  string
	Owner         string
	OwnerDocument string
	DailyLimit    decimal.Decimal
	MonthlyLimit  decimal.Decimal
}

// RegisterAccount opens a new active custody account with a zero balance.
func (s *Service) RegisterAccount(ctx context.Context, in RegisterAccountInput) (*domain.CustodyAccount, error) {
	currency, err := domain.ParseCurrency(in.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.registry.Validate(validator.Registration{
		Bank:          in.Bank,
		AccountNumber: in.AccountNumber,
		RoutingAlias:  in.RoutingAlias,
		Owner:         in.Owner,
		OwnerDocument: in.OwnerDocument,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	limits := s.limits[currency]
	if in.DailyLimit.IsPositive() {
		limits.Daily = in.DailyLimit
	}
	if in.MonthlyLimit.IsPositive() {
		limits.Monthly = in.MonthlyLimit
	}

	now := s.now().UTC()
	account := &domain.CustodyAccount{
		ID:            uuid.NewString(),
		Currency:      currency,
		Bank:          in.Bank,
		AccountNumber: in.AccountNumber,
		RoutingAlias:  in.RoutingAlias,
		Owner:         in.Owner,
		OwnerDocument: in.OwnerDocument,
		Balance:       decimal.Zero,
		Status:        domain.AccountActive,
		DailyLimit:    limits.Daily,
		MonthlyLimit:  limits.Monthly,
		CreatedAt:     now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("custody account registered",
		"account_id", account.ID,
		"currency", account.Currency,
		"bank", account.Bank)
	if s.metrics != nil {
		s.metrics.AccountRegistered(string(currency))
		s.metrics.UpdateAccountBalance(account.ID, string(currency), 0)
	}
	return account, nil
}

// GetAccount returns a custody account by id.
func (s *Service) GetAccount(ctx context.Context, id string) (*domain.CustodyAccount, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapAccountErr(id, err)
	}
	return account, nil
}

// ListAccounts returns every custody account.
func (s *Service) ListAccounts(ctx context.Context) ([]*domain.CustodyAccount, error) {
	return s.accounts.ListAll(ctx)
}

// DeactivateAccount marks an account inactive. Inactive accounts reject new
// operations but keep their balance and history.
func (s *Service) DeactivateAccount(ctx context.Context, id string) error {
	if err := s.accounts.SetStatus(ctx, id, domain.AccountInactive); err != nil {
		return s.mapAccountErr(id, err)
	}
	s.logger.Info("custody account deactivated", "account_id", id)
	return nil
}

// CreateOperationInput carries the fields needed to start a conversion.
type CreateOperationInput struct {
	Direction       string
	SourceCurrency  string
	TargetCurrency  string
	SourceAmount    decimal.Decimal
	SourceAccountID string
	TargetAccountID string
}

// CreateOperation validates the request, reserves the source debit against
// the account limits and records a new PENDING operation with its START step.
func (s *Service) CreateOperation(ctx context.Context, in CreateOperationInput) (*domain.CustodyOperation, error) {
	direction, err := domain.ParseDirection(in.Direction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	sourceCurrency, err := domain.ParseCurrency(in.SourceCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: source currency: %v", ErrValidation, err)
	}
	targetCurrency, err := domain.ParseCurrency(in.TargetCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: target currency: %v", ErrValidation, err)
	}
	if sourceCurrency == targetCurrency {
		return nil, fmt.Errorf("%w: source and target currency must differ", ErrValidation)
	}
	if !in.SourceAmount.IsPositive() {
		return nil, fmt.Errorf("%w: source amount must be positive", ErrValidation)
	}

	source, err := s.accounts.GetByID(ctx, in.SourceAccountID)
	if err != nil {
		return nil, s.mapAccountErr(in.SourceAccountID, err)
	}
	if source.Currency != sourceCurrency {
		return nil, fmt.Errorf("%w: source account %s holds %s, not %s",
			ErrValidation, source.ID, source.Currency, sourceCurrency)
	}
	if !source.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, source.ID)
	}
	target, err := s.accounts.GetByID(ctx, in.TargetAccountID)
	if err != nil {
		return nil, s.mapAccountErr(in.TargetAccountID, err)
	}
	if target.Currency != targetCurrency {
		return nil, fmt.Errorf("%w: target account %s holds %s, not %s",
			ErrValidation, target.ID, target.Currency, targetCurrency)
	}
	if !target.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, target.ID)
	}

	rateCtx, cancel := context.WithTimeout(ctx, s.timeout)
	rate, err := s.rates.GetRate(rateCtx, sourceCurrency, targetCurrency)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rate: %w", err)
	}
	targetAmount := domain.ComputeTargetAmount(in.SourceAmount, direction, rate, targetCurrency)

	now := s.now().UTC()
	operationID := uuid.NewString()
	ref := domain.OperationRef{
		OperationID: operationID,
		Timestamp:   now,
		Amount:      in.SourceAmount,
		Direction:   domain.RefDebit,
	}
	if err := s.accounts.ReserveDebit(ctx, source.ID, ref); err != nil {
		if errors.Is(err, repository.ErrLimitExceeded) && s.metrics != nil {
			s.metrics.LimitRejection(string(sourceCurrency))
		}
		return nil, s.mapAccountErr(source.ID, err)
	}

	step, err := domain.NewStep(domain.StepStart, domain.StepCompleted, "Operation started successfully", now)
	if err != nil {
		return nil, err
	}
	operation := &domain.CustodyOperation{
		ID:              operationID,
		Direction:       direction,
		SourceCurrency:  sourceCurrency,
		TargetCurrency:  targetCurrency,
		SourceAmount:    in.SourceAmount,
		TargetAmount:    targetAmount,
		RateApplied:     rate.RateFor(direction),
		SourceAccountID: source.ID,
		TargetAccountID: target.ID,
		Status:          domain.StatusPending,
		Steps:           []domain.OperationStep{step},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.operations.Create(ctx, operation); err != nil {
		// The debit reservation was already consumed and there is no
		// operation record to tie it to. Flag it for manual reconciliation.
		orphanCtx := context.WithoutCancel(ctx)
		s.logger.Error("operation record lost after reservation",
			"operation_id", operationID,
			"account_id", source.ID,
			"amount", in.SourceAmount,
			"error", err)
		if s.recon != nil {
			c := ReconciliationCase{
				OperationID:     operationID,
				SourceAccountID: source.ID,
				TargetAccountID: target.ID,
				Amount:          in.SourceAmount,
				Currency:        sourceCurrency,
				Reason:          "limit reservation consumed without an operation record",
				OccurredAt:      now,
			}
			if err := s.recon.Enqueue(orphanCtx, c); err != nil {
				s.logger.Error("failed to queue reconciliation case",
					"operation_id", operationID,
					"error", err)
			}
		}
		return nil, fmt.Errorf("create operation: %w", err)
	}

	s.logger.Info("custody operation created",
		"operation_id", operation.ID,
		"direction", operation.Direction,
		"source_amount", operation.SourceAmount,
		"target_amount", operation.TargetAmount,
		"rate", operation.RateApplied)
	if s.metrics != nil {
		s.metrics.OperationCreated(string(direction))
	}
	return operation, nil
}

// GetOperation returns a custody operation by id.
func (s *Service) GetOperation(ctx context.Context, id string) (*domain.CustodyOperation, error) {
	operation, err := s.operations.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapOperationErr(id, err)
	}
	return operation, nil
}

// ConfirmFundsReceived validates the receipt and advances a PENDING
// operation to FUNDS_RECEIVED, recording the FUNDS_RECEPTION step.
func (s *Service) ConfirmFundsReceived(ctx context.Context, operationID, receiptReference string) (*domain.CustodyOperation, error) {
	unlock := s.lockOperation(operationID)
	defer unlock()

	operation, err := s.operations.GetByID(ctx, operationID)
	if err != nil {
		return nil, s.mapOperationErr(operationID, err)
	}
	if operation.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: operation %s is %s, expected %s",
			ErrInvalidState, operationID, operation.Status, domain.StatusPending)
	}
	if s.receipts != nil && !s.receipts.Validate(receiptReference) {
		return nil, fmt.Errorf("%w: operation %s", ErrInvalidReceipt, operationID)
	}

	now := s.now().UTC()
	step, err := domain.NewStep(domain.StepFundsReception, domain.StepCompleted, "Funds received and verified", now)
	if err != nil {
		return nil, err
	}
	step.ReceiptReference = receiptReference

	operation, err = s.operations.Advance(ctx, operationID, domain.StatusPending, step, domain.StatusFundsReceived)
	if err != nil {
		return nil, s.mapOperationErr(operationID, err)
	}
	s.logger.Info("funds reception confirmed",
		"operation_id", operationID,
		"receipt", receiptReference)
	return operation, nil
}

// CompleteTransfer runs the company transfer for a FUNDS_RECEIVED operation.
// On success the paired balance mutation is applied and the operation moves
// to COMPLETED; on executor failure or timeout it moves to FAILED, keeps its
// limit reservation and is queued for manual reconciliation.
func (s *Service) CompleteTransfer(ctx context.Context, operationID string) (*domain.CustodyOperation, error) {
	unlock := s.lockOperation(operationID)
	defer unlock()

	operation, err := s.operations.GetByID(ctx, operationID)
	if err != nil {
		return nil, s.mapOperationErr(operationID, err)
	}
	if operation.Status != domain.StatusFundsReceived {
		return nil, fmt.Errorf("%w: operation %s is %s, expected %s",
			ErrInvalidState, operationID, operation.Status, domain.StatusFundsReceived)
	}

	reference := "OP_" + operation.ID
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	execErr := s.executor.Execute(execCtx, operation.SourceAccountID, operation.TargetAccountID, operation.TargetAmount, reference)
	cancel()
	if execErr != nil {
		detail := "Transfer failed: " + execErr.Error()
		if errors.Is(execErr, context.DeadlineExceeded) {
			detail = "Transfer timed out after " + s.timeout.String()
		}
		return s.failOperation(ctx, operation, detail, execErr)
	}

	now := s.now().UTC()
	if err := s.accounts.ApplyPairedMutation(ctx,
		operation.SourceAccountID, operation.SourceAmount,
		operation.TargetAccountID, operation.TargetAmount,
		operation.ID, now); err != nil {
		return s.failOperation(ctx, operation, "Balance settlement failed: "+err.Error(), err)
	}

	step, err := domain.NewStep(domain.StepCompanyTransfer, domain.StepCompleted, "Transfer completed successfully", now)
	if err != nil {
		return nil, err
	}
	operation, err = s.operations.Advance(ctx, operationID, domain.StatusFundsReceived, step, domain.StatusCompleted)
	if err != nil {
		return nil, s.mapOperationErr(operationID, err)
	}

	s.logger.Info("custody operation completed",
		"operation_id", operationID,
		"reference", reference,
		"target_amount", operation.TargetAmount)
	if s.metrics != nil {
		s.metrics.OperationCompleted(string(operation.Direction))
		s.metrics.ObserveOperationDuration(string(operation.Direction), s.now().Sub(operation.CreatedAt).Seconds())
		s.publishBalances(ctx, operation.SourceAccountID, operation.TargetAccountID)
	}
	return operation, nil
}

// failOperation records the ERROR step, moves the operation to FAILED and
// queues it for manual reconciliation. The source limit reservation is kept.
func (s *Service) failOperation(ctx context.Context, operation *domain.CustodyOperation, detail string, cause error) (*domain.CustodyOperation, error) {
	// The FAILED state must be recorded even when the caller's request is
	// already cancelled, otherwise the operation is stuck in FUNDS_RECEIVED.
	ctx = context.WithoutCancel(ctx)

	now := s.now().UTC()
	step, err := domain.NewStep(domain.StepCompanyTransfer, domain.StepError, detail, now)
	if err != nil {
		return nil, err
	}
	failed, err := s.operations.Advance(ctx, operation.ID, domain.StatusFundsReceived, step, domain.StatusFailed)
	if err != nil {
		return nil, s.mapOperationErr(operation.ID, err)
	}

	s.logger.Error("custody operation failed",
		"operation_id", operation.ID,
		"detail", detail)
	if s.metrics != nil {
		s.metrics.OperationFailed(string(operation.Direction))
	}
	if s.recon != nil {
		c := ReconciliationCase{
			OperationID:     operation.ID,
			SourceAccountID: operation.SourceAccountID,
			TargetAccountID: operation.TargetAccountID,
			Amount:          operation.SourceAmount,
			Currency:        operation.SourceCurrency,
			Reason:          detail,
			OccurredAt:      now,
		}
		if err := s.recon.Enqueue(ctx, c); err != nil {
			s.logger.Error("failed to queue reconciliation case",
				"operation_id", operation.ID,
				"error", err)
		}
	}
	return failed, fmt.Errorf("%w: operation %s: %v", ErrTransferExecution, operation.ID, cause)
}

func (s *Service) publishBalances(ctx context.Context, ids ...string) {
	for _, id := range ids {
		account, err := s.accounts.GetByID(ctx, id)
		if err != nil {
			continue
		}
		balance, _ := account.Balance.Float64()
		s.metrics.UpdateAccountBalance(account.ID, string(account.Currency), balance)
	}
}

// lockOperation serializes lifecycle transitions per operation id.
func (s *Service) lockOperation(id string) func() {
	v, _ := s.opLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) mapAccountErr(id string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	case errors.Is(err, repository.ErrAccountInactive):
		return fmt.Errorf("%w: %s", ErrAccountInactive, id)
	case errors.Is(err, repository.ErrLimitExceeded):
		return fmt.Errorf("%w: account %s", ErrLimitExceeded, id)
	default:
		return err
	}
}

func (s *Service) mapOperationErr(id string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	case errors.Is(err, repository.ErrInvalidState):
		return fmt.Errorf("%w: operation %s", ErrInvalidState, id)
	default:
		return err
	}
}
