package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/gateway"
	"custody_ledger/internal/repository"
	"custody_ledger/internal/repository/memory"
	"custody_ledger/pkg/validator"
)

type executorCall struct {
	SourceAccountID string
	TargetAccountID string
	Amount          decimal.Decimal
	Reference       string
}

type recordingExecutor struct {
	mu    sync.Mutex
	err   error
	calls []executorCall
}

func (e *recordingExecutor) Execute(ctx context.Context, sourceAccountID, targetAccountID string, amount decimal.Decimal, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, executorCall{sourceAccountID, targetAccountID, amount, reference})
	return e.err
}

func (e *recordingExecutor) Calls() []executorCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executorCall(nil), e.calls...)
}

type recordingRecorder struct {
	mu    sync.Mutex
	cases []ReconciliationCase
}

func (r *recordingRecorder) Enqueue(ctx context.Context, c ReconciliationCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases = append(r.cases, c)
	return nil
}

func (r *recordingRecorder) Cases() []ReconciliationCase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReconciliationCase(nil), r.cases...)
}

type fixture struct {
	service    *Service
	accounts   *memory.AccountRepository
	operations *memory.OperationRepository
	executor   *recordingExecutor
	recon      *recordingRecorder
	now        time.Time
}

// ctxAwareOperationStore refuses writes on a cancelled context, the way
// a real database driver does.
type ctxAwareOperationStore struct {
	repository.OperationRepository
}

func (s *ctxAwareOperationStore) Advance(ctx context.Context, id string, expect domain.OperationStatus, step domain.OperationStep, next domain.OperationStatus) (*domain.CustodyOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.OperationRepository.Advance(ctx, id, expect, step, next)
}

type failingCreateOperationStore struct {
	repository.OperationRepository
	createErr error
}

func (s *failingCreateOperationStore) Create(ctx context.Context, op *domain.CustodyOperation) error {
	return s.createErr
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithOperations(t, nil)
}

func newFixtureWithOperations(t *testing.T, wrap func(repository.OperationRepository) repository.OperationRepository) *fixture {
	t.Helper()

	f := &fixture{
		accounts:   memory.NewAccountRepository(),
		operations: memory.NewOperationRepository(),
		executor:   &recordingExecutor{},
		recon:      &recordingRecorder{},
		now:        time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	operations := repository.OperationRepository(f.operations)
	if wrap != nil {
		operations = wrap(operations)
	}
	f.service = NewService(Params{
		Accounts:   f.accounts,
		Operations: operations,
		Rates: &gateway.FixedRateProvider{
			Buy:  decimal.NewFromInt(950),
			Sell: decimal.RequireFromString("0.00105"),
		},
		Executor:       f.executor,
		Receipts:       validator.NewReceiptValidator(nil),
		Reconciliation: f.recon,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:            func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) seedAccount(t *testing.T, id string, currency domain.Currency, balance, daily, monthly int64) {
	t.Helper()
	err := f.accounts.Create(context.Background(), &domain.CustodyAccount{
		ID:           id,
		Currency:     currency,
		Bank:         "Banco Galicia",
		Owner:        "ACME SA",
		Status:       domain.AccountActive,
		Balance:      decimal.NewFromInt(balance),
		DailyLimit:   decimal.NewFromInt(daily),
		MonthlyLimit: decimal.NewFromInt(monthly),
		CreatedAt:    f.now,
	})
	require.NoError(t, err)
}

func buyInput(source, target string, amount int64) CreateOperationInput {
	return CreateOperationInput{
		Direction:       "BUY",
		SourceCurrency:  "USD",
		TargetCurrency:  "ARS",
		SourceAmount:    decimal.NewFromInt(amount),
		SourceAccountID: source,
		TargetAccountID: target,
	}
}

func TestRegisterAccount_AppliesCurrencyDefaults(t *testing.T) {
	f := newFixture(t)

	account, err := f.service.RegisterAccount(context.Background(), RegisterAccountInput{
		Currency:      "USD",
		Bank:          "Banco Galicia",
		RoutingAlias:  "acme.custody.usd",
		Owner:         "ACME SA",
		OwnerDocument: "30712345678",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.AccountActive, account.Status)
	assert.True(t, account.Balance.IsZero())
	assert.True(t, account.DailyLimit.Equal(decimal.NewFromInt(5_000)), "daily limit %s", account.DailyLimit)
	assert.True(t, account.MonthlyLimit.Equal(decimal.NewFromInt(50_000)), "monthly limit %s", account.MonthlyLimit)

	arsAccount, err := f.service.RegisterAccount(context.Background(), RegisterAccountInput{
		Currency:      "ARS",
		Bank:          "Banco Nación",
		AccountNumber: "2850590940090418135201",
		Owner:         "ACME SA",
		OwnerDocument: "30712345678",
	})
	require.NoError(t, err)
	assert.True(t, arsAccount.DailyLimit.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, arsAccount.MonthlyLimit.Equal(decimal.NewFromInt(10_000_000)))
}

func TestRegisterAccount_OverridesDefaults(t *testing.T) {
	f := newFixture(t)

	account, err := f.service.RegisterAccount(context.Background(), RegisterAccountInput{
		Currency:      "USD",
		Bank:          "Banco Galicia",
		RoutingAlias:  "acme.custody.usd",
		Owner:         "ACME SA",
		OwnerDocument: "30712345678",
		DailyLimit:    decimal.NewFromInt(2_000),
		MonthlyLimit:  decimal.NewFromInt(20_000),
	})
	require.NoError(t, err)
	assert.True(t, account.DailyLimit.Equal(decimal.NewFromInt(2_000)))
	assert.True(t, account.MonthlyLimit.Equal(decimal.NewFromInt(20_000)))
}

func TestRegisterAccount_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RegisterAccount(context.Background(), RegisterAccountInput{
		Currency:      "EUR",
		Bank:          "Banco Galicia",
		RoutingAlias:  "acme.custody.usd",
		Owner:         "ACME SA",
		OwnerDocument: "30712345678",
	})
	assert.ErrorIs(t, err, ErrValidation)

	// No CBU, no alias, malformed document.
	_, err = f.service.RegisterAccount(context.Background(), RegisterAccountInput{
		Currency:      "USD",
		Bank:          "Banco Galicia",
		Owner:         "ACME SA",
		OwnerDocument: "abc",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateOperation_PricesAndReserves(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)

	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, operation.Status)
	assert.True(t, operation.TargetAmount.Equal(decimal.NewFromInt(95_000)), "target %s", operation.TargetAmount)
	assert.True(t, operation.RateApplied.Equal(decimal.NewFromInt(950)))
	require.Len(t, operation.Steps, 1)
	assert.Equal(t, domain.StepStart, operation.Steps[0].Name)
	assert.Equal(t, domain.StepCompleted, operation.Steps[0].Status)
	assert.Equal(t, "Operation started successfully", operation.Steps[0].Details)

	source, err := f.accounts.GetByID(context.Background(), "usd1")
	require.NoError(t, err)
	require.Len(t, source.RecentOperations, 1)
	assert.Equal(t, domain.RefDebit, source.RecentOperations[0].Direction)
	assert.Equal(t, operation.ID, source.RecentOperations[0].OperationID)
	assert.True(t, source.DayTotal.Equal(decimal.NewFromInt(100)))
}

func TestCreateOperation_LimitWindow(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 10_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)

	// Existing operations today already total 4500.
	require.NoError(t, f.accounts.ReserveDebit(context.Background(), "usd1", domain.OperationRef{
		OperationID: "earlier", Timestamp: f.now, Amount: decimal.NewFromInt(4_500), Direction: domain.RefDebit,
	}))

	_, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 600))
	assert.ErrorIs(t, err, ErrLimitExceeded)

	_, err = f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 400))
	assert.NoError(t, err)
}

func TestCreateOperation_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 0, 5_000, 50_000)
	f.seedAccount(t, "usd2", domain.CurrencyUSD, 0, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)

	in := buyInput("usd1", "ars1", 100)
	in.Direction = "HOLD"
	_, err := f.service.CreateOperation(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	in = buyInput("usd1", "ars1", 0)
	_, err = f.service.CreateOperation(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	// Same source and target currency.
	in = buyInput("usd1", "usd2", 100)
	in.TargetCurrency = "USD"
	_, err = f.service.CreateOperation(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	// Target account holds a different currency than requested.
	in = buyInput("usd1", "usd2", 100)
	_, err = f.service.CreateOperation(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.CreateOperation(context.Background(), buyInput("usd1", "missing", 100))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCreateOperation_InactiveAccount(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 0, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	require.NoError(t, f.service.DeactivateAccount(context.Background(), "usd1"))

	_, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestConfirmFundsReceived(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)

	confirmed, err := f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFundsReceived, confirmed.Status)
	require.Len(t, confirmed.Steps, 2)
	assert.Equal(t, domain.StepFundsReception, confirmed.Steps[1].Name)
	assert.Equal(t, "RCPT-20260310-01", confirmed.Steps[1].ReceiptReference)

	// Confirming twice is rejected and leaves the trail untouched.
	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	assert.ErrorIs(t, err, ErrInvalidState)
	got, _ := f.service.GetOperation(context.Background(), operation.ID)
	assert.Len(t, got.Steps, 2)
}

func TestConfirmFundsReceived_InvalidReceipt(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)

	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "x!")
	assert.ErrorIs(t, err, ErrInvalidReceipt)

	got, err := f.service.GetOperation(context.Background(), operation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Len(t, got.Steps, 1)
}

func TestCompleteTransfer_Success(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)
	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	require.NoError(t, err)

	completed, err := f.service.CompleteTransfer(context.Background(), operation.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.Len(t, completed.Steps, 3)
	assert.Equal(t, domain.StepCompanyTransfer, completed.Steps[2].Name)
	assert.Equal(t, domain.StepCompleted, completed.Steps[2].Status)

	calls := f.executor.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "OP_"+operation.ID, calls[0].Reference)
	assert.True(t, calls[0].Amount.Equal(decimal.NewFromInt(95_000)))

	source, _ := f.accounts.GetByID(context.Background(), "usd1")
	target, _ := f.accounts.GetByID(context.Background(), "ars1")
	assert.True(t, source.Balance.Equal(decimal.NewFromInt(900)), "source balance %s", source.Balance)
	assert.True(t, target.Balance.Equal(decimal.NewFromInt(95_000)), "target balance %s", target.Balance)
	require.Len(t, target.RecentOperations, 1)
	assert.Equal(t, domain.RefCredit, target.RecentOperations[0].Direction)
	assert.Equal(t, operation.ID, target.RecentOperations[0].OperationID)
}

func TestCompleteTransfer_ExecutorFailure(t *testing.T) {
	f := newFixture(t)
	f.executor.err = assert.AnError
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)
	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	require.NoError(t, err)

	failed, err := f.service.CompleteTransfer(context.Background(), operation.ID)
	assert.ErrorIs(t, err, ErrTransferExecution)

	require.NotNil(t, failed)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	require.Len(t, failed.Steps, 3)
	assert.Equal(t, domain.StepError, failed.Steps[2].Status)
	assert.Contains(t, failed.Steps[2].Details, "Transfer failed")

	// Balances untouched, the limit reservation stays consumed.
	source, _ := f.accounts.GetByID(context.Background(), "usd1")
	target, _ := f.accounts.GetByID(context.Background(), "ars1")
	assert.True(t, source.Balance.Equal(decimal.NewFromInt(1_000)))
	assert.True(t, target.Balance.IsZero())
	assert.True(t, source.DayTotal.Equal(decimal.NewFromInt(100)))

	cases := f.recon.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, operation.ID, cases[0].OperationID)
	assert.True(t, cases[0].Amount.Equal(decimal.NewFromInt(100)))
}

func TestCompleteTransfer_Timeout(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)
	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failed, err := f.service.CompleteTransfer(ctx, operation.ID)
	assert.ErrorIs(t, err, ErrTransferExecution)
	require.NotNil(t, failed)
	assert.Equal(t, domain.StatusFailed, failed.Status)
}

func TestCompleteTransfer_CancelledRequestStillRecordsFailure(t *testing.T) {
	// A store that honors cancellation must still accept the FAILED write
	// after the caller's request is gone.
	f := newFixtureWithOperations(t, func(ops repository.OperationRepository) repository.OperationRepository {
		return &ctxAwareOperationStore{OperationRepository: ops}
	})
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)
	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.service.CompleteTransfer(ctx, operation.ID)
	assert.ErrorIs(t, err, ErrTransferExecution)

	got, err := f.service.GetOperation(context.Background(), operation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, domain.StepError, got.Steps[2].Status)
	require.Len(t, f.recon.Cases(), 1)
	assert.Equal(t, operation.ID, f.recon.Cases()[0].OperationID)
}

func TestCreateOperation_StoreFailureFlagsReservation(t *testing.T) {
	f := newFixtureWithOperations(t, func(ops repository.OperationRepository) repository.OperationRepository {
		return &failingCreateOperationStore{OperationRepository: ops, createErr: assert.AnError}
	})
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)

	_, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.ErrorIs(t, err, assert.AnError)

	// The reservation was consumed with no operation record to match it,
	// so a reconciliation case must point at it.
	source, err := f.accounts.GetByID(context.Background(), "usd1")
	require.NoError(t, err)
	assert.True(t, source.DayTotal.Equal(decimal.NewFromInt(100)))

	cases := f.recon.Cases()
	require.Len(t, cases, 1)
	assert.Equal(t, "usd1", cases[0].SourceAccountID)
	assert.True(t, cases[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, cases[0].Reason, "without an operation record")
}

func TestCompleteTransfer_StateGuards(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usd1", domain.CurrencyUSD, 1_000, 5_000, 50_000)
	f.seedAccount(t, "ars1", domain.CurrencyARS, 0, 1_000_000, 10_000_000)
	operation, err := f.service.CreateOperation(context.Background(), buyInput("usd1", "ars1", 100))
	require.NoError(t, err)

	// Transfer without funds reception.
	_, err = f.service.CompleteTransfer(context.Background(), operation.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.service.ConfirmFundsReceived(context.Background(), operation.ID, "RCPT-20260310-01")
	require.NoError(t, err)
	_, err = f.service.CompleteTransfer(context.Background(), operation.ID)
	require.NoError(t, err)

	// Terminal operations accept no further transitions or mutations.
	_, err = f.service.CompleteTransfer(context.Background(), operation.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	source, _ := f.accounts.GetByID(context.Background(), "usd1")
	assert.True(t, source.Balance.Equal(decimal.NewFromInt(900)))
	assert.Len(t, f.executor.Calls(), 1)

	_, err = f.service.CompleteTransfer(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestGenerateDailyReport(t *testing.T) {
	f := newFixture(t)

	seedOperation := func(id string, target domain.Currency, amount int64, status domain.OperationStatus, createdAt time.Time) {
		start, err := domain.NewStep(domain.StepStart, domain.StepCompleted, "Operation started successfully", createdAt)
		require.NoError(t, err)
		require.NoError(t, f.operations.Create(context.Background(), &domain.CustodyOperation{
			ID:             id,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
			Direction:      domain.DirectionBuy,
			SourceCurrency: domain.CurrencyUSD,
			TargetCurrency: target,
			SourceAmount:   decimal.NewFromInt(amount),
			TargetAmount:   decimal.NewFromInt(amount),
			Status:         status,
			Steps:          []domain.OperationStep{start},
		}))
	}

	seedOperation("op1", domain.CurrencyARS, 95_000, domain.StatusCompleted, f.now)
	seedOperation("op2", domain.CurrencyARS, 50_000, domain.StatusCompleted, f.now.Add(time.Hour))
	seedOperation("op3", domain.CurrencyUSD, 200, domain.StatusCompleted, f.now.Add(2*time.Hour))
	seedOperation("op4", domain.CurrencyUSD, 75, domain.StatusPending, f.now.Add(3*time.Hour))
	seedOperation("op5", domain.CurrencyUSD, 30, domain.StatusFundsReceived, f.now.Add(4*time.Hour))
	seedOperation("op6", domain.CurrencyUSD, 40, domain.StatusFailed, f.now.Add(5*time.Hour))
	seedOperation("op7", domain.CurrencyUSD, 9_999, domain.StatusFailed, f.now.AddDate(0, 0, -1))

	report, err := f.service.GenerateDailyReport(context.Background(), f.now)
	require.NoError(t, err)

	assert.Equal(t, 6, report.TotalOperations)
	assert.Equal(t, 3, report.CompletedCount)
	// Only PENDING feeds the pending count; FUNDS_RECEIVED and FAILED
	// contribute to totals and volume but to neither counter.
	assert.Equal(t, 1, report.PendingCount)
	assert.True(t, report.VolumeByCurrency[domain.CurrencyARS].Equal(decimal.NewFromInt(145_000)))
	assert.True(t, report.VolumeByCurrency[domain.CurrencyUSD].Equal(decimal.NewFromInt(345)))
}
