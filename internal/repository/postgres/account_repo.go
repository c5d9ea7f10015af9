package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/repository"

	"github.com/shopspring/decimal"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, bank, account_number, routing_alias, currency, owner, owner_document,
	balance, daily_limit, monthly_limit, status, created_at,
	day_key, day_total, month_key, month_total`

func (r *AccountRepository) Create(ctx context.Context, account *domain.CustodyAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO custody_accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		account.ID, account.Bank, account.AccountNumber, account.RoutingAlias,
		string(account.Currency), account.Owner, account.OwnerDocument,
		account.Balance, account.DailyLimit, account.MonthlyLimit,
		string(account.Status), account.CreatedAt,
		account.DayKey, account.DayTotal, account.MonthKey, account.MonthTotal,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", account.ID, err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.CustodyAccount, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM custody_accounts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	refs, err := r.loadRefs(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	account.RecentOperations = refs

	return account, nil
}

func (r *AccountRepository) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE custody_accounts SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, id)
	}
	return nil
}

func (r *AccountRepository) ListAll(ctx context.Context) ([]*domain.CustodyAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM custody_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var result []*domain.CustodyAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, account)
	}
	return result, rows.Err()
}

// ReserveDebit runs the limit check and the reference append in one
// transaction with the account row locked, which is the storage-level
// serialization the limit invariant needs.
func (r *AccountRepository) ReserveDebit(ctx context.Context, accountID string, ref domain.OperationRef) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback()

	account, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM custody_accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		return err
	}
	if !account.IsActive() {
		return fmt.Errorf("%w: account %s", repository.ErrAccountInactive, accountID)
	}
	if !account.WithinLimits(ref.Amount, ref.Timestamp) {
		return fmt.Errorf("%w: account %s amount %s", repository.ErrLimitExceeded, accountID, ref.Amount)
	}

	account.RecordDebit(ref)
	if _, err := tx.ExecContext(ctx,
		`UPDATE custody_accounts
		 SET day_key = $2, day_total = $3, month_key = $4, month_total = $5
		 WHERE id = $1`,
		accountID, account.DayKey, account.DayTotal, account.MonthKey, account.MonthTotal,
	); err != nil {
		return fmt.Errorf("update limit window: %w", err)
	}
	if err := insertRef(ctx, tx, accountID, ref.OperationID, ref.Timestamp, ref.Amount, domain.RefDebit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve: %w", err)
	}
	return nil
}

// ApplyPairedMutation locks both rows in id order and commits the debit and
// the credit as one transaction, so a partial pair is never visible.
func (r *AccountRepository) ApplyPairedMutation(ctx context.Context, debitAccountID string, debitAmount decimal.Decimal, creditAccountID string, creditAmount decimal.Decimal, operationID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin paired mutation: %w", err)
	}
	defer tx.Rollback()

	first, second := debitAccountID, creditAccountID
	if second < first {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		if _, err := tx.ExecContext(ctx,
			`SELECT 1 FROM custody_accounts WHERE id = $1 FOR UPDATE`, id); err != nil {
			return fmt.Errorf("lock account %s: %w", id, err)
		}
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM custody_accounts WHERE id = $1`, debitAccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, debitAccountID)
	}
	if err != nil {
		return fmt.Errorf("read debit balance: %w", err)
	}
	if balance.LessThan(debitAmount) {
		return fmt.Errorf("%w: account %s balance %s debit %s",
			repository.ErrInsufficientFunds, debitAccountID, balance, debitAmount)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE custody_accounts SET balance = balance - $2 WHERE id = $1`,
		debitAccountID, debitAmount); err != nil {
		return fmt.Errorf("debit account %s: %w", debitAccountID, err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE custody_accounts SET balance = balance + $2 WHERE id = $1`,
		creditAccountID, creditAmount)
	if err != nil {
		return fmt.Errorf("credit account %s: %w", creditAccountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s", repository.ErrNotFound, creditAccountID)
	}
	if err := insertRef(ctx, tx, creditAccountID, operationID, at, creditAmount, domain.RefCredit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit paired mutation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.CustodyAccount, error) {
	var (
		a        domain.CustodyAccount
		currency string
		status   string
	)
	err := row.Scan(
		&a.ID, &a.Bank, &a.AccountNumber, &a.RoutingAlias, &currency, &a.Owner, &a.OwnerDocument,
		&a.Balance, &a.DailyLimit, &a.MonthlyLimit, &status, &a.CreatedAt,
		&a.DayKey, &a.DayTotal, &a.MonthKey, &a.MonthTotal,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if a.Currency, err = domain.ParseCurrency(currency); err != nil {
		return nil, err
	}
	if a.Status, err = domain.ParseAccountStatus(status); err != nil {
		return nil, err
	}
	return &a, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *AccountRepository) loadRefs(ctx context.Context, q querier, accountID string) ([]domain.OperationRef, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT operation_id, ts, amount, direction
		 FROM account_operation_refs WHERE account_id = $1 ORDER BY ts, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("load operation refs: %w", err)
	}
	defer rows.Close()

	var refs []domain.OperationRef
	for rows.Next() {
		var (
			ref       domain.OperationRef
			direction string
		)
		if err := rows.Scan(&ref.OperationID, &ref.Timestamp, &ref.Amount, &direction); err != nil {
			return nil, fmt.Errorf("scan operation ref: %w", err)
		}
		ref.Direction = domain.RefDirection(direction)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func insertRef(ctx context.Context, tx *sql.Tx, accountID, operationID string, ts time.Time, amount decimal.Decimal, direction domain.RefDirection) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO account_operation_refs (account_id, operation_id, ts, amount, direction)
		 VALUES ($1, $2, $3, $4, $5)`,
		accountID, operationID, ts, amount, string(direction)); err != nil {
		return fmt.Errorf("insert operation ref: %w", err)
	}
	return nil
}
