package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/repository"
)

type OperationRepository struct {
	db *sql.DB
}

func NewOperationRepository(db *sql.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

const operationColumns = `id, created_at, updated_at, direction, source_currency, target_currency,
	source_account_id, target_account_id, source_amount, target_amount, rate_applied, status, steps`

func (r *OperationRepository) Create(ctx context.Context, op *domain.CustodyOperation) error {
	steps, err := json.Marshal(op.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO custody_operations (`+operationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		op.ID, op.CreatedAt, op.UpdatedAt, string(op.Direction),
		string(op.SourceCurrency), string(op.TargetCurrency),
		op.SourceAccountID, op.TargetAccountID,
		op.SourceAmount, op.TargetAmount, op.RateApplied,
		string(op.Status), steps,
	)
	if err != nil {
		return fmt.Errorf("create operation %s: %w", op.ID, err)
	}
	return nil
}

func (r *OperationRepository) GetByID(ctx context.Context, id string) (*domain.CustodyOperation, error) {
	return scanOperation(r.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM custody_operations WHERE id = $1`, id))
}

// Advance locks the operation row, verifies the expected status and appends
// the step, all inside one transaction. Anything else racing the transition
// sees ErrInvalidState.
func (r *OperationRepository) Advance(ctx context.Context, id string, expect domain.OperationStatus, step domain.OperationStep, next domain.OperationStatus) (*domain.CustodyOperation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin advance: %w", err)
	}
	defer tx.Rollback()

	op, err := scanOperation(tx.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM custody_operations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if op.Status != expect {
		return nil, fmt.Errorf("%w: operation %s is %s, want %s",
			repository.ErrInvalidState, id, op.Status, expect)
	}

	if err := op.AppendStep(step); err != nil {
		return nil, err
	}
	op.Status = next

	steps, err := json.Marshal(op.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE custody_operations SET status = $2, steps = $3, updated_at = $4 WHERE id = $1`,
		id, string(op.Status), steps, op.UpdatedAt); err != nil {
		return nil, fmt.Errorf("advance operation %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}
	return op, nil
}

func (r *OperationRepository) ListByDay(ctx context.Context, date time.Time) ([]*domain.CustodyOperation, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM custody_operations
		 WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list operations by day: %w", err)
	}
	defer rows.Close()

	var result []*domain.CustodyOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

func scanOperation(row rowScanner) (*domain.CustodyOperation, error) {
	var (
		op                             domain.CustodyOperation
		direction, status              string
		sourceCurrency, targetCurrency string
		steps                          []byte
	)
	err := row.Scan(
		&op.ID, &op.CreatedAt, &op.UpdatedAt, &direction, &sourceCurrency, &targetCurrency,
		&op.SourceAccountID, &op.TargetAccountID,
		&op.SourceAmount, &op.TargetAmount, &op.RateApplied, &status, &steps,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: operation", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan operation: %w", err)
	}

	if op.Direction, err = domain.ParseDirection(direction); err != nil {
		return nil, err
	}
	if op.SourceCurrency, err = domain.ParseCurrency(sourceCurrency); err != nil {
		return nil, err
	}
	if op.TargetCurrency, err = domain.ParseCurrency(targetCurrency); err != nil {
		return nil, err
	}
	if op.Status, err = domain.ParseOperationStatus(status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &op.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &op, nil
}
