package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBuy, DirectionSell:
		return Direction(s), nil
	}
	return "", ErrUnknownDirection
}

type OperationStatus string

const (
	StatusPending       OperationStatus = "PENDING"
	StatusFundsReceived OperationStatus = "FUNDS_RECEIVED"
	StatusCompleted     OperationStatus = "COMPLETED"
	StatusFailed        OperationStatus = "FAILED"
)

func ParseOperationStatus(s string) (OperationStatus, error) {
	switch OperationStatus(s) {
	case StatusPending, StatusFundsReceived, StatusCompleted, StatusFailed:
		return OperationStatus(s), nil
	}
	return "", ErrUnknownStatus
}

func (s OperationStatus) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type StepName string

const (
	StepStart           StepName = "START"
	StepFundsReception  StepName = "FUNDS_RECEPTION"
	StepCompanyTransfer StepName = "COMPANY_TRANSFER"
)

func ParseStepName(s string) (StepName, error) {
	switch StepName(s) {
	case StepStart, StepFundsReception, StepCompanyTransfer:
		return StepName(s), nil
	}
	return "", ErrUnknownStepName
}

type StepStatus string

const (
	StepCompleted StepStatus = "COMPLETED"
	StepError     StepStatus = "ERROR"
)

func ParseStepStatus(s string) (StepStatus, error) {
	switch StepStatus(s) {
	case StepCompleted, StepError:
		return StepStatus(s), nil
	}
	return "", ErrUnknownStepStatus
}

// OperationStep is one immutable audit entry. Steps are only ever appended.
type OperationStep struct {
	Name             StepName   `json:"name"`
	Timestamp        time.Time  `json:"timestamp"`
	Status           StepStatus `json:"status"`
	Details          string     `json:"details"`
	ReceiptReference string     `json:"receipt_reference,omitempty"`
}

// NewStep builds a step, rejecting unknown name/status values at construction.
func NewStep(name StepName, status StepStatus, details string, at time.Time) (OperationStep, error) {
	if _, err := ParseStepName(string(name)); err != nil {
		return OperationStep{}, err
	}
	if _, err := ParseStepStatus(string(status)); err != nil {
		return OperationStep{}, err
	}
	return OperationStep{
		Name:      name,
		Timestamp: at,
		Status:    status,
		Details:   details,
	}, nil
}

type CustodyOperation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Direction       Direction       `json:"direction"`
	SourceCurrency  Currency        `json:"source_currency"`
	TargetCurrency  Currency        `json:"target_currency"`
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
	SourceAmount    decimal.Decimal `json:"source_amount"`
	TargetAmount    decimal.Decimal `json:"target_amount"`
	RateApplied     decimal.Decimal `json:"exchange_rate_applied"`

	Status OperationStatus `json:"status"`
	Steps  []OperationStep `json:"steps"`
}

// AppendStep adds a step to a non-terminal operation. Once the operation has
// reached COMPLETED or FAILED the audit trail is frozen.
func (op *CustodyOperation) AppendStep(step OperationStep) error {
	if op.Status.IsFinal() {
		return ErrOperationFinalized
	}
	op.Steps = append(op.Steps, step)
	op.UpdatedAt = step.Timestamp
	return nil
}
