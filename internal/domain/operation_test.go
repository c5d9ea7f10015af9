package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseDirection_RejectsUnknown(t *testing.T) {
	if _, err := ParseDirection("BUY"); err != nil {
		t.Fatalf("unexpected error for BUY: %v", err)
	}
	if _, err := ParseDirection("buy"); !errors.Is(err, ErrUnknownDirection) {
		t.Errorf("expected ErrUnknownDirection for lowercase input, got %v", err)
	}
	if _, err := ParseDirection("HOLD"); !errors.Is(err, ErrUnknownDirection) {
		t.Errorf("expected ErrUnknownDirection for HOLD, got %v", err)
	}
}

func TestParseCurrency_RejectsUnknown(t *testing.T) {
	for _, valid := range []string{"ARS", "USD"} {
		if _, err := ParseCurrency(valid); err != nil {
			t.Errorf("unexpected error for %s: %v", valid, err)
		}
	}
	if _, err := ParseCurrency("EUR"); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("expected ErrUnknownCurrency for EUR, got %v", err)
	}
}

func TestOperationStatus_IsFinal(t *testing.T) {
	cases := map[OperationStatus]bool{
		StatusPending:       false,
		StatusFundsReceived: false,
		StatusCompleted:     true,
		StatusFailed:        true,
	}
	for status, want := range cases {
		if got := status.IsFinal(); got != want {
			t.Errorf("IsFinal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestNewStep_RejectsUnknownNameAndStatus(t *testing.T) {
	now := time.Now()

	if _, err := NewStep("ROLLBACK", StepCompleted, "", now); !errors.Is(err, ErrUnknownStepName) {
		t.Errorf("expected ErrUnknownStepName, got %v", err)
	}
	if _, err := NewStep(StepStart, "SKIPPED", "", now); !errors.Is(err, ErrUnknownStepStatus) {
		t.Errorf("expected ErrUnknownStepStatus, got %v", err)
	}
}

func TestAppendStep_FrozenWhenFinal(t *testing.T) {
	now := time.Now()
	start, err := NewStep(StepStart, StepCompleted, "Operation started successfully", now)
	if err != nil {
		t.Fatalf("unexpected error building step: %v", err)
	}

	op := &CustodyOperation{ID: "op1", Status: StatusPending, Steps: []OperationStep{start}}

	reception, _ := NewStep(StepFundsReception, StepCompleted, "Funds received and verified", now)
	if err := op.AppendStep(reception); err != nil {
		t.Fatalf("unexpected error appending to non-terminal operation: %v", err)
	}
	if len(op.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(op.Steps))
	}

	op.Status = StatusCompleted
	transfer, _ := NewStep(StepCompanyTransfer, StepCompleted, "Transfer completed successfully", now)
	if err := op.AppendStep(transfer); !errors.Is(err, ErrOperationFinalized) {
		t.Errorf("expected ErrOperationFinalized, got %v", err)
	}
	if len(op.Steps) != 2 {
		t.Errorf("terminal operation grew a step, got %d", len(op.Steps))
	}
}
