package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"custody_ledger/internal/domain"
	"custody_ledger/internal/ledger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconciliationQueue_DrainsToSink(t *testing.T) {
	sink := &MockCaseSink{}
	queue := NewReconciliationQueue(sink, 2, quietLogger())

	c := ledger.ReconciliationCase{
		OperationID:     "op1",
		SourceAccountID: "src",
		TargetAccountID: "tgt",
		Amount:          decimal.NewFromInt(100),
		Currency:        domain.CurrencyUSD,
		Reason:          "Transfer failed: upstream rejected",
		OccurredAt:      time.Now().UTC(),
	}
	if err := queue.Enqueue(context.Background(), c); err != nil {
		t.Fatalf("unexpected error on Enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(sink.Submitted()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("case never reached the sink")
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := sink.Submitted()
	if len(got) != 1 || got[0].OperationID != "op1" {
		t.Errorf("expected the queued case, got %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := queue.Shutdown(ctx); err != nil {
		t.Errorf("unexpected error on Shutdown: %v", err)
	}
}

func TestReconciliationQueue_EnqueueHonorsContext(t *testing.T) {
	queue := NewReconciliationQueue(&MockCaseSink{}, 1, quietLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The queue has capacity, so a live context would enqueue immediately;
	// a cancelled one must still be able to bail out.
	err := queue.Enqueue(ctx, ledger.ReconciliationCase{OperationID: "op1"})
	if err != nil && err != context.Canceled {
		t.Errorf("expected nil or context.Canceled, got %v", err)
	}
}
