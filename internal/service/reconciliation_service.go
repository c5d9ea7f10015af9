package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"custody_ledger/internal/ledger"
)

// CaseSink receives reconciliation cases drained from the queue, for
// example an ops ticketing system or an alert channel.
type CaseSink interface {
	Submit(c ledger.ReconciliationCase) error
}

// ReconciliationQueue buffers failed-transfer cases and drains them to a
// sink from a pool of workers. It implements ledger.ReconciliationRecorder.
type ReconciliationQueue struct {
	sink         CaseSink
	caseQueue    chan ledger.ReconciliationCase
	workers      int
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

func NewReconciliationQueue(sink CaseSink, workers int, logger *slog.Logger) *ReconciliationQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	queue := &ReconciliationQueue{
		sink:         sink,
		caseQueue:    make(chan ledger.ReconciliationCase, 1000),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	queue.startWorkers()

	return queue
}

func (q *ReconciliationQueue) Enqueue(ctx context.Context, c ledger.ReconciliationCase) error {
	select {
	case q.caseQueue <- c:
		q.logger.Info("Reconciliation case queued",
			slog.String("operation_id", c.OperationID),
			slog.String("reason", c.Reason))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ReconciliationQueue) startWorkers() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

func (q *ReconciliationQueue) worker(id int) {
	defer q.wg.Done()

	q.logger.Info("Reconciliation worker started", slog.Int("worker_id", id))

	for {
		select {
		case c := <-q.caseQueue:
			q.processCase(c, id)
		case <-q.shutdownChan:
			q.logger.Info("Reconciliation worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

func (q *ReconciliationQueue) processCase(c ledger.ReconciliationCase, workerID int) {
	startTime := time.Now()
	err := q.sink.Submit(c)
	duration := time.Since(startTime)

	if err != nil {
		q.logger.Error("Failed to submit reconciliation case",
			slog.String("operation_id", c.OperationID),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	} else {
		q.logger.Info("Reconciliation case submitted",
			slog.String("operation_id", c.OperationID),
			slog.String("amount", c.Amount.StringFixed(2)+" "+string(c.Currency)),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	}
}

func (q *ReconciliationQueue) Shutdown(ctx context.Context) error {
	close(q.shutdownChan)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("Reconciliation queue shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogCaseSink writes each case to the logger. Used when no external ops
// system is configured.
type LogCaseSink struct {
	Logger *slog.Logger
}

func (s *LogCaseSink) Submit(c ledger.ReconciliationCase) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Manual reconciliation required",
		slog.String("operation_id", c.OperationID),
		slog.String("source_account", c.SourceAccountID),
		slog.String("target_account", c.TargetAccountID),
		slog.String("amount", fmt.Sprintf("%s %s", c.Amount.StringFixed(2), c.Currency)),
		slog.String("reason", c.Reason))
	return nil
}

// MockCaseSink records submitted cases for tests.
type MockCaseSink struct {
	mu    sync.Mutex
	Cases []ledger.ReconciliationCase
}

func (m *MockCaseSink) Submit(c ledger.ReconciliationCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cases = append(m.Cases, c)
	return nil
}

func (m *MockCaseSink) Submitted() []ledger.ReconciliationCase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.ReconciliationCase, len(m.Cases))
	copy(out, m.Cases)
	return out
}
