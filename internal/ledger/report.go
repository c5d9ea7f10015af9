package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"custody_ledger/internal/domain"
)

// GenerateDailyReport aggregates every operation created on the given UTC
// day. Volume is the sum of target amounts per target currency across all
// operations regardless of their status.
func (s *Service) GenerateDailyReport(ctx context.Context, date time.Time) (*domain.DailyReport, error) {
	operations, err := s.operations.ListByDay(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list operations for %s: %w", domain.DayKey(date), err)
	}

	day := date.UTC()
	report := &domain.DailyReport{
		Date:             time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		TotalOperations:  len(operations),
		VolumeByCurrency: make(map[domain.Currency]decimal.Decimal),
	}
	for _, op := range operations {
		volume := report.VolumeByCurrency[op.TargetCurrency]
		report.VolumeByCurrency[op.TargetCurrency] = volume.Add(op.TargetAmount)
		switch op.Status {
		case domain.StatusCompleted:
			report.CompletedCount++
		case domain.StatusPending:
			report.PendingCount++
		}
	}
	return report, nil
}
