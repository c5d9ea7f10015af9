package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyReport summarizes operations created on one calendar date.
type DailyReport struct {
	Date             time.Time                    `json:"date"`
	TotalOperations  int                          `json:"total_operations"`
	VolumeByCurrency map[Currency]decimal.Decimal `json:"volume_by_currency"`
	CompletedCount   int                          `json:"completed_count"`
	PendingCount     int                          `json:"pending_count"`
}
