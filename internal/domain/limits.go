package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func DayKey(t time.Time) string   { return t.UTC().Format(time.DateOnly) }
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// rolledTotals returns the daily and monthly debit totals valid at now,
// treating totals from a previous day or month as zero.
func (a *CustodyAccount) rolledTotals(now time.Time) (day, month decimal.Decimal) {
	day = a.DayTotal
	if a.DayKey != DayKey(now) {
		day = decimal.Zero
	}
	month = a.MonthTotal
	if a.MonthKey != MonthKey(now) {
		month = decimal.Zero
	}
	return day, month
}

// WithinLimits reports whether a prospective debit of amount keeps the
// account inside its daily and monthly ceilings. The comparison is inclusive:
// landing exactly on the limit is allowed. The amount is assumed to be
// denominated in the account's own currency.
func (a *CustodyAccount) WithinLimits(amount decimal.Decimal, now time.Time) bool {
	day, month := a.rolledTotals(now)
	if day.Add(amount).GreaterThan(a.DailyLimit) {
		return false
	}
	return month.Add(amount).LessThanOrEqual(a.MonthlyLimit)
}

// RecordDebit appends a DEBIT reference and folds its amount into the running
// window totals. Callers must hold whatever lock guards the account.
func (a *CustodyAccount) RecordDebit(ref OperationRef) {
	ref.Direction = RefDebit
	day, month := a.rolledTotals(ref.Timestamp)
	a.DayKey = DayKey(ref.Timestamp)
	a.DayTotal = day.Add(ref.Amount)
	a.MonthKey = MonthKey(ref.Timestamp)
	a.MonthTotal = month.Add(ref.Amount)
	a.RecentOperations = append(a.RecentOperations, ref)
}

// RecordCredit appends a CREDIT reference. Credits do not consume limit.
func (a *CustodyAccount) RecordCredit(ref OperationRef) {
	ref.Direction = RefCredit
	a.RecentOperations = append(a.RecentOperations, ref)
}
