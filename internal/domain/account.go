package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
)

func ParseAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(s) {
	case AccountActive, AccountInactive:
		return AccountStatus(s), nil
	}
	return "", ErrUnknownAccountStatus
}

type Currency string

const (
	CurrencyARS Currency = "ARS"
	CurrencyUSD Currency = "USD"
)

func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyARS, CurrencyUSD:
		return Currency(s), nil
	}
	return "", ErrUnknownCurrency
}

// MinorUnits is the number of decimal places carried by amounts in this
// currency. Both supported currencies use two.
func (c Currency) MinorUnits() int32 { return 2 }

type RefDirection string

const (
	RefDebit  RefDirection = "DEBIT"
	RefCredit RefDirection = "CREDIT"
)

// OperationRef is the lightweight entry appended to an account's
// RecentOperations. DEBIT entries feed the limit window; CREDIT entries are
// audit-only.
type OperationRef struct {
	OperationID string          `json:"operation_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   RefDirection    `json:"direction"`
}

type CustodyAccount struct {
	ID            string          `json:"id"`
	Bank          string          `json:"bank"`
	AccountNumber string          `json:"account_number"`
	RoutingAlias  string          `json:"routing_alias"`
	Currency      Currency        `json:"currency"`
	Owner         string          `json:"owner"`
	OwnerDocument string          `json:"owner_document"`
	Balance       decimal.Decimal `json:"balance"`
	DailyLimit    decimal.Decimal `json:"daily_limit"`
	MonthlyLimit  decimal.Decimal `json:"monthly_limit"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`

	RecentOperations []OperationRef `json:"recent_operations,omitempty"`

	// Running limit-window totals. DayKey/MonthKey identify the calendar
	// window (UTC) the totals belong to; stale windows roll to zero lazily.
	DayKey     string          `json:"day_key"`
	DayTotal   decimal.Decimal `json:"day_total"`
	MonthKey   string          `json:"month_key"`
	MonthTotal decimal.Decimal `json:"month_total"`
}

func (a *CustodyAccount) IsActive() bool { return a.Status == AccountActive }
