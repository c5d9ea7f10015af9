package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config captures everything the custody daemon reads from the environment.
type Config struct {
	Addr        string
	MetricsAddr string

	// DatabaseURL selects the Postgres store when set; otherwise the
	// in-memory store is used.
	DatabaseURL string

	// RateServiceURL and TransferServiceURL point at the exchange-rate and
	// bank-transfer collaborators. When a URL is empty the corresponding
	// static stand-in is used with FixedBuyRate/FixedSellRate.
	RateServiceURL      string
	TransferServiceURL  string
	CollaboratorTimeout time.Duration

	FixedBuyRate  decimal.Decimal
	FixedSellRate decimal.Decimal

	// ReceiptSigningKey enables HMAC receipt verification when set.
	ReceiptSigningKey string

	ReconciliationWorkers int
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                  envOr("CUSTODY_ADDR", ":8080"),
		MetricsAddr:           envOr("CUSTODY_METRICS_ADDR", ":9090"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RateServiceURL:        os.Getenv("RATE_SERVICE_URL"),
		TransferServiceURL:    os.Getenv("TRANSFER_SERVICE_URL"),
		CollaboratorTimeout:   10 * time.Second,
		FixedBuyRate:          decimalEnvOr("FIXED_BUY_RATE", "0.00095"),
		FixedSellRate:         decimalEnvOr("FIXED_SELL_RATE", "1050"),
		ReceiptSigningKey:     os.Getenv("RECEIPT_SIGNING_KEY"),
		ReconciliationWorkers: intEnvOr("RECONCILIATION_WORKERS", 2),
	}

	if raw := os.Getenv("COLLABORATOR_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.CollaboratorTimeout = d
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnvOr(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func decimalEnvOr(key, fallback string) decimal.Decimal {
	if raw := os.Getenv(key); raw != "" {
		if v, err := decimal.NewFromString(raw); err == nil && v.IsPositive() {
			return v
		}
	}
	return decimal.RequireFromString(fallback)
}
