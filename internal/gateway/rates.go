package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"custody_ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// RateProvider supplies a fresh buy/sell pair for a currency corridor. Rates
// are fetched per operation and never cached here.
type RateProvider interface {
	GetRate(ctx context.Context, source, target domain.Currency) (domain.ExchangeRate, error)
}

// FixedRateProvider returns a configured pair. Used in development and tests.
type FixedRateProvider struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

func (p FixedRateProvider) GetRate(ctx context.Context, source, target domain.Currency) (domain.ExchangeRate, error) {
	return domain.ExchangeRate{Buy: p.Buy, Sell: p.Sell, AsOf: time.Now().UTC()}, nil
}

// HTTPRateProvider fetches the pair from a JSON endpoint. The caller bounds
// the request through ctx.
type HTTPRateProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPRateProvider(endpoint string) *HTTPRateProvider {
	return &HTTPRateProvider{
		Endpoint: endpoint,
		Client:   &http.Client{},
	}
}

func (p *HTTPRateProvider) GetRate(ctx context.Context, source, target domain.Currency) (domain.ExchangeRate, error) {
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("rate endpoint: %w", err)
	}
	q := u.Query()
	q.Set("source", string(source))
	q.Set("target", string(target))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("fetch rate %s/%s: %w", source, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ExchangeRate{}, fmt.Errorf("fetch rate %s/%s: unexpected status %d", source, target, resp.StatusCode)
	}

	var rate domain.ExchangeRate
	if err := json.NewDecoder(resp.Body).Decode(&rate); err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("decode rate response: %w", err)
	}
	if rate.Buy.IsZero() || rate.Sell.IsZero() {
		return domain.ExchangeRate{}, fmt.Errorf("rate provider returned incomplete pair for %s/%s", source, target)
	}
	return rate, nil
}
