package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

// ErrTransferRejected marks a transfer the executing bank refused, as opposed
// to a transport failure.
var ErrTransferRejected = errors.New("gateway: transfer rejected")

// TransferExecutor attempts an actual bank transfer and reports the outcome.
type TransferExecutor interface {
	Execute(ctx context.Context, sourceAccountID, targetAccountID string, amount decimal.Decimal, reference string) error
}

// StaticTransferExecutor reports a fixed outcome. Used in development and tests.
type StaticTransferExecutor struct {
	Err error
}

func (e StaticTransferExecutor) Execute(ctx context.Context, sourceAccountID, targetAccountID string, amount decimal.Decimal, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.Err
}

// HTTPTransferExecutor posts transfer instructions to an execution endpoint.
type HTTPTransferExecutor struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPTransferExecutor(endpoint string) *HTTPTransferExecutor {
	return &HTTPTransferExecutor{
		Endpoint: endpoint,
		Client:   &http.Client{},
	}
}

type transferRequest struct {
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Reference       string          `json:"reference"`
}

func (e *HTTPTransferExecutor) Execute(ctx context.Context, sourceAccountID, targetAccountID string, amount decimal.Decimal, reference string) error {
	body, err := json.Marshal(transferRequest{
		SourceAccountID: sourceAccountID,
		TargetAccountID: targetAccountID,
		Amount:          amount,
		Reference:       reference,
	})
	if err != nil {
		return fmt.Errorf("marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("execute transfer %s: %w", reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %s status %d: %s", ErrTransferRejected, reference, resp.StatusCode, bytes.TrimSpace(detail))
}
