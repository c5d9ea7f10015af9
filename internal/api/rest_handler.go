package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"custody_ledger/internal/ledger"
)

type APIHandler struct {
	service        *ledger.Service
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(service *ledger.Service, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		service:        service,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

type RegisterAccountRequest struct {
	Currency      string          `json:"currency"`
	Bank          string          `json:"bank"`
	AccountNumber string          `json:"account_number,omitempty"`
	RoutingAlias  string          `json:"routing_alias,omitempty"`
	Owner         string          `json:"owner"`
	OwnerDocument string          `json:"owner_document"`
	DailyLimit    decimal.Decimal `json:"daily_limit,omitempty"`
	MonthlyLimit  decimal.Decimal `json:"monthly_limit,omitempty"`
}

type CreateOperationRequest struct {
	Direction       string          `json:"direction"`
	SourceCurrency  string          `json:"source_currency"`
	TargetCurrency  string          `json:"target_currency"`
	SourceAmount    decimal.Decimal `json:"source_amount"`
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
}

type ConfirmFundsRequest struct {
	ReceiptReference string `json:"receipt_reference"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *APIHandler) RegisterAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	account, err := h.service.RegisterAccount(ctx, ledger.RegisterAccountInput{
		Currency:      req.Currency,
		Bank:          req.Bank,
		AccountNumber: req.AccountNumber,
		RoutingAlias:  req.RoutingAlias,
		Owner:         req.Owner,
		OwnerDocument: req.OwnerDocument,
		DailyLimit:    req.DailyLimit,
		MonthlyLimit:  req.MonthlyLimit,
	})
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, account, http.StatusCreated)
}

func (h *APIHandler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	account, err := h.service.GetAccount(ctx, r.PathValue("id"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	accounts, err := h.service.ListAccounts(ctx)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, accounts, http.StatusOK)
}

func (h *APIHandler) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	id := r.PathValue("id")
	if err := h.service.DeactivateAccount(ctx, id); err != nil {
		h.sendServiceError(w, err)
		return
	}
	account, err := h.service.GetAccount(ctx, id)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) CreateOperationHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req CreateOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	operation, err := h.service.CreateOperation(ctx, ledger.CreateOperationInput{
		Direction:       req.Direction,
		SourceCurrency:  req.SourceCurrency,
		TargetCurrency:  req.TargetCurrency,
		SourceAmount:    req.SourceAmount,
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
	})
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	h.sendJSON(w, operation, http.StatusCreated)
}

func (h *APIHandler) GetOperationHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	operation, err := h.service.GetOperation(ctx, r.PathValue("id"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, operation, http.StatusOK)
}

func (h *APIHandler) ConfirmFundsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req ConfirmFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	if req.ReceiptReference == "" {
		h.sendError(w, "receipt_reference is required", http.StatusBadRequest, "MISSING_RECEIPT")
		return
	}

	operation, err := h.service.ConfirmFundsReceived(ctx, r.PathValue("id"), req.ReceiptReference)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, operation, http.StatusOK)
}

func (h *APIHandler) CompleteTransferHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	operation, err := h.service.CompleteTransfer(ctx, r.PathValue("id"))
	if err != nil {
		// The caller still gets the FAILED operation alongside the error
		// code so it can show the recorded failure step.
		var details string
		if operation != nil {
			details = string(operation.Status)
		}
		h.sendServiceError(w, err, details)
		return
	}
	h.sendJSON(w, operation, http.StatusOK)
}

func (h *APIHandler) DailyReportHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.sendError(w, "date must be YYYY-MM-DD", http.StatusBadRequest, "INVALID_DATE")
			return
		}
		date = parsed
	}

	report, err := h.service.GenerateDailyReport(ctx, date)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}
	h.sendJSON(w, report, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

func (h *APIHandler) sendServiceError(w http.ResponseWriter, err error, details ...string) {
	status := http.StatusInternalServerError
	code := "SERVER_ERROR"

	switch {
	case errors.Is(err, ledger.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ledger.ErrInvalidReceipt):
		status, code = http.StatusBadRequest, "INVALID_RECEIPT"
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrOperationNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ledger.ErrAccountInactive):
		status, code = http.StatusConflict, "ACCOUNT_INACTIVE"
	case errors.Is(err, ledger.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, ledger.ErrLimitExceeded):
		status, code = http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"
	case errors.Is(err, ledger.ErrTransferExecution):
		status, code = http.StatusBadGateway, "TRANSFER_FAILED"
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if len(details) > 0 {
		resp.Details = details[0]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)

	h.logger.Warn("API error response",
		slog.String("message", err.Error()),
		slog.String("code", code),
		slog.Int("status", status))
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/accounts", h.RegisterAccountHandler)
	mux.HandleFunc("GET /api/v1/accounts", h.ListAccountsHandler)
	mux.HandleFunc("GET /api/v1/accounts/{id}", h.GetAccountHandler)
	mux.HandleFunc("POST /api/v1/accounts/{id}/deactivate", h.DeactivateAccountHandler)
	mux.HandleFunc("POST /api/v1/operations", h.CreateOperationHandler)
	mux.HandleFunc("GET /api/v1/operations/{id}", h.GetOperationHandler)
	mux.HandleFunc("POST /api/v1/operations/{id}/funds-received", h.ConfirmFundsHandler)
	mux.HandleFunc("POST /api/v1/operations/{id}/complete", h.CompleteTransferHandler)
	mux.HandleFunc("GET /api/v1/reports/daily", h.DailyReportHandler)
	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
}
