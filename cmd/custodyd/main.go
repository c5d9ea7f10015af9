package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody_ledger/internal/api"
	"custody_ledger/internal/config"
	"custody_ledger/internal/gateway"
	"custody_ledger/internal/ledger"
	"custody_ledger/internal/repository"
	"custody_ledger/internal/repository/memory"
	"custody_ledger/internal/repository/postgres"
	"custody_ledger/internal/service"
	"custody_ledger/pkg/crypto"
	"custody_ledger/pkg/metrics"
	"custody_ledger/pkg/validator"
)

const (
	appName = "custody_ledger"
)

func main() {
	logger := setupLogger()
	cfg := config.FromEnv()
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("addr", cfg.Addr))

	accounts, operations, cleanup, err := setupRepositories(cfg, logger)
	if err != nil {
		logger.Error("Storage setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	metricsCollector := metrics.NewCollector(logger)
	reconciliation := service.NewReconciliationQueue(
		&service.LogCaseSink{Logger: logger},
		cfg.ReconciliationWorkers,
		logger,
	)

	custodyService := ledger.NewService(ledger.Params{
		Accounts:            accounts,
		Operations:          operations,
		Rates:               setupRateProvider(cfg),
		Executor:            setupTransferExecutor(cfg),
		Receipts:            setupReceiptValidator(cfg, logger),
		Reconciliation:      reconciliation,
		Metrics:             metricsCollector,
		Logger:              logger,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
	})

	apiHandler := api.NewAPIHandler(custodyService, logger)
	metricsServer := metricsCollector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg.Addr, apiHandler, logger)
	waitForShutdown(logger, httpServer, metricsServer, reconciliation, metricsCollector)
	logger.Info("Application shutdown complete")
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func setupRepositories(cfg config.Config, logger *slog.Logger) (
	repository.AccountRepository,
	repository.OperationRepository,
	func(),
	error,
) {
	if cfg.DatabaseURL == "" {
		logger.Info("Using in-memory storage")
		return memory.NewAccountRepository(), memory.NewOperationRepository(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("Using postgres storage")
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Error("Closing postgres failed", slog.String("error", err.Error()))
		}
	}
	return postgres.NewAccountRepository(db), postgres.NewOperationRepository(db), cleanup, nil
}

func setupRateProvider(cfg config.Config) gateway.RateProvider {
	if cfg.RateServiceURL != "" {
		return gateway.NewHTTPRateProvider(cfg.RateServiceURL)
	}
	return &gateway.FixedRateProvider{
		Buy:  cfg.FixedBuyRate,
		Sell: cfg.FixedSellRate,
	}
}

func setupTransferExecutor(cfg config.Config) gateway.TransferExecutor {
	if cfg.TransferServiceURL != "" {
		return gateway.NewHTTPTransferExecutor(cfg.TransferServiceURL)
	}
	return &gateway.StaticTransferExecutor{}
}

func setupReceiptValidator(cfg config.Config, logger *slog.Logger) ledger.ReceiptValidator {
	var signer *crypto.Signer
	if cfg.ReceiptSigningKey != "" {
		signer = crypto.NewSigner(cfg.ReceiptSigningKey, logger)
	}
	return validator.NewReceiptValidator(signer)
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsServer *http.Server,
	reconciliation *service.ReconciliationQueue,
	metricsCollector *metrics.Collector,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := reconciliation.Shutdown(ctx); err != nil {
		logger.Error("Reconciliation queue shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsCollector.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", slog.String("error", err.Error()))
	}
}
