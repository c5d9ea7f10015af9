package metrics

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry            *prometheus.Registry
	accountsRegistered  *prometheus.CounterVec
	operationsCreated   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationsFailed    *prometheus.CounterVec
	limitRejections     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	accountBalance      *prometheus.GaugeVec
	logger              *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		accountsRegistered: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_accounts_registered_total",
			Help: "Total number of registered custody accounts",
		}, []string{"currency"}),
		operationsCreated: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_operations_created_total",
			Help: "Total number of created custody operations",
		}, []string{"direction"}),
		operationsCompleted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_operations_completed_total",
			Help: "Total number of completed custody operations",
		}, []string{"direction"}),
		operationsFailed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_operations_failed_total",
			Help: "Total number of failed custody operations",
		}, []string{"direction"}),
		limitRejections: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "custody_limit_rejections_total",
			Help: "Operations rejected for exceeding account spending limits",
		}, []string{"currency"}),
		operationDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custody_operation_duration_seconds",
			Help:    "Time from operation creation to completion",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
		accountBalance: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "custody_account_balance",
			Help: "Current custody account balance",
		}, []string{"account_id", "currency"}),
		logger: logger,
	}
}

func (c *Collector) AccountRegistered(currency string) {
	c.accountsRegistered.WithLabelValues(currency).Inc()
}

func (c *Collector) OperationCreated(direction string) {
	c.operationsCreated.WithLabelValues(direction).Inc()
}

func (c *Collector) OperationCompleted(direction string) {
	c.operationsCompleted.WithLabelValues(direction).Inc()
}

func (c *Collector) OperationFailed(direction string) {
	c.operationsFailed.WithLabelValues(direction).Inc()
}

func (c *Collector) LimitRejection(currency string) {
	c.limitRejections.WithLabelValues(currency).Inc()
}

func (c *Collector) ObserveOperationDuration(direction string, seconds float64) {
	c.operationDuration.WithLabelValues(direction).Observe(seconds)
}

func (c *Collector) UpdateAccountBalance(accountID, currency string, balance float64) {
	c.accountBalance.WithLabelValues(accountID, currency).Set(balance)
}

func (c *Collector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.GetHandler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		c.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (c *Collector) Shutdown(ctx context.Context) error {
	c.logger.Info("Metrics collector shutdown complete")
	return nil
}
