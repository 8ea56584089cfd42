package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: исходящие вебхуки по типам событий и исходам
	WebhooksTotal *prometheus.CounterVec

	// Retries: сколько ретраев поставлено в очередь
	RetriesScheduled *prometheus.CounterVec

	// Latency: обработка входящих hook-запросов
	HookDuration *prometheus.HistogramVec

	// Saturation: состояние предохранителя (0 - closed, 1 - open, 0.5 - half-open)
	CircuitState prometheus.Gauge

	// Budget: расход дневного бюджета записи
	BudgetUsed prometheus.Gauge

	// Audit: заполненность буфера журнала (backpressure)
	AuditBufferFill prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		WebhooksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pinch_webhooks_total",
			Help: "Total number of outbound webhook dispatches by outcome.",
		}, []string{"event", "outcome"}), // outcome: sent, failed, rate_limited, suppressed, rejected

		RetriesScheduled: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pinch_webhook_retries_scheduled_total",
			Help: "Total number of webhook retry jobs scheduled.",
		}, []string{"event"}),

		HookDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pinch_hook_request_duration_seconds",
			Help:    "Histogram of incoming hook request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action", "status"}),

		CircuitState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pinch_gateway_circuit_state",
			Help: "Current state of the gateway circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}),

		BudgetUsed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pinch_write_budget_used",
			Help: "Write-classified executions consumed from today's budget.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pinch_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),
	}
}
