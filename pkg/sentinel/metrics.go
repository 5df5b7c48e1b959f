// Copyright 2026 Formal Kernel Authors

package sentinel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments Sentinel exposes. Grounded on
// escrow/metrics.go's NewMetrics shape (HistogramVec/CounterVec/Gauge
// registered up front via promauto). Metrics has no Record* methods; the
// Monitor updates the instruments directly.
type Metrics struct {
	TransactionDuration *prometheus.HistogramVec
	AnomalyScore        *prometheus.HistogramVec
	CPUViolations       *prometheus.CounterVec
	CrisisActive        prometheus.Gauge
	TransactionsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers Sentinel's metrics against the
// default registerer. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		TransactionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_sentinel_transaction_duration_seconds",
				Help:    "Wall-clock duration of verification transactions observed by Sentinel",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verdict"},
		),
		AnomalyScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_sentinel_anomaly_score",
				Help:    "Per-transaction anomaly score in [0,1]",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"verdict"},
		),
		CPUViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_sentinel_cpu_violations_total",
				Help: "Count of transactions whose thread CPU time exceeded the configured ceiling",
			},
			[]string{"mode"},
		),
		CrisisActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_sentinel_crisis_active",
				Help: "1 when Sentinel has signaled should_activate for crisis mode, 0 otherwise",
			},
		),
		TransactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_sentinel_transactions_total",
				Help: "Total transactions observed by Sentinel",
			},
			[]string{"verdict"},
		),
	}
}
