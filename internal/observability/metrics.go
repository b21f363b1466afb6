// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Fetch metrics
	RowsFetched *prometheus.CounterVec
	FetchErrors *prometheus.CounterVec

	// Sync metrics
	RowsUpserted *prometheus.CounterVec
	UpsertErrors *prometheus.CounterVec

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RowsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_fetched_total",
			Help: "Rows fetched per source entity",
		}, []string{"entity"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_fetch_errors_total",
			Help: "Fetch failures after retry, per source entity",
		}, []string{"entity"}),

		RowsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_rows_upserted_total",
			Help: "Rows applied to warehouse tables",
		}, []string{"table"}),
		UpsertErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_upsert_errors_total",
			Help: "Upsert failures after retry, per table",
		}, []string{"table"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Pipeline runs by domain and outcome",
		}, []string{"domain", "outcome"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Pipeline run duration by domain",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"domain"}),
	}
}

// Handler returns an HTTP handler exposing the registry's metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
