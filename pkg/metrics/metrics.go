// Package metrics defines the Prometheus collectors for the replication
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the replicator.
type Metrics struct {
	BatchesTotal       *prometheus.CounterVec
	NoChangesTotal     *prometheus.CounterVec
	RowsExtractedTotal *prometheus.CounterVec
	DocsPublishedTotal prometheus.Counter
	PublishRetries     prometheus.Counter
	Watermark          *prometheus.GaugeVec
	CycleDuration      *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	OpsRequestsTotal   *prometheus.CounterVec
	OpsRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_batches_total",
				Help: "Change batches replicated, by source table.",
			},
			[]string{"table"},
		),
		NoChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_no_changes_total",
				Help: "Polls that found no rows past the watermark, by source table.",
			},
			[]string{"table"},
		),
		RowsExtractedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_extracted_total",
				Help: "Rows returned by each extraction stage (produce, enrich, merge).",
			},
			[]string{"table", "stage"},
		),
		DocsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_documents_published_total",
				Help: "Aggregate documents written to the search index.",
			},
		),
		PublishRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_publish_retries_total",
				Help: "Bulk writes retried after a transient failure.",
			},
		),
		Watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etl_watermark_timestamp_seconds",
				Help: "Committed watermark per table as a unix timestamp.",
			},
			[]string{"table"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_cycle_duration_seconds",
				Help:    "Duration of an extract-transform-publish-commit cycle.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"table"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_errors_total",
				Help: "Fatal cycle errors by stage.",
			},
			[]string{"stage"},
		),
		OpsRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ops_http_requests_total",
				Help: "Requests to the probe endpoints by path and status code.",
			},
			[]string{"path", "code"},
		),
		OpsRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ops_http_request_duration_seconds",
				Help:    "Latency of the probe endpoints.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(
		m.BatchesTotal,
		m.NoChangesTotal,
		m.RowsExtractedTotal,
		m.DocsPublishedTotal,
		m.PublishRetries,
		m.Watermark,
		m.CycleDuration,
		m.ErrorsTotal,
		m.OpsRequestsTotal,
		m.OpsRequestDuration,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
