// Package metrics exposes Prometheus metrics for fetch runs.
package metrics

import (
	"net/http"

	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "ainews"

// Fetch results other than a fetch error kind.
const (
	ResultSuccess = "success"
	ResultSkipped = "skipped"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal         *prometheus.CounterVec
	ArticlesAdded        prometheus.Counter
	ArticlesDeduplicated prometheus.Counter
	RunDuration          prometheus.Histogram
	LastRunTimestamp     prometheus.Gauge
	RunsTotal            *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.FetchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fetches_total",
			Help:      "Source fetch attempts by source type and result",
		},
		[]string{"type", "result"},
	)
	m.ArticlesAdded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "articles_added_total",
		Help:      "Articles added to date partitions",
	})
	m.ArticlesDeduplicated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "articles_deduplicated_total",
		Help:      "Incoming articles dropped as duplicates",
	})
	m.RunDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of pipeline runs in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
	})
	m.LastRunTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last pipeline run finished",
	})
	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch counts one fetch outcome.
func (m *Metrics) ObserveFetch(sourceType model.SourceType, result string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(string(sourceType), result).Inc()
}

// ObserveRun records a finished run. outcome is "ok" or "error".
func (m *Metrics) ObserveRun(report model.RunReport, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.ArticlesAdded.Add(float64(report.Added))
	m.ArticlesDeduplicated.Add(float64(report.Deduplicated))
	m.RunDuration.Observe(report.Duration().Seconds())
	m.LastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
}
