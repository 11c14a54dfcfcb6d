// Package metrics exposes Prometheus instrumentation for crawl tasks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mpcrawl"

// Metrics holds the crawler's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TasksStarted  prometheus.Counter
	TasksFinished *prometheus.CounterVec
	TasksActive   prometheus.Gauge
	Items         *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	EventsDropped prometheus.Counter
	IndexFailures prometheus.Counter
}

// New creates and registers the collectors. A nil registerer uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "started_total",
			Help:      "Crawl tasks accepted by the task manager",
		}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Crawl tasks that reached a terminal state",
		}, []string{"status"}),
		TasksActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Crawl tasks currently holding an account slot",
		}),
		Items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "total",
			Help:      "Pipeline items by outcome",
		}, []string{"outcome"}),
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Network fetches by page kind and result",
		}, []string{"kind", "result"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Network fetch latency by page kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "events_dropped_total",
			Help:      "Progress events discarded for lagging SSE clients",
		}),
		IndexFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "index_failures_total",
			Help:      "Articles stored but not indexed in the search engine",
		}),
	}
}

// TaskStarted records an accepted task.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksStarted.Inc()
	m.TasksActive.Inc()
}

// TaskFinished records a task reaching status.
func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(status).Inc()
	m.TasksActive.Dec()
}

// Item records one pipeline item outcome (processed, duplicate, failed).
func (m *Metrics) Item(outcome string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one network fetch.
func (m *Metrics) ObserveFetch(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Fetches.WithLabelValues(kind, result).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// EventsDroppedAdd records events discarded for a subscriber.
func (m *Metrics) EventsDroppedAdd(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDropped.Add(float64(n))
}

// IndexFailed records a search index write that failed.
func (m *Metrics) IndexFailed() {
	if m == nil {
		return
	}
	m.IndexFailures.Inc()
}
