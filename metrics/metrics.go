// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lookout"

// Admission results
const (
	AdmissionGranted = "granted"
	AdmissionDenied  = "denied"
)

// Metrics owns a dedicated registry so tests can build as many as they like
type Metrics struct {
	registry *prometheus.Registry

	admissions  *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	httpReqs    *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// New registers all collectors. busy reports the number of clients holding
// an admission slot; nil omits the gauge.
func New(busy func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission attempts by result.",
		}, []string{"result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Uploads rejected by validation, by kind.",
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.admissions, m.rejections, m.runs, m.runDuration, m.httpReqs, m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if busy != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_clients",
			Help:      "Clients with a run in flight.",
		}, func() float64 { return float64(busy()) }))
	}
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Admission counts one TryAcquire outcome
func (m *Metrics) Admission(granted bool) {
	result := AdmissionDenied
	if granted {
		result = AdmissionGranted
	}
	m.admissions.WithLabelValues(result).Inc()
}

// ValidationRejected counts one upload rejection of the given kind
func (m *Metrics) ValidationRejected(kind string) {
	m.rejections.WithLabelValues(kind).Inc()
}

// RunFinished records a finished run
func (m *Metrics) RunFinished(outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// HTTPRequest counts one served request. route is the mux pattern, never
// the raw path, to keep cardinality bounded.
func (m *Metrics) HTTPRequest(route string, code int, elapsed time.Duration) {
	m.httpReqs.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}
