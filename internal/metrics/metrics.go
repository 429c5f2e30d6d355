// Package metrics records request lifecycle metrics with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the process-wide request metrics.
type Recorder struct {
	registry *prometheus.Registry

	inProgress      prometheus.Gauge
	accessDenied    prometheus.Counter
	requestTraffic  prometheus.Counter
	responseTraffic prometheus.Counter
	responseTime    prometheus.Histogram
}

// NewRecorder registers the request metrics, plus the Go runtime and process
// collectors, with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Recorder{
		registry: reg,
		inProgress: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "block_requests_in_progress",
				Help: "Number of requests currently being handled",
			},
		),
		accessDenied: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "block_access_denied_total",
				Help: "Number of file requests answered with an error",
			},
		),
		requestTraffic: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "block_request_traffic_bytes_total",
				Help: "Bytes received in stored uploads",
			},
		),
		responseTraffic: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "block_response_traffic_bytes_total",
				Help: "Bytes sent in downloads",
			},
		),
		responseTime: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "block_response_time_seconds",
				Help:    "Time from request start to teardown",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RequestStarted increments the in-flight gauge.
func (r *Recorder) RequestStarted() {
	r.inProgress.Inc()
}

// RequestFinished decrements the in-flight gauge and observes the latency of
// a request that started at start.
func (r *Recorder) RequestFinished(start time.Time) {
	r.responseTime.Observe(time.Since(start).Seconds())
	r.inProgress.Dec()
}

func (r *Recorder) AccessDenied() {
	r.accessDenied.Inc()
}

func (r *Recorder) RequestTraffic(n int64) {
	r.requestTraffic.Add(float64(n))
}

func (r *Recorder) ResponseTraffic(n int64) {
	r.responseTraffic.Add(float64(n))
}

// Registry returns the registry the metrics live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
