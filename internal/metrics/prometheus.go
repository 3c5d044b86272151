package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus records into a private registry.
type Prometheus struct {
	reg      *prometheus.Registry
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
	counters *prometheus.CounterVec
}

// NewPrometheus builds a recorder under namespace (default "crowdtag").
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "crowdtag"
	}
	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine phases.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Engine phase outcomes.",
		}, []string{"operation", "status"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Captured images, written records and other run events.",
		}, []string{"event"}),
	}
	p.reg.MustRegister(p.duration, p.results, p.counters)
	return p
}

// Observe implements Recorder.
func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	p.duration.WithLabelValues(operation).Observe(duration.Seconds())
	p.results.WithLabelValues(operation, status).Inc()
}

// Add implements Recorder.
func (p *Prometheus) Add(counter string, n int) {
	if counter == "" || n <= 0 {
		return
	}
	p.counters.WithLabelValues(counter).Add(float64(n))
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
