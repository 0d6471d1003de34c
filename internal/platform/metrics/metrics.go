package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP-level Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the HTTP metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_http_requests_total",
			Help: "HTTP requests by route pattern, method and status class",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veriledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route, method, statusClass string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, statusClass).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
