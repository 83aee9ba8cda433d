// Package metrics exposes prometheus instruments for generated events and upstream calls.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seeder"

// Recorder groups the seeder's instruments. A nil *Recorder records nothing.
type Recorder struct {
	eventsEmitted   *prometheus.CounterVec
	eventFailures   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	merchantsMinted prometheus.Counter
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	m := &Recorder{
		eventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_emitted_total",
				Help:      "Generated events posted upstream, by abstract kind and upstream primitive.",
			},
			[]string{"kind", "primitive"},
		),
		eventFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_failures_total",
				Help:      "Upstream writes that failed or returned a non-2xx status.",
			},
			[]string{"primitive"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_request_duration_seconds",
				Help:    "Duration of external API requests in seconds.",
				Buckets: []float64{0.001, 0.010, 0.050, 0.100, 0.200, 0.500, 1, 2, 5, 10, 30},
			},
			[]string{"service", "method", "endpoint", "response_code"},
		),
		merchantsMinted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merchants_minted_total",
				Help:      "Synthetic merchants minted for the run.",
			},
		),
	}

	reg.MustRegister(m.eventsEmitted, m.eventFailures, m.requestDuration, m.merchantsMinted)

	return m
}

// Handler serves the metrics gathered by g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRequest records one upstream HTTP call. A zero status means the call never got a response.
func (m *Recorder) ObserveRequest(duration time.Duration, service, method, endpoint string, statusCode int) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(service, method, endpoint, fmt.Sprint(statusCode)).
		Observe(duration.Seconds())
}

// EventEmitted counts one event handed to the upstream.
func (m *Recorder) EventEmitted(kind, primitive string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(kind, primitive).Inc()
}

// EventFailed counts one failed upstream write.
func (m *Recorder) EventFailed(primitive string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(primitive).Inc()
}

// MerchantsMinted adds n to the minted merchant counter.
func (m *Recorder) MerchantsMinted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.merchantsMinted.Add(float64(n))
}
