// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for auth operations.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains the Prometheus collectors for holoauth.
//
// All Record* methods are safe to call on a nil *Metrics, so components can
// take an optional metrics dependency.
type Metrics struct {
	AuthOperations      *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration prometheus.Histogram
	RateLimitRejections *prometheus.CounterVec
	RateLimitErrors     prometheus.Counter
}

// NewMetrics creates and registers the holoauth metrics.
// Panics if registration fails (following prometheus convention).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holoauth_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holoauth_http_requests_total",
				Help: "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "holoauth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "holoauth_ratelimit_rejections_total",
				Help: "Total number of requests rejected by the admission limiter",
			},
			[]string{"strategy"},
		),
		RateLimitErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "holoauth_ratelimit_errors_total",
				Help: "Total number of counter store failures; the request was admitted",
			},
		),
	}

	reg.MustRegister(
		m.AuthOperations,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.RateLimitRejections,
		m.RateLimitErrors,
	)
	return m
}

// RecordAuthOperation counts one orchestrator call.
// Parameters:
//   - operation: e.g. "register", "login", "refresh"
//   - outcome: OutcomeSuccess, OutcomeFailure, or a more specific error label
func (m *Metrics) RecordAuthOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordHTTPRequest counts a served request and observes its duration.
// route is the chi route pattern, never the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.Observe(duration.Seconds())
}

// RecordRateLimitRejection counts a 429 issued under the given key strategy.
func (m *Metrics) RecordRateLimitRejection(strategy string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(strategy).Inc()
}

// RecordRateLimitError counts a counter store failure.
func (m *Metrics) RecordRateLimitError() {
	if m == nil {
		return
	}
	m.RateLimitErrors.Inc()
}
