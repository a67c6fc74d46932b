// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus collectors for filter and exporter activity.
//
// Every method is safe on a nil *Metrics, so components can take metrics as
// an optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chattrace"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Filter metrics
	FilterRequests *prometheus.CounterVec
	FilterDuration *prometheus.HistogramVec
	ClientErrors   *prometheus.CounterVec

	// Trace metrics
	TracesCreated prometheus.Counter
	TracesActive  prometheus.Gauge
	UsageTokens   *prometheus.CounterVec

	// Exporter metrics
	ExportBatches *prometheus.CounterVec
	ExportEvents  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FilterRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_requests_total",
				Help:      "Total number of filter calls",
			},
			[]string{"phase", "observation"},
		),
		FilterDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "filter_duration_seconds",
				Help:      "Filter call duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"phase"},
		),
		ClientErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_errors_total",
				Help:      "Tracing client calls that returned an error",
			},
			[]string{"operation"},
		),

		TracesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traces_created_total",
				Help:      "Total number of conversation traces created",
			},
		),
		TracesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "traces_active",
				Help:      "Number of conversation traces held in the registry",
			},
		),
		UsageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_tokens_total",
				Help:      "Token usage reported by assistant messages",
			},
			[]string{"direction"},
		),

		ExportBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batches_total",
				Help:      "Export attempts by backend and outcome",
			},
			[]string{"backend", "status"},
		),
		ExportEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_events_total",
				Help:      "Records handed to the exporter",
			},
			[]string{"backend"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordFilter records one inlet or outlet call.
func (m *Metrics) RecordFilter(phase, observation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FilterRequests.WithLabelValues(phase, observation).Inc()
	m.FilterDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordClientError counts a failed tracing client call.
func (m *Metrics) RecordClientError(operation string) {
	if m == nil {
		return
	}
	m.ClientErrors.WithLabelValues(operation).Inc()
}

// IncTracesCreated increments the created traces counter
func (m *Metrics) IncTracesCreated() {
	if m == nil {
		return
	}
	m.TracesCreated.Inc()
}

// SetTracesActive sets the number of registered traces
func (m *Metrics) SetTracesActive(count int) {
	if m == nil {
		return
	}
	m.TracesActive.Set(float64(count))
}

// RecordUsage adds token counts.
func (m *Metrics) RecordUsage(input, output int64) {
	if m == nil {
		return
	}
	m.UsageTokens.WithLabelValues("input").Add(float64(input))
	m.UsageTokens.WithLabelValues("output").Add(float64(output))
}

// ObserveExport records an export attempt. It satisfies
// observability.ExportObserver.
func (m *Metrics) ObserveExport(backend string, events int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ExportBatches.WithLabelValues(backend, status).Inc()
	m.ExportEvents.WithLabelValues(backend).Add(float64(events))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
