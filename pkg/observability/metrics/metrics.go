// Package metrics provides Prometheus instrumentation for the ingestion
// and streaming pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns one registry and the pipeline collectors. Owning the
// registry (instead of the package-level default) keeps tests isolated.
type Metrics struct {
	registry *prometheus.Registry

	// EventsIngested counts accepted ingestion requests by event status.
	EventsIngested *prometheus.CounterVec
	// IngestRejected counts rejected ingestion requests by reason code.
	IngestRejected *prometheus.CounterVec
	// StreamConnections tracks currently open SSE connections.
	StreamConnections prometheus.Gauge
	// FramesSent counts emitted SSE frames by type.
	FramesSent *prometheus.CounterVec
	// SubscriberDrops counts frames dropped on full subscriber buffers.
	SubscriberDrops prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventinspect_events_ingested_total",
				Help: "Accepted ingestion requests by event status",
			},
			[]string{"status"},
		),
		IngestRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventinspect_ingest_rejected_total",
				Help: "Rejected ingestion requests by reason",
			},
			[]string{"reason"},
		),
		StreamConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventinspect_stream_connections",
				Help: "Currently open SSE stream connections",
			},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventinspect_stream_frames_sent_total",
				Help: "Emitted SSE frames by type",
			},
			[]string{"type"},
		),
		SubscriberDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eventinspect_stream_subscriber_drops_total",
				Help: "Frames dropped because a subscriber buffer was full",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsIngested,
		m.IngestRejected,
		m.StreamConnections,
		m.FramesSent,
		m.SubscriberDrops,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// Handler exposes the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
