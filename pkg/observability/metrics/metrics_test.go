package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_Handler(t *testing.T) {
	m := New()

	m.EventsIngested.WithLabelValues("ok").Inc()
	m.IngestRejected.WithLabelValues("invalid_write_key").Inc()
	m.StreamConnections.Inc()
	m.FramesSent.WithLabelValues("event").Inc()
	m.SubscriberDrops.Inc()
	m.RecordHTTPRequest(http.MethodPost, "/v1/ingest", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"eventinspect_events_ingested_total",
		"eventinspect_ingest_rejected_total",
		"eventinspect_stream_connections",
		"eventinspect_stream_frames_sent_total",
		"eventinspect_stream_subscriber_drops_total",
		"http_requests_total",
		"http_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("exposition missing %s", metric)
		}
	}
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a := New()
	b := New()
	a.EventsIngested.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rec.Body.String(), `eventinspect_events_ingested_total{status="ok"} 1`) {
		t.Fatal("registries are shared between instances")
	}
}
