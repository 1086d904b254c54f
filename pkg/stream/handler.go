// Package stream turns bus channels into Server-Sent-Event streams for
// dashboard viewers, and provides the viewer-side client that keeps one
// logical subscription alive across connection failures.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eventinspect/eventinspect/pkg/controller"
	"github.com/eventinspect/eventinspect/pkg/live"
	"github.com/eventinspect/eventinspect/pkg/observability/logger"
	"github.com/eventinspect/eventinspect/pkg/observability/metrics"
)

// Frame type discriminators used in the SSE JSON envelope.
const (
	MessageTypeConnected = "connected"
	MessageTypeEvent     = "event"
)

// ConnectedFrame is the control frame announcing a successful
// subscription, sent before any event. It lets the viewer distinguish
// "connected, waiting" from "never connected".
type ConnectedFrame struct {
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	ProjectID     string    `json:"projectId"`
	EnvironmentID string    `json:"environmentId"`
	Session       *string   `json:"session"`
}

// EventFrame wraps one event record for the wire.
type EventFrame struct {
	Type string     `json:"type"`
	Evt  live.Event `json:"evt"`
}

// HandlerConfig configures the SSE endpoint.
type HandlerConfig struct {
	// HeartbeatInterval is the period between keep-alive comment frames,
	// default 25s. Heartbeats defeat idle-connection timeouts in proxies.
	HeartbeatInterval time.Duration
	// ClientBuffer is the per-connection event queue size, default 64.
	// The bus callback never blocks; frames beyond the buffer are dropped
	// for that subscriber only.
	ClientBuffer int
}

func (cfg HandlerConfig) withDefaults() HandlerConfig {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	return cfg
}

// Handler handles GET /v1/stream.
type Handler struct {
	bus     live.Bus
	cfg     HandlerConfig
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewHandler wires the stream endpoint.
func NewHandler(bus live.Bus, cfg HandlerConfig, log logger.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		bus:     bus,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
	}
}

// Handle serves one long-lived SSE connection. The stream runs until the
// client disconnects or a write fails; both tear down the subscription and
// the heartbeat ticker. A session filter restricts delivery to events
// whose ei_session param matches exactly; without a filter every channel
// event is delivered.
func (h *Handler) Handle(c *gin.Context) {
	projectID := strings.TrimSpace(c.Query("projectId"))
	environmentID := strings.TrimSpace(c.Query("environmentId"))
	if projectID == "" || environmentID == "" {
		controller.Error(c, controller.NewValidationError("missing_channel",
			"projectId and environmentId are required"))
		return
	}
	session := strings.TrimSpace(c.Query("session"))

	log := h.log.WithContext(c.Request.Context()).With(
		"project_id", projectID,
		"environment_id", environmentID,
		"session", session,
	)

	// The bus callback hands events over through a bounded queue so the
	// publish path never blocks on this connection's write loop.
	events := make(chan live.Event, h.cfg.ClientBuffer)
	sub, err := h.bus.Subscribe(c.Request.Context(), projectID, environmentID, func(evt live.Event) {
		if session != "" && evt.Params.Session() != session {
			return
		}
		select {
		case events <- evt:
		default:
			if h.metrics != nil {
				h.metrics.SubscriberDrops.Inc()
			}
		}
	})
	if err != nil {
		controller.Error(c, controller.NewInternalError("subscribe failed", err))
		return
	}
	defer func() {
		_ = sub.Close()
	}()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	var sessionEcho *string
	if session != "" {
		sessionEcho = &session
	}
	if err := h.writeFrame(c.Writer, MessageTypeConnected, ConnectedFrame{
		Type:          MessageTypeConnected,
		Timestamp:     time.Now().UTC(),
		ProjectID:     projectID,
		EnvironmentID: environmentID,
		Session:       sessionEcho,
	}); err != nil {
		return
	}
	c.Writer.Flush()

	if h.metrics != nil {
		h.metrics.StreamConnections.Inc()
		defer h.metrics.StreamConnections.Dec()
	}
	log.Info("stream opened")
	defer log.Info("stream closed")

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeComment(c.Writer, "heartbeat"); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.FramesSent.WithLabelValues("heartbeat").Inc()
			}
			c.Writer.Flush()
		case evt := <-events:
			if err := h.writeFrame(c.Writer, MessageTypeEvent, EventFrame{
				Type: MessageTypeEvent,
				Evt:  evt,
			}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeFrame emits one logical message as a single data: line.
func (h *Handler) writeFrame(w io.Writer, frameType string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.FramesSent.WithLabelValues(frameType).Inc()
	}
	return nil
}

func writeComment(w io.Writer, value string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", value)
	return err
}
