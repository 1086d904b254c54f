// Package ingest implements the write-key authenticated ingestion
// endpoint: it authenticates the tracking script's payload, shapes it into
// the canonical event record, and publishes it to the bus.
package ingest

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eventinspect/eventinspect/pkg/controller"
	"github.com/eventinspect/eventinspect/pkg/live"
	"github.com/eventinspect/eventinspect/pkg/observability/logger"
	"github.com/eventinspect/eventinspect/pkg/observability/metrics"
	"github.com/eventinspect/eventinspect/pkg/writekey"
)

// Request is the wire payload tracking scripts post.
type Request struct {
	WriteKey string      `json:"writeKey"`
	Name     string      `json:"name"`
	URL      string      `json:"url"`
	Params   live.Params `json:"params"`
}

// Ack is the success acknowledgement.
type Ack struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
}

// Handler handles POST /v1/ingest.
type Handler struct {
	directory writekey.Directory
	bus       live.Bus
	rules     live.Ruleset
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewHandler wires the ingestion endpoint.
func NewHandler(directory writekey.Directory, bus live.Bus, rules live.Ruleset, log logger.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		directory: directory,
		bus:       bus,
		rules:     rules,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// Handle authenticates, validates, shapes, and publishes one event.
// Exactly one publish happens per accepted request; a failed publish is
// surfaced to the caller and never retried here, the tracking script owns
// its own retry/drop policy.
func (h *Handler) Handle(c *gin.Context) {
	log := h.log.WithContext(c.Request.Context())

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, controller.NewPayloadTooLargeError("request body exceeds the configured limit"))
			return
		}
		h.reject(c, controller.NewValidationError("invalid_body", "request body must be a JSON object"))
		return
	}

	if strings.TrimSpace(req.WriteKey) == "" {
		h.reject(c, controller.NewValidationError("missing_write_key", "writeKey is required"))
		return
	}

	identity, err := h.directory.Resolve(req.WriteKey)
	if err != nil {
		if errors.Is(err, writekey.ErrNotFound) {
			log.Warn("ingest rejected: unknown write key",
				"write_key", writekey.Truncate(req.WriteKey),
			)
			h.reject(c, controller.NewUnauthorizedError("invalid_write_key",
				"writeKey does not match any environment"))
			return
		}
		h.reject(c, controller.NewInternalError("write key lookup failed", err))
		return
	}

	name := strings.TrimSpace(req.Name)
	url := strings.TrimSpace(req.URL)
	if name == "" || url == "" {
		h.reject(c, controller.NewValidationError("validation_failed", "name and url are required"))
		return
	}

	evt := live.NewEvent(identity.ProjectID, identity.EnvironmentID, name, url, req.Params, h.rules, h.now())

	if err := h.bus.Publish(c.Request.Context(), evt.ProjectID, evt.EnvironmentID, evt); err != nil {
		log.Error("event publish failed",
			"event_id", evt.ID,
			"project_id", evt.ProjectID,
			"environment_id", evt.EnvironmentID,
			"error", err,
		)
		h.reject(c, controller.NewDeliveryError("event could not be delivered", err))
		return
	}

	if h.metrics != nil {
		h.metrics.EventsIngested.WithLabelValues(string(evt.Status)).Inc()
	}
	log.Info("event ingested",
		"event_id", evt.ID,
		"project_id", evt.ProjectID,
		"environment_id", evt.EnvironmentID,
		"event", evt.Name,
		"status", string(evt.Status),
		"session", evt.Params.Session(),
	)

	c.JSON(http.StatusOK, Ack{Success: true, EventID: evt.ID})
}

func (h *Handler) reject(c *gin.Context, err *controller.AppError) {
	if h.metrics != nil {
		h.metrics.IngestRejected.WithLabelValues(err.Code).Inc()
	}
	controller.Error(c, err)
}
