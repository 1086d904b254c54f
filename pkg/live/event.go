// Package live implements the real-time event distribution core: the
// canonical event record, the validation ruleset, and the channel bus
// variants that fan events out to stream subscribers.
package live

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies an event after the validation rules have run.
type Status string

// Event status values.
const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// SessionParam is the params key carrying the browsing session identifier
// attached by the tracking script. It is always present on an ingested
// event, possibly with a nil value.
const SessionParam = "ei_session"

// Params keys the ingestion endpoint honors as caller-supplied overrides.
const (
	eventIDParam   = "event_id"
	timestampParam = "timestamp"
)

// Params is the open mapping of tracking payload values. Values are
// JSON-compatible: scalars, arrays, and nested objects as decoded by
// encoding/json.
type Params map[string]any

// Clone returns a copy whose top-level entries can be mutated without
// affecting the original. Nested values are shared; the pipeline treats
// params as immutable after ingestion.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the value for key when it is a non-empty string, otherwise "".
func (p Params) String(key string) string {
	if p == nil {
		return ""
	}
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Session returns the session identifier, or "" when absent or nil.
func (p Params) Session() string {
	return p.String(SessionParam)
}

// Event is the canonical record flowing from ingestion to viewers.
// It is created once at ingestion time and never mutated afterwards.
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ProjectID     string    `json:"projectId"`
	EnvironmentID string    `json:"environmentId"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Status        Status    `json:"status"`
	Message       string    `json:"message,omitempty"`
	Params        Params    `json:"params"`
}

// NewEvent synthesizes the canonical record for one accepted ingestion
// request. The caller-supplied event_id and timestamp params are honored
// when present; otherwise an id is generated and the ingestion time is
// stamped. The session key is always present afterwards, nil when the
// tracker did not report one. Status and message come from the ruleset.
func NewEvent(projectID, environmentID, name, url string, params Params, rules Ruleset, now time.Time) Event {
	p := params.Clone()
	if p == nil {
		p = Params{}
	}

	id := p.String(eventIDParam)
	if id == "" {
		id = "evt_" + uuid.NewString()
	}

	ts := now.UTC()
	if raw := p.String(timestampParam); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed.UTC()
		}
	}

	if _, ok := p[SessionParam]; !ok {
		p[SessionParam] = nil
	}

	status, message := rules.Evaluate(name, p)

	return Event{
		ID:            id,
		Timestamp:     ts,
		ProjectID:     projectID,
		EnvironmentID: environmentID,
		Name:          name,
		URL:           url,
		Status:        status,
		Message:       message,
		Params:        p,
	}
}
