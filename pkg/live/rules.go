package live

import "strings"

// Rule declares an expectation on one event name: when the required
// parameter is missing the event is tagged with the rule's status and
// message. Rules are plain data so new expectations never touch the
// ingestion plumbing.
type Rule struct {
	Event         string
	RequiredParam string
	Status        Status
	Message       string
}

// Ruleset evaluates events against an ordered rule table. The first rule
// whose parameter is missing wins, so order severe rules first when an
// event name carries several.
type Ruleset []Rule

// DefaultRuleset covers the ecommerce expectations the dashboard relies on.
func DefaultRuleset() Ruleset {
	return Ruleset{
		{
			Event:         "purchase",
			RequiredParam: "transaction_id",
			Status:        StatusError,
			Message:       "purchase event is missing the transaction_id parameter",
		},
		{
			Event:         "add_to_cart",
			RequiredParam: "currency",
			Status:        StatusWarn,
			Message:       "add_to_cart event is missing the currency parameter",
		},
	}
}

// Evaluate returns the status and message for an event name and its params.
// Events matching no rule, or satisfying every matching rule, are ok.
func (rs Ruleset) Evaluate(name string, params Params) (Status, string) {
	for _, r := range rs {
		if r.Event != name {
			continue
		}
		if hasParam(params, r.RequiredParam) {
			continue
		}
		return r.Status, r.Message
	}
	return StatusOK, ""
}

// hasParam treats nil and blank-string values as missing.
func hasParam(p Params, key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
