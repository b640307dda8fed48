// Package event defines the Measurement Protocol wire payload and the
// contracts every event has to satisfy before it is queued.
package event

// Measurement parameters the collector requires on every event.
const (
	ParamSessionID      = "session_id"
	ParamEngagementTime = "engagement_time_msec"
)

// ExecutionContext identifies which isolated runtime produced an event.
// Contexts share nothing but the storage substrate.
type ExecutionContext string

const (
	ContextBackground    ExecutionContext = "background"
	ContextPopup         ExecutionContext = "popup"
	ContextContentScript ExecutionContext = "content_script"
	ContextPage          ExecutionContext = "page"
)

// Valid reports whether c is one of the known contexts.
func (c ExecutionContext) Valid() bool {
	switch c {
	case ContextBackground, ContextPopup, ContextContentScript, ContextPage:
		return true
	}
	return false
}

// Params are the sanitized parameters of a single event.
type Params map[string]any

// Event is one entry of the payload's events array.
type Event struct {
	Name   string `json:"name"`
	Params Params `json:"params"`
}

// UserProperty wraps a user property value the way the collector expects.
type UserProperty struct {
	Value any `json:"value"`
}

// Payload is the JSON body POSTed to the collector. It is built once by
// the batcher and never mutated after it is queued.
type Payload struct {
	ClientID           string                  `json:"client_id"`
	TimestampMicros    int64                   `json:"timestamp_micros"`
	UserProperties     map[string]UserProperty `json:"user_properties,omitempty"`
	NonPersonalizedAds bool                    `json:"non_personalized_ads"`
	Events             []Event                 `json:"events"`
}

// Name returns the first event name, or "" for an empty payload.
func (p *Payload) Name() string {
	if p == nil || len(p.Events) == 0 {
		return ""
	}
	return p.Events[0].Name
}
