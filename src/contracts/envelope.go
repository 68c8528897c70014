// Package contracts defines the data structures shared by the ingestion pipeline:
// the archival event envelope, the persistent aggregates and their mutation deltas.
package contracts

import (
	"encoding/json"
	"strings"
	"time"
)

// Envelope is one bus event as archived to disk and replayed from files.
// Live deliveries are wrapped into the same shape before normalization.
type Envelope struct {
	Metadata EnvelopeMetadata `json:"metadata"`
	// Original payload. JSON payloads are embedded verbatim.
	Payload json.RawMessage `json:"payload"`
}

// EnvelopeMetadata carries the transport-level attributes of an event.
type EnvelopeMetadata struct {
	// Hierarchical bus topic (e.g. "ns/a2a/v1/agent/status/Billing/gdk-task-1").
	Topic string `json:"topic"`
	// Last topic segment. Kept under its historical name for file compatibility.
	FeedbackID string `json:"feedback_id"`
	// Receive time, ISO-8601.
	Timestamp string `json:"timestamp"`
	// Per-listener delivery counter.
	MessageNumber int64 `json:"message_number"`
	// Producer identity, if the transport carried one.
	SenderID *string `json:"sender_id"`
	// Transport correlation id, if any.
	CorrelationID *string `json:"correlation_id"`
	// Transport user properties (headers).
	UserProperties map[string]any `json:"user_properties,omitempty"`
}

// EnvelopeTimeLayout is the layout used when stamping envelopes.
const EnvelopeTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the timestamp formats seen in envelopes and stores.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
