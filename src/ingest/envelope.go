package ingest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"interaction-ingest/src/broker"
	"interaction-ingest/src/contracts"
)

// Transport headers lifted into dedicated envelope fields.
const (
	HeaderSenderID      = "sender_id"
	HeaderCorrelationID = "correlation_id"
)

// Wrap converts a bus delivery into the archival envelope. number is the
// listener's delivery counter; now stamps deliveries without a timestamp.
func Wrap(msg broker.Message, number int64, now time.Time) ([]byte, error) {
	ts := now
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}
	meta := contracts.EnvelopeMetadata{
		Topic:         msg.Topic,
		FeedbackID:    lastSegment(msg.Topic),
		Timestamp:     ts.UTC().Format(contracts.EnvelopeTimeLayout),
		MessageNumber: number,
		SenderID:      header(msg.Headers, HeaderSenderID),
		CorrelationID: header(msg.Headers, HeaderCorrelationID),
	}
	if len(msg.Headers) > 0 {
		meta.UserProperties = make(map[string]any, len(msg.Headers))
		for k, v := range msg.Headers {
			meta.UserProperties[k] = v
		}
	}

	payload, err := wrapPayload(msg.Value)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(contracts.Envelope{Metadata: meta, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return out, nil
}

// wrapPayload embeds JSON verbatim, other text as a JSON string and
// anything else as hex.
func wrapPayload(value []byte) (json.RawMessage, error) {
	if len(value) == 0 {
		return json.RawMessage(`null`), nil
	}
	if json.Valid(value) {
		return json.RawMessage(value), nil
	}
	if utf8.Valid(value) {
		return json.Marshal(string(value))
	}
	return json.Marshal(map[string]string{
		"binary_data": hex.EncodeToString(value),
		"note":        "payload is not valid UTF-8; hex encoded",
	})
}

func header(h map[string]string, key string) *string {
	v, ok := h[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func lastSegment(topic string) string {
	topic = strings.TrimRight(topic, "/")
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
