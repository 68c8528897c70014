package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/keys"
	"interaction-ingest/src/normalize"
)

// StorageShape selects how a message's content is written.
type StorageShape string

const (
	// ShapeNormalized writes typed content columns only.
	ShapeNormalized StorageShape = "normalized"
	// ShapeDocument writes the keys plus one JSON document holding everything else.
	ShapeDocument StorageShape = "document"
	// ShapeHybrid writes both.
	ShapeHybrid StorageShape = "hybrid"
)

// ParseStorageShape validates a configured shape name.
func ParseStorageShape(s string) (StorageShape, error) {
	switch StorageShape(s) {
	case ShapeNormalized, ShapeDocument, ShapeHybrid:
		return StorageShape(s), nil
	case "":
		return ShapeNormalized, nil
	}
	return "", fmt.Errorf("unknown storage shape %q (want normalized, document or hybrid)", s)
}

// MessageSerializer builds the row written for one reconciled event. The
// reconciliation algorithm is the same for every serializer.
type MessageSerializer interface {
	Message(rec *normalize.Record, k keys.Keys, agent string, at time.Time) (*contracts.Message, error)
}

// NewSerializer returns the serializer for shape.
func NewSerializer(shape StorageShape) MessageSerializer {
	switch shape {
	case ShapeDocument:
		return serializer{columns: false, document: true}
	case ShapeHybrid:
		return serializer{columns: true, document: true}
	}
	return serializer{columns: true}
}

// MessageDocument is the semi-structured form of a message.
type MessageDocument struct {
	Content        string                 `json:"content,omitempty"`
	Text           string                 `json:"text,omitempty"`
	Tokens         contracts.TokenTotals  `json:"tokens"`
	Model          string                 `json:"model,omitempty"`
	ToolCalls      []contracts.ToolCall   `json:"tool_calls,omitempty"`
	Shape          normalize.Shape        `json:"shape"`
	Method         string                 `json:"method,omitempty"`
	Final          bool                   `json:"final,omitempty"`
	Partial        bool                   `json:"partial,omitempty"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	FunctionCallID string                 `json:"function_call_id,omitempty"`
	SourceAgentID  string                 `json:"source_agent_id,omitempty"`
	MessageNumber  int64                  `json:"message_number,omitempty"`
	Linkage        keys.Linkage           `json:"linkage"`
	User           contracts.UserIdentity `json:"user"`
	UserProfile    json.RawMessage        `json:"user_profile,omitempty"`
	Parts          json.RawMessage        `json:"parts,omitempty"`
	Artifacts      json.RawMessage        `json:"artifacts,omitempty"`
	Envelope       json.RawMessage        `json:"envelope,omitempty"`
}

type serializer struct {
	columns  bool
	document bool
}

func (s serializer) Message(rec *normalize.Record, k keys.Keys, agent string, at time.Time) (*contracts.Message, error) {
	content := normalize.ContentSummary(rec)
	calls := MergeToolCalls(rec.ToolInvocations, rec.ToolResults)
	var model string
	if rec.TokenUsage != nil {
		model = rec.TokenUsage.Model
	}

	m := &contracts.Message{
		Key:             rec.MessageKey,
		ConversationKey: k.ConversationKey,
		TaskKey:         k.TaskKey,
		InteractionKey:  k.InteractionKey,
		ParentTaskKey:   rec.ParentTaskKey,
		Role:            rec.Role,
		AgentName:       agent,
		MessageType:     rec.MessageType,
		TaskState:       rec.TaskState,
		Topic:           rec.Topic,
		Timestamp:       at,
		KeySynthesized:  rec.MessageKeySynthesized,
	}
	if s.columns {
		m.Content = content
		m.Tokens = rec.Tokens()
		m.Model = model
		m.ToolCalls = calls
	}
	if s.document {
		doc := MessageDocument{
			Content:        content,
			Text:           rec.Text,
			Tokens:         rec.Tokens(),
			Model:          model,
			ToolCalls:      calls,
			Shape:          rec.Shape,
			Method:         rec.Method,
			Final:          rec.Final,
			Partial:        rec.Partial,
			CorrelationID:  rec.CorrelationID,
			FunctionCallID: rec.FunctionCallID,
			SourceAgentID:  rec.SourceAgentID,
			MessageNumber:  rec.MessageNumber,
			Linkage:        k.Linkage,
			User:           rec.User,
			UserProfile:    validJSON(rec.UserProfile),
			Parts:          validJSON(rec.Parts),
			Artifacts:      validJSON(rec.Artifacts),
			Envelope:       validJSON(rec.RawEnvelope),
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message document: %w", err)
		}
		m.Document = encoded
	}
	return m, nil
}

// Expand fills empty content columns of m from its document, so readers see
// the same message regardless of the storage shape it was written with.
func Expand(m contracts.Message) contracts.Message {
	if len(m.Document) == 0 {
		return m
	}
	var doc MessageDocument
	if err := json.Unmarshal(m.Document, &doc); err != nil {
		return m
	}
	if m.Content == "" {
		m.Content = doc.Content
	}
	if m.Tokens.IsZero() {
		m.Tokens = doc.Tokens
	}
	if m.Model == "" {
		m.Model = doc.Model
	}
	if len(m.ToolCalls) == 0 {
		m.ToolCalls = doc.ToolCalls
	}
	return m
}

func validJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
