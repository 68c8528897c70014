// Package normalize turns raw bus event envelopes into canonical records.
//
// Normalization is total: any byte input yields a Record. Missing or malformed
// fields degrade to empty values, never to errors.
package normalize

import (
	"encoding/json"
	"time"

	"interaction-ingest/src/contracts"
)

// Shape is the producer message format an envelope was recognized as.
type Shape string

const (
	ShapeSend         Shape = "send"
	ShapeStatusUpdate Shape = "status-update"
	ShapeTaskResult   Shape = "task-result"
	ShapeUnknown      Shape = "unknown"
)

// Message types stored alongside each message.
const (
	TypeUserQuery       = "user_query"
	TypeToolInvocation  = "tool_invocation"
	TypeToolResult      = "tool_result"
	TypeStatusUpdate    = "status_update"
	TypeFinalResponse   = "final_response"
	TypeAgentRequest    = "agent_request"
	TypeStreamedMessage = "streamed_message"
	TypeAgentMessage    = "agent_message"
)

// TokenUsage is the token accounting reported for one event.
type TokenUsage struct {
	contracts.TokenTotals
	Model string
}

// ToolInvocation is a request to call a tool.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of a tool call, matched to its invocation by ID.
type ToolResult struct {
	ID     string
	Name   string
	Result json.RawMessage
}

// Record is the canonical form of one event.
type Record struct {
	// EventID is the producer task id of the event. Always set.
	EventID         string
	ConversationKey string
	MessageKey      string
	// MessageKeySynthesized is true when MessageKey was derived from
	// EventID and the envelope timestamp.
	MessageKeySynthesized bool

	Role          contracts.Role
	TaskState     contracts.TaskState
	ParentTaskKey string
	AgentName     string
	Text          string

	// TokenUsage is the usage of this message's model calls.
	TokenUsage *TokenUsage
	// TaskTokenUsage is the cumulative usage a task result reports for its task.
	TaskTokenUsage *TokenUsage

	ToolInvocations []ToolInvocation
	ToolResults     []ToolResult
	// UserProfile is the end-user profile snapshot, verbatim.
	UserProfile json.RawMessage
	User        contracts.UserIdentity

	// Timestamp is zero when the envelope carried none.
	Timestamp     time.Time
	Topic         string
	SourceAgentID string
	MessageNumber int64
	Method        string
	Shape         Shape
	Final         bool
	Partial       bool
	// CorrelationID is the topic suffix when it names a task.
	CorrelationID  string
	FunctionCallID string
	MessageType    string

	Parts     json.RawMessage
	Artifacts json.RawMessage
	// RawEnvelope is the unmodified input.
	RawEnvelope json.RawMessage
}

// HasTools reports whether the record carries tool traffic.
func (r *Record) HasTools() bool {
	return len(r.ToolInvocations) > 0 || len(r.ToolResults) > 0
}

// Tokens returns the token totals, zero when none were reported.
func (r *Record) Tokens() contracts.TokenTotals {
	if r.TokenUsage == nil {
		return contracts.TokenTotals{}
	}
	return r.TokenUsage.TokenTotals
}
