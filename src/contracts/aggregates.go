package contracts

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// TaskState is the producer-reported state of a task.
type TaskState string

const (
	TaskWorking   TaskState = "working"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ResponseState tracks whether an interaction has its final answer.
type ResponseState string

const (
	ResponseInProgress ResponseState = "in_progress"
	ResponseCompleted  ResponseState = "completed"
)

// TaskType distinguishes interaction roots from delegated work.
type TaskType string

const (
	TaskTypeMain    TaskType = "main"
	TaskTypeSubtask TaskType = "subtask"
)

// TokenTotals accumulates token counts.
type TokenTotals struct {
	Total  int64 `json:"total_tokens"`
	Input  int64 `json:"input_tokens"`
	Output int64 `json:"output_tokens"`
	Cached int64 `json:"cached_input_tokens"`
}

// Add returns the element-wise sum.
func (t TokenTotals) Add(o TokenTotals) TokenTotals {
	return TokenTotals{
		Total:  t.Total + o.Total,
		Input:  t.Input + o.Input,
		Output: t.Output + o.Output,
		Cached: t.Cached + o.Cached,
	}
}

func (t TokenTotals) IsZero() bool {
	return t == TokenTotals{}
}

// UserIdentity holds the core end-user columns lifted out of a profile snapshot.
type UserIdentity struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Country  string `json:"country,omitempty"`
	Company  string `json:"company,omitempty"`
	Language string `json:"language,omitempty"`
}

// Conversation is one end-to-end session between an end-user and the agents.
type Conversation struct {
	Key       string    `json:"conversation_key"`
	StartedAt time.Time `json:"started_at"`
	// Timestamp of the most recently reconciled event.
	EndedAt          time.Time   `json:"ended_at"`
	TotalMessages    int64       `json:"total_messages"`
	Tokens           TokenTotals `json:"tokens"`
	InteractionCount int64       `json:"interaction_count"`
	// Profile snapshot as sent by the producer, set on first sight.
	UserProfile json.RawMessage `json:"user_profile,omitempty"`
	User        UserIdentity    `json:"user"`
}

// ConversationDelta is the additive change one event applies to a conversation.
type ConversationDelta struct {
	Messages int64
	Tokens   TokenTotals
	EndedAt  time.Time
}

// ConversationStats are the mutable counters of a conversation, used by the
// read-modify-write fallback.
type ConversationStats struct {
	TotalMessages int64
	Tokens        TokenTotals
	EndedAt       time.Time
}

// Apply returns the stats after adding d.
func (s ConversationStats) Apply(d ConversationDelta) ConversationStats {
	out := ConversationStats{
		TotalMessages: s.TotalMessages + d.Messages,
		Tokens:        s.Tokens.Add(d.Tokens),
		EndedAt:       s.EndedAt,
	}
	if !d.EndedAt.IsZero() {
		out.EndedAt = d.EndedAt
	}
	return out
}

// Interaction is one user query and the agent work that answers it.
type Interaction struct {
	Key             string `json:"interaction_key"`
	ConversationKey string `json:"conversation_key"`
	// 1-based position within the conversation, assigned on creation.
	Sequence     int64     `json:"sequence"`
	StartedAt    time.Time `json:"started_at"`
	PrimaryAgent string    `json:"primary_agent,omitempty"`
	// Agents other than the primary that contributed, in order of first sight.
	DelegatedAgents []string `json:"delegated_agents"`

	UserQuery           string     `json:"user_query,omitempty"`
	UserQueryMessageKey string     `json:"user_query_message_key,omitempty"`
	UserQueryAt         *time.Time `json:"user_query_at,omitempty"`

	AgentResponse           string     `json:"agent_response,omitempty"`
	AgentResponseMessageKey string     `json:"agent_response_message_key,omitempty"`
	AgentResponseAt         *time.Time `json:"agent_response_at,omitempty"`

	ResponseState ResponseState `json:"response_state"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`

	TotalMessages int64       `json:"total_messages"`
	NumToolCalls  int64       `json:"num_tool_calls"`
	NumSubtasks   int64       `json:"num_subtasks"`
	Tokens        TokenTotals `json:"tokens"`
}

// MessageRef points at the message that supplied a query or response.
type MessageRef struct {
	Text       string
	MessageKey string
	At         time.Time
}

// InteractionPatch is applied to an interaction in a single atomic step.
// Counters are additive; the remaining fields have merge rules noted per field.
type InteractionPatch struct {
	Messages  int64
	ToolCalls int64
	Subtasks  int64
	Tokens    TokenTotals

	// StartedAt lowers the start time when earlier. Zero leaves it alone.
	StartedAt time.Time
	// PrimaryAgent is set only when the interaction has none yet.
	PrimaryAgent string
	// DelegatedAgent is appended when non-empty, not the primary agent and not present.
	DelegatedAgent string
	// Query overwrites the user query fields.
	Query *MessageRef
	// Response sets the response fields and completes the interaction unless
	// it is already completed.
	Response *MessageRef
}

// Tally is the additive effect of one stored message on its aggregates.
// It is applied at most once per message.
type Tally struct {
	MessageKey      string
	ConversationKey string
	Conversation    ConversationDelta

	TaskKey    string
	TaskTokens TokenTotals

	// InteractionKey is empty for messages without an interaction.
	InteractionKey string
	Messages       int64
	ToolCalls      int64
	Tokens         TokenTotals
	// SubtaskKey names a subtask of the interaction. It adds one to the
	// subtask counter the first time any message of that subtask is tallied.
	SubtaskKey string
}

// TallyClaim reports which counted flags a claim flipped.
type TallyClaim struct {
	Message bool
	Subtask bool
}

// InteractionTotals are recomputed counters written by backfill.
type InteractionTotals struct {
	TotalMessages   int64
	NumToolCalls    int64
	NumSubtasks     int64
	Tokens          TokenTotals
	DelegatedAgents []string
}

// Task is one unit of producer work, either the root of an interaction or a subtask.
type Task struct {
	Key             string      `json:"task_key"`
	ConversationKey string      `json:"conversation_key"`
	ParentTaskKey   string      `json:"parent_task_key,omitempty"`
	AgentName       string      `json:"agent_name,omitempty"`
	Type            TaskType    `json:"task_type"`
	Status          TaskState   `json:"status"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	Tokens          TokenTotals `json:"tokens"`
	Topic           string      `json:"topic,omitempty"`
	Method          string      `json:"method,omitempty"`
	IsFinal         bool        `json:"is_final"`
}

// TaskPatch merges one event into a task.
type TaskPatch struct {
	// AgentName is set only when the task has none yet.
	AgentName string
	// Status replaces a non-terminal status. Terminal statuses never revert.
	Status TaskState
	At     time.Time
	Final  bool
	Tokens TokenTotals
}

// ToolCallStatus is the lifecycle state of a tool call entry.
type ToolCallStatus string

const (
	ToolCallCalled  ToolCallStatus = "called"
	ToolCallSuccess ToolCallStatus = "success"
)

// ToolCall pairs a tool invocation with its result.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Status ToolCallStatus  `json:"status"`
	// Synthetic marks a result recorded without an originating invocation.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Message is one stored event.
type Message struct {
	Key             string `json:"message_key"`
	ConversationKey string `json:"conversation_key"`
	TaskKey         string `json:"task_key"`
	// Empty when the event could not be linked to an interaction.
	InteractionKey string      `json:"interaction_key,omitempty"`
	ParentTaskKey  string      `json:"parent_task_key,omitempty"`
	Role           Role        `json:"role"`
	AgentName      string      `json:"agent_name,omitempty"`
	MessageType    string      `json:"message_type"`
	TaskState      TaskState   `json:"task_state"`
	Content        string      `json:"content,omitempty"`
	Tokens         TokenTotals `json:"tokens"`
	Model          string      `json:"model,omitempty"`
	ToolCalls      []ToolCall  `json:"tool_calls,omitempty"`
	Topic          string      `json:"topic,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	// Semi-structured representation, filled by the document storage shapes.
	Document json.RawMessage `json:"document,omitempty"`
	// KeySynthesized marks message keys derived from event id and timestamp.
	KeySynthesized bool `json:"key_synthesized,omitempty"`
}

// MessageFilter selects stored messages. Empty fields match everything.
type MessageFilter struct {
	ConversationKey string
	InteractionKey  string
	TaskKey         string
}
