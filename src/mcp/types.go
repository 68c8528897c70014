// Package mcp exposes reconciled interactions to LLM clients over the Model
// Context Protocol. Responses are compact manifests; full payloads are
// fetched per item with a drill-down tool.
package mcp

import "time"

// InteractionView is an interaction with its texts shortened.
type InteractionView struct {
	Key             string     `json:"interaction_key"`
	ConversationKey string     `json:"conversation_key"`
	Sequence        int64      `json:"sequence"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ResponseState   string     `json:"response_state"`
	PrimaryAgent    string     `json:"primary_agent,omitempty"`
	DelegatedAgents []string   `json:"delegated_agents,omitempty"`
	UserQuery       string     `json:"user_query,omitempty"`
	AgentResponse   string     `json:"agent_response,omitempty"`
	TotalMessages   int64      `json:"total_messages"`
	NumToolCalls    int64      `json:"num_tool_calls"`
	NumSubtasks     int64      `json:"num_subtasks"`
	TotalTokens     int64      `json:"total_tokens"`
}

// MessageView is one message line of a flow.
type MessageView struct {
	Key       string    `json:"message_key"`
	TaskKey   string    `json:"task_key"`
	Role      string    `json:"role"`
	Agent     string    `json:"agent,omitempty"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content,omitempty"`
}

// ToolCallView is a tool call with truncated input and output.
type ToolCallView struct {
	ID         string `json:"call_id"`
	Name       string `json:"tool_name"`
	Status     string `json:"status"`
	Agent      string `json:"agent,omitempty"`
	TaskKey    string `json:"task_key"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

// SubtaskView summarizes one delegated subtask.
type SubtaskView struct {
	TaskKey     string    `json:"task_key"`
	Agent       string    `json:"agent,omitempty"`
	Status      string    `json:"status,omitempty"`
	NumMessages int       `json:"num_messages"`
	NumTools    int       `json:"num_tool_calls"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// FlowManifest is the get_task_flow response.
type FlowManifest struct {
	Interaction     InteractionView `json:"interaction"`
	Messages        []MessageView   `json:"messages"`
	OmittedMessages int             `json:"omitted_messages,omitempty"`
	ToolCalls       []ToolCallView  `json:"tool_calls"`
	Subtasks        []SubtaskView   `json:"subtasks"`
	ReasoningBlocks int             `json:"reasoning_blocks"`
}
