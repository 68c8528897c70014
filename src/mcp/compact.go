package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/query"
	"interaction-ingest/src/sanitize"
)

// Text limits for manifests. Drill-down responses are not truncated.
const (
	MaxContentRunes = 400
	MaxPayloadBytes = 600
	DefaultMessages = 50
)

// compactJSON renders raw on one line and cuts it at max bytes, noting how
// much was dropped.
func compactJSON(raw json.RawMessage, max int) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	out := []byte(raw)
	if err := json.Compact(&buf, raw); err == nil {
		out = buf.Bytes()
	}
	if max <= 0 || len(out) <= max {
		return string(out)
	}
	return fmt.Sprintf("%s... (%d more bytes)", out[:max], len(out)-max)
}

func interactionView(in contracts.Interaction) InteractionView {
	return InteractionView{
		Key:             in.Key,
		ConversationKey: in.ConversationKey,
		Sequence:        in.Sequence,
		StartedAt:       in.StartedAt,
		CompletedAt:     in.CompletedAt,
		ResponseState:   string(in.ResponseState),
		PrimaryAgent:    in.PrimaryAgent,
		DelegatedAgents: in.DelegatedAgents,
		UserQuery:       sanitize.Preview(in.UserQuery, MaxContentRunes),
		AgentResponse:   sanitize.Preview(in.AgentResponse, MaxContentRunes),
		TotalMessages:   in.TotalMessages,
		NumToolCalls:    in.NumToolCalls,
		NumSubtasks:     in.NumSubtasks,
		TotalTokens:     in.Tokens.Total,
	}
}

func messageView(m contracts.Message) MessageView {
	return MessageView{
		Key:       m.Key,
		TaskKey:   m.TaskKey,
		Role:      string(m.Role),
		Agent:     m.AgentName,
		Type:      m.MessageType,
		State:     string(m.TaskState),
		Timestamp: m.Timestamp,
		Content:   sanitize.Preview(m.Content, MaxContentRunes),
	}
}

func toolCallView(c query.ToolCall, maxPayload int) ToolCallView {
	v := ToolCallView{
		ID:      c.ID,
		Name:    c.Name,
		Status:  string(c.Status),
		Agent:   c.AgentName,
		TaskKey: c.TaskKey,
		Input:   compactJSON(c.Input, maxPayload),
		Output:  compactJSON(c.Output, maxPayload),
	}
	if c.Duration != nil {
		ms := c.Duration.Milliseconds()
		v.DurationMS = &ms
	}
	return v
}

// manifest builds the compact flow. Only the last maxMessages messages are
// listed; the rest are counted.
func manifest(flow *query.TaskFlow, maxMessages int) FlowManifest {
	m := FlowManifest{
		Interaction:     interactionView(flow.Interaction),
		Messages:        []MessageView{},
		ToolCalls:       []ToolCallView{},
		Subtasks:        []SubtaskView{},
		ReasoningBlocks: len(flow.Reasoning),
	}
	msgs := flow.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		m.OmittedMessages = len(msgs) - maxMessages
		msgs = msgs[len(msgs)-maxMessages:]
	}
	for _, msg := range msgs {
		m.Messages = append(m.Messages, messageView(msg))
	}
	for _, c := range flow.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, toolCallView(c, MaxPayloadBytes))
	}
	for _, st := range flow.Subtasks {
		m.Subtasks = append(m.Subtasks, SubtaskView{
			TaskKey:     st.TaskKey,
			Agent:       st.AgentName,
			Status:      string(st.Status),
			NumMessages: st.NumMessages,
			NumTools:    len(st.ToolCalls),
			StartedAt:   st.StartedAt,
			EndedAt:     st.EndedAt,
		})
	}
	return m
}
