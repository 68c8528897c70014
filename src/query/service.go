// Package query answers questions about reconciled tasks: which tools ran,
// which subtasks were delegated and how a task unfolded.
//
// Tool invocations and their results may be stored on different messages,
// and a result may be stored before its invocation. The join by call id
// happens here, on read.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/buger/jsonparser"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/reconcile"
	"interaction-ingest/src/store"
)

// ToolCall is one tool call with its input and output joined across messages.
type ToolCall struct {
	ID        string                   `json:"call_id"`
	Name      string                   `json:"tool_name"`
	Input     json.RawMessage          `json:"inputs,omitempty"`
	Output    json.RawMessage          `json:"outputs,omitempty"`
	Status    contracts.ToolCallStatus `json:"status"`
	AgentName string                   `json:"agent_name,omitempty"`
	TaskKey   string                   `json:"task_key"`

	InvokedAt  *time.Time `json:"invocation_timestamp,omitempty"`
	ResultAt   *time.Time `json:"result_timestamp,omitempty"`
	InvokedBy  string     `json:"invocation_message_key,omitempty"`
	ResultFrom string     `json:"result_message_key,omitempty"`
	// Duration is set when both timestamps are known.
	Duration *time.Duration `json:"duration,omitempty"`
}

// Subtask summarizes one delegated task.
type Subtask struct {
	TaskKey       string              `json:"task_key"`
	ParentTaskKey string              `json:"parent_task_key"`
	AgentName     string              `json:"agent_name,omitempty"`
	Status        contracts.TaskState `json:"status,omitempty"`
	NumMessages   int                 `json:"num_messages"`
	StartedAt     time.Time           `json:"started_at"`
	EndedAt       time.Time           `json:"ended_at"`
	ToolCalls     []ToolCall          `json:"tool_calls,omitempty"`
}

// Reasoning is one model invocation recorded in a message's content parts.
// Only messages stored with a document carry parts.
type Reasoning struct {
	MessageKey string          `json:"message_key"`
	AgentName  string          `json:"agent_name,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Model      string          `json:"model"`
	History    json.RawMessage `json:"conversation_history,omitempty"`
	Request    json.RawMessage `json:"request"`
}

// TaskFlow is the full picture of one interaction.
type TaskFlow struct {
	Interaction   contracts.Interaction `json:"interaction"`
	TotalMessages int                   `json:"total_messages"`
	Messages      []contracts.Message   `json:"messages"`
	ToolCalls     []ToolCall            `json:"tool_calls"`
	Subtasks      []Subtask             `json:"subtasks"`
	Reasoning     []Reasoning           `json:"reasoning,omitempty"`
}

// Service reads from a store.
type Service struct {
	store       store.Reader
	conventions contracts.Conventions
}

func NewService(r store.Reader, c contracts.Conventions) *Service {
	return &Service{store: r, conventions: c}
}

// Messages returns the messages of a task, expanded from their documents.
// A top-level key selects the whole interaction, any other key the task alone.
func (s *Service) Messages(ctx context.Context, taskKey string) ([]contracts.Message, error) {
	f := contracts.MessageFilter{TaskKey: taskKey}
	if s.conventions.IsTopLevel(taskKey) {
		f = contracts.MessageFilter{InteractionKey: taskKey}
	}
	msgs, err := s.store.ListMessages(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", taskKey, err)
	}
	for i := range msgs {
		msgs[i] = reconcile.Expand(msgs[i])
	}
	return msgs, nil
}

// ToolCalls returns the tool calls of a task with inputs and outputs joined
// by call id, in order of first appearance.
func (s *Service) ToolCalls(ctx context.Context, taskKey string) ([]ToolCall, error) {
	msgs, err := s.Messages(ctx, taskKey)
	if err != nil {
		return nil, err
	}
	return JoinToolCalls(msgs), nil
}

// JoinToolCalls pairs invocations with results across msgs, which must be in
// timestamp order. Calls without an id are kept unpaired.
func JoinToolCalls(msgs []contracts.Message) []ToolCall {
	var (
		out  []ToolCall
		byID = make(map[string]int)
	)
	for _, m := range msgs {
		at := m.Timestamp
		for _, c := range m.ToolCalls {
			i, ok := byID[c.ID]
			if !ok || c.ID == "" {
				out = append(out, ToolCall{ID: c.ID, Name: c.Name, TaskKey: m.TaskKey, Status: contracts.ToolCallCalled})
				i = len(out) - 1
				if c.ID != "" {
					byID[c.ID] = i
				}
			}
			tc := &out[i]
			if tc.Name == "" {
				tc.Name = c.Name
			}
			if !c.Synthetic && tc.InvokedAt == nil {
				tc.Input = c.Input
				tc.InvokedAt = &at
				tc.InvokedBy = m.Key
				tc.AgentName = m.AgentName
				tc.TaskKey = m.TaskKey
			}
			if c.Status == contracts.ToolCallSuccess && tc.ResultAt == nil {
				tc.Output = c.Output
				tc.Status = contracts.ToolCallSuccess
				tc.ResultAt = &at
				tc.ResultFrom = m.Key
			}
			if tc.AgentName == "" {
				tc.AgentName = m.AgentName
			}
		}
	}
	for i := range out {
		if out[i].InvokedAt != nil && out[i].ResultAt != nil {
			d := out[i].ResultAt.Sub(*out[i].InvokedAt)
			out[i].Duration = &d
		}
	}
	return out
}

// Subtasks returns the subtasks delegated under parentTaskKey, grouped from
// the interaction's messages and enriched with the stored task rows.
func (s *Service) Subtasks(ctx context.Context, parentTaskKey string) ([]Subtask, error) {
	msgs, err := s.store.ListMessages(ctx, contracts.MessageFilter{InteractionKey: parentTaskKey})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", parentTaskKey, err)
	}
	tasks, err := s.store.ListSubtasks(ctx, parentTaskKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks of %s: %w", parentTaskKey, err)
	}
	for i := range msgs {
		msgs[i] = reconcile.Expand(msgs[i])
	}
	return groupSubtasks(parentTaskKey, msgs, tasks), nil
}

func groupSubtasks(parent string, msgs []contracts.Message, tasks []contracts.Task) []Subtask {
	grouped := make(map[string][]contracts.Message)
	var order []string
	for _, m := range msgs {
		if m.TaskKey == parent || m.TaskKey == "" {
			continue
		}
		if _, ok := grouped[m.TaskKey]; !ok {
			order = append(order, m.TaskKey)
		}
		grouped[m.TaskKey] = append(grouped[m.TaskKey], m)
	}

	rows := make(map[string]contracts.Task, len(tasks))
	for _, t := range tasks {
		rows[t.Key] = t
		if _, ok := grouped[t.Key]; !ok {
			order = append(order, t.Key)
		}
	}

	out := make([]Subtask, 0, len(order))
	for _, key := range order {
		ms := grouped[key]
		st := Subtask{TaskKey: key, ParentTaskKey: parent, NumMessages: len(ms)}
		if len(ms) > 0 {
			st.StartedAt = ms[0].Timestamp
			st.EndedAt = ms[len(ms)-1].Timestamp
			st.ToolCalls = JoinToolCalls(ms)
			for _, m := range ms {
				if m.AgentName != "" {
					st.AgentName = m.AgentName
					break
				}
			}
		}
		if t, ok := rows[key]; ok {
			st.Status = t.Status
			if st.AgentName == "" {
				st.AgentName = t.AgentName
			}
			if st.StartedAt.IsZero() {
				st.StartedAt = t.StartedAt
				st.EndedAt = t.StartedAt
			}
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// TaskFlow assembles everything recorded for an interaction. Returns an
// error wrapping store.ErrNotFound for unknown keys.
func (s *Service) TaskFlow(ctx context.Context, interactionKey string) (*TaskFlow, error) {
	in, err := s.store.GetInteraction(ctx, interactionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction %s: %w", interactionKey, err)
	}
	msgs, err := s.store.ListMessages(ctx, contracts.MessageFilter{InteractionKey: interactionKey})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", interactionKey, err)
	}
	tasks, err := s.store.ListSubtasks(ctx, interactionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks of %s: %w", interactionKey, err)
	}
	for i := range msgs {
		msgs[i] = reconcile.Expand(msgs[i])
	}

	return &TaskFlow{
		Interaction:   *in,
		TotalMessages: len(msgs),
		Messages:      msgs,
		ToolCalls:     JoinToolCalls(msgs),
		Subtasks:      groupSubtasks(interactionKey, msgs, tasks),
		Reasoning:     reasoningBlocks(msgs),
	}, nil
}

// Interactions lists a conversation's interactions by sequence number.
func (s *Service) Interactions(ctx context.Context, conversationKey string) ([]contracts.Interaction, error) {
	if _, err := s.store.GetConversation(ctx, conversationKey); err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", conversationKey, err)
	}
	return s.store.ListInteractions(ctx, conversationKey)
}

// IsNotFound reports whether err means the requested aggregate is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func reasoningBlocks(msgs []contracts.Message) []Reasoning {
	var out []Reasoning
	for _, m := range msgs {
		if len(m.Document) == 0 {
			continue
		}
		var doc reconcile.MessageDocument
		if err := json.Unmarshal(m.Document, &doc); err != nil || len(doc.Parts) == 0 {
			continue
		}
		_, _ = jsonparser.ArrayEach(doc.Parts, func(part []byte, t jsonparser.ValueType, _ int, _ error) {
			if t != jsonparser.Object {
				return
			}
			if kind, _ := jsonparser.GetString(part, "data", "type"); kind != "llm_invocation" {
				return
			}
			req, rt, _, err := jsonparser.Get(part, "data", "request")
			if err != nil || rt != jsonparser.Object {
				return
			}
			model, _ := jsonparser.GetString(req, "model")
			if model == "" {
				model = "unknown"
			}
			r := Reasoning{
				MessageKey: m.Key,
				AgentName:  m.AgentName,
				Timestamp:  m.Timestamp,
				Model:      model,
				Request:    append(json.RawMessage(nil), req...),
			}
			if hist, ht, _, err := jsonparser.Get(req, "contents"); err == nil && ht == jsonparser.Array {
				r.History = append(json.RawMessage(nil), hist...)
			}
			out = append(out, r)
		})
	}
	return out
}
