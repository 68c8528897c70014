package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/keys"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/normalize"
	"interaction-ingest/src/reconcile"
	"interaction-ingest/src/store"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestJoinToolCalls(t *testing.T) {
	at := func(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }
	called := func(id, name, in string) contracts.ToolCall {
		return contracts.ToolCall{ID: id, Name: name, Input: json.RawMessage(in), Status: contracts.ToolCallCalled}
	}
	result := func(id, out string) contracts.ToolCall {
		return contracts.ToolCall{ID: id, Output: json.RawMessage(out), Status: contracts.ToolCallSuccess, Synthetic: true}
	}

	tests := []struct {
		name     string
		msgs     []contracts.Message
		wantLen  int
		status   contracts.ToolCallStatus
		duration time.Duration
	}{
		{
			name: "invocation then result",
			msgs: []contracts.Message{
				{Key: "m1", TaskKey: "s1", AgentName: "PolicyBot", Timestamp: at(0), ToolCalls: []contracts.ToolCall{called("c1", "lookup", `{"q":1}`)}},
				{Key: "m2", TaskKey: "s1", Timestamp: at(3), ToolCalls: []contracts.ToolCall{result("c1", `{"ok":true}`)}},
			},
			wantLen:  1,
			status:   contracts.ToolCallSuccess,
			duration: 3 * time.Second,
		},
		{
			name: "result before invocation",
			msgs: []contracts.Message{
				{Key: "m2", TaskKey: "s1", Timestamp: at(1), ToolCalls: []contracts.ToolCall{result("c1", `{"ok":true}`)}},
				{Key: "m1", TaskKey: "s1", Timestamp: at(2), ToolCalls: []contracts.ToolCall{called("c1", "lookup", `{"q":1}`)}},
			},
			wantLen:  1,
			status:   contracts.ToolCallSuccess,
			duration: -time.Second,
		},
		{
			name: "invocation without result",
			msgs: []contracts.Message{
				{Key: "m1", TaskKey: "s1", Timestamp: at(0), ToolCalls: []contracts.ToolCall{called("c1", "lookup", `{"q":1}`)}},
			},
			wantLen: 1,
			status:  contracts.ToolCallCalled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JoinToolCalls(tt.msgs)
			require.Len(t, got, tt.wantLen)
			require.Equal(t, tt.status, got[0].Status)
			require.Equal(t, "lookup", got[0].Name)
			require.JSONEq(t, `{"q":1}`, string(got[0].Input))
			if tt.status == contracts.ToolCallSuccess {
				require.JSONEq(t, `{"ok":true}`, string(got[0].Output))
				require.NotNil(t, got[0].Duration)
				require.Equal(t, tt.duration, *got[0].Duration)
			} else {
				require.Nil(t, got[0].Duration)
			}
		})
	}
}

func TestJoinToolCalls_CallsWithoutIDStayUnpaired(t *testing.T) {
	msgs := []contracts.Message{{Key: "m1", ToolCalls: []contracts.ToolCall{
		{Name: "a", Status: contracts.ToolCallCalled},
		{Name: "b", Status: contracts.ToolCallCalled},
	}}}
	require.Len(t, JoinToolCalls(msgs), 2)
}

type step struct {
	rec *normalize.Record
	k   keys.Keys
}

func seed(t *testing.T, shape reconcile.StorageShape) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	cfg := reconcile.DefaultConfig()
	cfg.Shape = shape
	e := reconcile.NewEngine(s, cfg, logger.NewSilentLogger())

	top := keys.Keys{ConversationKey: "ctx-1", TaskKey: "gdk-task-1", InteractionKey: "gdk-task-1", Linkage: keys.LinkedByOwnTask}
	sub := keys.Keys{ConversationKey: "ctx-1", TaskKey: "a2a_subtask_1", InteractionKey: "gdk-task-1", Linkage: keys.LinkedByParent}

	steps := []step{
		{&normalize.Record{EventID: "gdk-task-1", ConversationKey: "ctx-1", MessageKey: "m1", Role: contracts.RoleUser,
			TaskState: contracts.TaskWorking, Text: "What is the policy?", Timestamp: t0,
			Parts: json.RawMessage(`[{"kind":"data","data":{"type":"llm_invocation","request":{"model":"gemini","contents":[{"role":"user"}]}}}]`)}, top},
		{&normalize.Record{EventID: "a2a_subtask_1", ConversationKey: "ctx-1", MessageKey: "m2", Role: contracts.RoleAgent,
			TaskState: contracts.TaskWorking, ParentTaskKey: "gdk-task-1", AgentName: "PolicyBot", Timestamp: t0.Add(time.Second),
			ToolInvocations: []normalize.ToolInvocation{{ID: "call-1", Name: "lookup_policy", Arguments: json.RawMessage(`{"policy":"travel"}`)}}}, sub},
		{&normalize.Record{EventID: "a2a_subtask_1", ConversationKey: "ctx-1", MessageKey: "m3", Role: contracts.RoleAgent,
			TaskState: contracts.TaskCompleted, ParentTaskKey: "gdk-task-1", Timestamp: t0.Add(3 * time.Second),
			ToolResults: []normalize.ToolResult{{ID: "call-1", Name: "lookup_policy", Result: json.RawMessage(`{"text":"no first class"}`)}}}, sub},
		{&normalize.Record{EventID: "gdk-task-1", ConversationKey: "ctx-1", MessageKey: "m4", Role: contracts.RoleAgent,
			TaskState: contracts.TaskCompleted, AgentName: "Orchestrator", Text: "Here is the policy...", Timestamp: t0.Add(5 * time.Second)}, top},
	}
	for _, st := range steps {
		_, err := e.Reconcile(context.Background(), st.rec, st.k)
		require.NoError(t, err)
	}
	return NewService(s, contracts.DefaultConventions()), s
}

func TestTaskFlow(t *testing.T) {
	for _, shape := range []reconcile.StorageShape{reconcile.ShapeNormalized, reconcile.ShapeDocument, reconcile.ShapeHybrid} {
		t.Run(string(shape), func(t *testing.T) {
			svc, _ := seed(t, shape)
			flow, err := svc.TaskFlow(context.Background(), "gdk-task-1")
			require.NoError(t, err)

			require.Equal(t, 4, flow.TotalMessages)
			require.Equal(t, "What is the policy?", flow.Interaction.UserQuery)
			require.Equal(t, "Here is the policy...", flow.Interaction.AgentResponse)

			require.Len(t, flow.ToolCalls, 1)
			call := flow.ToolCalls[0]
			require.Equal(t, "lookup_policy", call.Name)
			require.Equal(t, contracts.ToolCallSuccess, call.Status)
			require.JSONEq(t, `{"policy":"travel"}`, string(call.Input))
			require.JSONEq(t, `{"text":"no first class"}`, string(call.Output))
			require.Equal(t, 2*time.Second, *call.Duration)
			require.Equal(t, "PolicyBot", call.AgentName)

			require.Len(t, flow.Subtasks, 1)
			st := flow.Subtasks[0]
			require.Equal(t, "a2a_subtask_1", st.TaskKey)
			require.Equal(t, 2, st.NumMessages)
			require.Equal(t, "PolicyBot", st.AgentName)
			require.Equal(t, contracts.TaskCompleted, st.Status)

			if shape == reconcile.ShapeNormalized {
				require.Empty(t, flow.Reasoning)
			} else {
				require.Len(t, flow.Reasoning, 1)
				require.Equal(t, "gemini", flow.Reasoning[0].Model)
				require.JSONEq(t, `[{"role":"user"}]`, string(flow.Reasoning[0].History))
			}
		})
	}
}

func TestToolCallsBySubtaskKey(t *testing.T) {
	svc, _ := seed(t, reconcile.ShapeNormalized)

	calls, err := svc.ToolCalls(context.Background(), "a2a_subtask_1")
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, "a2a_subtask_1", calls[0].TaskKey)

	msgs, err := svc.Messages(context.Background(), "a2a_subtask_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestUnknownKeys(t *testing.T) {
	svc, _ := seed(t, reconcile.ShapeNormalized)

	_, err := svc.TaskFlow(context.Background(), "gdk-task-404")
	require.True(t, IsNotFound(err), "err = %v", err)

	_, err = svc.Interactions(context.Background(), "ctx-404")
	require.True(t, IsNotFound(err), "err = %v", err)

	ins, err := svc.Interactions(context.Background(), "ctx-1")
	require.NoError(t, err)
	require.Len(t, ins, 1)
}
