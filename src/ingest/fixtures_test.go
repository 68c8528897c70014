package ingest

import (
	"encoding/json"
	"testing"

	"interaction-ingest/src/contracts"
)

type obj = map[string]any

func envelope(t *testing.T, topic, ts string, payload obj) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal(payload) error = %v", err)
	}
	raw, err := json.Marshal(contracts.Envelope{
		Metadata: contracts.EnvelopeMetadata{Topic: topic, Timestamp: ts},
		Payload:  p,
	})
	if err != nil {
		t.Fatalf("json.Marshal(envelope) error = %v", err)
	}
	return raw
}

func userSend(taskID, msgID, text string) obj {
	return obj{"jsonrpc": "2.0", "id": taskID, "method": "message/send", "params": obj{"message": obj{
		"role": "user", "messageId": msgID, "contextId": "ctx-1",
		"parts": []any{obj{"kind": "text", "text": text}},
	}}}
}

func subtaskStatus(taskID, parent, msgID string, meta obj, parts []any) obj {
	md := obj{"parentTaskId": parent}
	for k, v := range meta {
		md[k] = v
	}
	return obj{"jsonrpc": "2.0", "id": taskID, "result": obj{
		"kind": "status-update", "taskId": taskID, "contextId": "ctx-1",
		"status": obj{"state": "working", "message": obj{
			"role": "agent", "messageId": msgID, "metadata": md, "parts": parts,
		}},
	}}
}

func taskResult(taskID, msgID, text string) obj {
	return obj{"jsonrpc": "2.0", "id": taskID, "result": obj{
		"kind": "task", "id": taskID, "contextId": "ctx-1",
		"status": obj{"state": "completed", "message": obj{
			"role": "agent", "messageId": msgID,
			"parts": []any{obj{"kind": "text", "text": text}},
		}},
	}}
}

// scenario is a user query answered with the help of one delegated subtask
// that calls one tool.
func scenario(t *testing.T) [][]byte {
	t.Helper()
	return [][]byte{
		envelope(t, "ns/a2a/v1/agent/request/Orchestrator", "2025-03-01T10:00:00.000000",
			userSend("gdk-task-T1", "m-e1", "What is the policy?")),
		envelope(t, "ns/a2a/v1/agent/status/PolicyBot/a2a_subtask_1", "2025-03-01T10:00:01.000000",
			subtaskStatus("a2a_subtask_1", "gdk-task-T1", "m-e2", obj{"agent_name": "PolicyBot"}, []any{
				obj{"kind": "data", "data": obj{"type": "tool_invocation_start", "function_call_id": "call-1",
					"tool_name": "lookup_policy", "tool_args": obj{"policy": "travel"}}},
			})),
		envelope(t, "ns/a2a/v1/agent/status/PolicyBot/a2a_subtask_1", "2025-03-01T10:00:02.500000",
			subtaskStatus("a2a_subtask_1", "gdk-task-T1", "m-e3", nil, []any{
				obj{"kind": "data", "data": obj{"type": "tool_result", "function_call_id": "call-1",
					"tool_name": "lookup_policy", "result_data": obj{"text": "economy only"}}},
			})),
		envelope(t, "ns/a2a/v1/gateway/response/gdk-task-T1", "2025-03-01T10:00:04.000000",
			taskResult("gdk-task-T1", "m-e4", "Here is the policy...")),
	}
}
