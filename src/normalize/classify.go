package normalize

import (
	"fmt"
	"strings"

	"interaction-ingest/src/contracts"
)

// messageType derives the semantic type stored with a message.
func messageType(rec *Record) string {
	if rec.Role == contracts.RoleUser {
		return TypeUserQuery
	}
	switch rec.TaskState {
	case contracts.TaskWorking:
		if len(rec.ToolInvocations) > 0 {
			return TypeToolInvocation
		}
		if len(rec.ToolResults) > 0 {
			return TypeToolResult
		}
		return TypeStatusUpdate
	case contracts.TaskCompleted:
		return TypeFinalResponse
	}
	switch rec.Method {
	case "message/send":
		return TypeAgentRequest
	case "message/stream":
		return TypeStreamedMessage
	}
	return TypeAgentMessage
}

const maxSummaryTools = 5

// ContentSummary returns the text of a record, or a short description of
// what it carries when it has no text.
func ContentSummary(rec *Record) string {
	if rec.Text != "" {
		return rec.Text
	}
	if len(rec.ToolInvocations) > 0 {
		names := make([]string, 0, len(rec.ToolInvocations))
		for _, inv := range rec.ToolInvocations {
			if inv.Name != "" {
				names = append(names, inv.Name)
			}
		}
		if len(names) > 0 {
			more := ""
			if len(names) > maxSummaryTools {
				names, more = names[:maxSummaryTools], "..."
			}
			return fmt.Sprintf("Calling tools: %s%s", strings.Join(names, ", "), more)
		}
	}
	switch rec.TaskState {
	case contracts.TaskWorking:
		return "Task in progress"
	case contracts.TaskCompleted:
		return "Task completed"
	case contracts.TaskFailed:
		return "Task failed"
	}
	return ""
}
