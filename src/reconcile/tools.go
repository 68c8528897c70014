package reconcile

import (
	"interaction-ingest/src/contracts"
	"interaction-ingest/src/normalize"
)

// MergeToolCalls pairs invocations with results by id, in invocation order.
// Invocations without a result stay "called". Results without an invocation
// are appended as synthetic "success" entries so they are never dropped;
// the read side joins them with invocations stored on other messages.
func MergeToolCalls(invocations []normalize.ToolInvocation, results []normalize.ToolResult) []contracts.ToolCall {
	if len(invocations) == 0 && len(results) == 0 {
		return nil
	}

	byID := make(map[string]int, len(results))
	for i, r := range results {
		if r.ID == "" {
			continue
		}
		if _, dup := byID[r.ID]; !dup {
			byID[r.ID] = i
		}
	}

	used := make([]bool, len(results))
	calls := make([]contracts.ToolCall, 0, len(invocations)+len(results))
	for _, inv := range invocations {
		call := contracts.ToolCall{
			ID:     inv.ID,
			Name:   inv.Name,
			Input:  inv.Arguments,
			Status: contracts.ToolCallCalled,
		}
		if i, ok := byID[inv.ID]; ok && inv.ID != "" && !used[i] {
			used[i] = true
			call.Output = results[i].Result
			call.Status = contracts.ToolCallSuccess
		}
		calls = append(calls, call)
	}
	for i, r := range results {
		if used[i] {
			continue
		}
		calls = append(calls, contracts.ToolCall{
			ID:        r.ID,
			Name:      r.Name,
			Output:    r.Result,
			Status:    contracts.ToolCallSuccess,
			Synthetic: true,
		})
	}
	return calls
}

// toolTraffic counts the invocations and results a stored entry stands for.
func toolTraffic(c contracts.ToolCall) int64 {
	var n int64
	if !c.Synthetic {
		n++
	}
	if c.Status == contracts.ToolCallSuccess {
		n++
	}
	return n
}
