package normalize

import (
	"strings"

	"github.com/buger/jsonparser"
)

// partScan is everything read from a message's content parts in one pass.
type partScan struct {
	texts       []string
	invocations []ToolInvocation
	results     []ToolResult
	usage       *TokenUsage
	partial     bool
	// System instructions of llm_invocation parts, searched for profiles.
	instructions []string
}

func scanParts(parts []byte) partScan {
	var s partScan
	seen := make(map[string]bool)
	eachItem(parts, func(part []byte, t jsonparser.ValueType) {
		if t != jsonparser.Object {
			return
		}
		switch stringAt(part, "kind") {
		case "text":
			if text := stringAt(part, "text"); strings.TrimSpace(text) != "" {
				s.texts = append(s.texts, text)
			}
		case "data":
			s.scanData(objectAt(part, "data"), seen)
		}
	})
	return s
}

func (s *partScan) scanData(data []byte, seen map[string]bool) {
	if data == nil {
		return
	}
	switch stringAt(data, "type") {
	case "tool_invocation_start":
		s.addInvocation(ToolInvocation{
			ID:        stringAt(data, "function_call_id"),
			Name:      stringAt(data, "tool_name"),
			Arguments: rawAt(data, "tool_args"),
		}, seen)
	case "tool_result":
		s.results = append(s.results, ToolResult{
			ID:     stringAt(data, "function_call_id"),
			Name:   stringAt(data, "tool_name"),
			Result: rawAt(data, "result_data"),
		})
	case "llm_response":
		eachItem(data, func(p []byte, t jsonparser.ValueType) {
			call := objectAt(p, "function_call")
			if call == nil {
				return
			}
			s.addInvocation(ToolInvocation{
				ID:        stringAt(call, "id"),
				Name:      stringAt(call, "name"),
				Arguments: rawAt(call, "args"),
			}, seen)
		}, "data", "content", "parts")
		if boolAt(data, "data", "partial") {
			s.partial = true
		}
		if u := responseUsage(data); u != nil {
			if s.usage == nil {
				s.usage = u
			} else {
				s.usage.TokenTotals = s.usage.TokenTotals.Add(u.TokenTotals)
			}
		}
	case "llm_invocation":
		if si := stringAt(data, "request", "config", "system_instruction"); si != "" {
			s.instructions = append(s.instructions, si)
		}
	}
}

// addInvocation keeps the first invocation per call id.
func (s *partScan) addInvocation(inv ToolInvocation, seen map[string]bool) {
	if inv.ID != "" {
		if seen[inv.ID] {
			return
		}
		seen[inv.ID] = true
	}
	s.invocations = append(s.invocations, inv)
}

// responseUsage reads token usage from an llm_response part. The explicit
// usage object wins over the model's usage_metadata.
func responseUsage(data []byte) *TokenUsage {
	if u := objectAt(data, "usage"); u != nil {
		out := &TokenUsage{Model: stringAt(u, "model")}
		out.Input = intAt(u, "input_tokens")
		out.Output = intAt(u, "output_tokens")
		out.Total = intAt(u, "total_tokens")
		out.Cached = intAt(u, "cached_input_tokens")
		return fillTotal(out)
	}
	if m := objectAt(data, "data", "usage_metadata"); m != nil {
		out := &TokenUsage{Model: stringAt(data, "data", "model_version")}
		out.Input = intAt(m, "prompt_token_count")
		out.Output = intAt(m, "candidates_token_count")
		out.Total = intAt(m, "total_token_count")
		out.Cached = intAt(m, "cached_content_token_count")
		return fillTotal(out)
	}
	return nil
}

// taskTokenUsage reads the cumulative usage a task result reports.
func taskTokenUsage(payload []byte) *TokenUsage {
	u := objectAt(payload, "result", "metadata", "token_usage")
	if u == nil {
		return nil
	}
	out := &TokenUsage{Model: firstKey(u, "by_model")}
	out.Total = intAt(u, "total_tokens")
	out.Input = intAt(u, "total_input_tokens")
	out.Output = intAt(u, "total_output_tokens")
	out.Cached = intAt(u, "total_cached_input_tokens")
	return fillTotal(out)
}

func fillTotal(u *TokenUsage) *TokenUsage {
	if u.Total == 0 {
		u.Total = u.Input + u.Output
	}
	return u
}
