package agent

import (
	"encoding/json"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TOOL CALL PARSING
// ═══════════════════════════════════════════════════════════════════════════════

// ToolCall is a single tool invocation proposed by the model.
type ToolCall struct {
	Name string
	Args json.RawMessage
}

// ParseToolCalls extracts tool calls from a model response.
// Looks for the pattern: <tool>tool_name</tool><params>{"key": "value"}</params>
// Returns the calls in order plus the response text with the calls removed.
func ParseToolCalls(response string) ([]*ToolCall, string) {
	var calls []*ToolCall
	cleaned := response

	for {
		toolStart := strings.Index(cleaned, "<tool>")
		if toolStart == -1 {
			break
		}

		toolEnd := strings.Index(cleaned[toolStart:], "</tool>")
		if toolEnd == -1 {
			break
		}
		toolEnd += toolStart

		paramsStart := strings.Index(cleaned[toolEnd:], "<params>")
		if paramsStart == -1 {
			break
		}
		paramsStart += toolEnd

		paramsEnd := strings.Index(cleaned[paramsStart:], "</params>")
		if paramsEnd == -1 {
			break
		}
		paramsEnd += paramsStart

		name := strings.TrimSpace(cleaned[toolStart+6 : toolEnd])
		paramsJSON := cleaned[paramsStart+8 : paramsEnd]

		calls = append(calls, &ToolCall{
			Name: name,
			Args: sanitizeParams(paramsJSON),
		})

		cleaned = cleaned[:toolStart] + cleaned[paramsEnd+9:]
	}

	return calls, strings.TrimSpace(cleaned)
}

// sanitizeParams cleans up common small-model output errors around the params
// JSON: stray angle brackets, surrounding prose, code fences. The result is
// best-effort; schema validation in the registry is the real gate.
func sanitizeParams(raw string) json.RawMessage {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSpace(s)

	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	// Extract the outermost object if the model wrapped it in extra text.
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			inner := s[start : end+1]
			if json.Valid([]byte(inner)) {
				return json.RawMessage(inner)
			}
		}
	}

	return json.RawMessage("{}")
}
