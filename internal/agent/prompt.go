package agent

import (
	"fmt"
	"strings"

	"github.com/normanking/voicetask/internal/tools"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYSTEM PROMPTS
// ═══════════════════════════════════════════════════════════════════════════════

const toolCallFormat = `To use a tool, respond with EXACTLY this format:
<tool>tool_name</tool><params>{"key": "value"}</params>

Rules for tool use:
1. ONE tool call per response. Wait for the result before deciding the next step.
2. Params must be a single valid JSON object matching the tool's argument schema.
3. When you have everything you need, respond with plain text only (no tool tags).
4. Never claim an action succeeded unless you saw a successful tool result for it.`

// MutationSystemPrompt builds the system prompt for the task-editing loop.
// The catalog should include mutating tools.
func MutationSystemPrompt(catalog, facts string) string {
	var sb strings.Builder

	sb.WriteString(`You are the task-editing assistant of a voice-driven task manager.
The user's utterance was transcribed from speech and may be imprecise.
Your job is to apply the requested change to the task store using the tools below, then confirm it in one short sentence.

`)
	sb.WriteString(toolCallFormat)
	sb.WriteString(`

Task-editing guidance:
- Resolve vague references ("that task", "the milk one") with search_tasks before editing.
- Relative dates ("tomorrow", "next friday") must be resolved with the date tools, never guessed.
- If the target task is genuinely ambiguous after searching, ask ONE short clarifying question instead of guessing. A wrong edit is worse than a question.
- If a tool reports an error, read the error and correct your call. Do not repeat the same failing call.
- Confirm using details from the tool result (the task name, the resolved date), not from your assumptions.
`)

	if facts != "" {
		sb.WriteString("\n")
		sb.WriteString(facts)
	}

	sb.WriteString("\nAvailable tools:\n")
	sb.WriteString(catalog)

	return sb.String()
}

// AnalysisSystemPrompt builds the system prompt for the read-only analytics
// loop. The catalog must exclude mutating tools.
func AnalysisSystemPrompt(catalog, facts string) string {
	var sb strings.Builder

	sb.WriteString(`You are the productivity-insights assistant of a voice-driven task manager.
You answer questions about the user's tasks and habits using read-only tools. You never modify anything.

`)
	sb.WriteString(toolCallFormat)
	sb.WriteString(`

Analysis guidance:
- Anchor relative time ("this week", "lately") with get_current_date first.
- Base every number in your answer on a tool result. No invented statistics.
- Keep the final answer short and conversational. It will be read aloud.
`)

	if facts != "" {
		sb.WriteString("\n")
		sb.WriteString(facts)
	}

	sb.WriteString("\nAvailable tools:\n")
	sb.WriteString(catalog)

	return sb.String()
}

// FormatObservation renders a tool result as a message the model can read.
func FormatObservation(result *tools.Result) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[Tool Result: %s]\n", result.Tool))
	if result.Success {
		sb.WriteString("Status: ok\n")
	} else {
		sb.WriteString("Status: error\n")
		if result.Error != "" {
			sb.WriteString(fmt.Sprintf("Error: %s\n", result.Error))
		}
	}
	if result.Output != "" {
		sb.WriteString(fmt.Sprintf("Output:\n%s\n", result.Output))
	}
	sb.WriteString("[End Tool Result]")

	return sb.String()
}
