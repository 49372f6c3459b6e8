// Package types defines shared types used across all VoiceTask modules.
package types

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// TASK TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// Priority marks how urgent a task is.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Task is a single to-do item owned by a user.
type Task struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// Folder is the name of the folder the task lives in ("" = inbox).
	Folder string `json:"folder,omitempty"`

	// DueDate in YYYY-MM-DD form, empty when the user gave no deadline.
	DueDate string `json:"due_date,omitempty"`

	Priority  Priority `json:"priority"`
	Completed bool     `json:"completed"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IdleDays returns how many whole days have passed since the task was last
// touched, relative to now.
func (t *Task) IdleDays(now time.Time) int {
	return int(now.Sub(t.UpdatedAt).Hours() / 24)
}

// Folder groups tasks for a user.
type Folder struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// MEMORY TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// MemoryFact is a long-term user preference keyed per user.
// Keys are unique per user; a newer fact with the same key overwrites the
// older one (last-write-wins by turn order).
type MemoryFact struct {
	UserID     string    `json:"user_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	SourceTurn string    `json:"source_turn"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSATION TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry in a conversation's message history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the durable per-conversation snapshot the driver loads
// at the start of a turn and commits at the end of it.
type ConversationState struct {
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	Messages       []ChatMessage `json:"messages"`

	// Version increases by one on every successful commit. Commits carrying a
	// stale version are rejected so concurrent turns cannot clobber each other.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRACE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// StepPhase labels one entry in a turn trace.
type StepPhase string

const (
	PhaseThink   StepPhase = "think"
	PhaseAct     StepPhase = "act"
	PhaseObserve StepPhase = "observe"
	PhaseFinish  StepPhase = "finish"
)

// TraceStep is one append-only entry in a turn's reasoning trace.
type TraceStep struct {
	Phase StepPhase `json:"phase"`

	// Content holds the model text for think/finish steps.
	Content string `json:"content,omitempty"`

	// Tool and Args describe the invocation for act steps.
	Tool string `json:"tool,omitempty"`
	Args string `json:"args,omitempty"`

	// Result and Err carry the outcome for observe steps.
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TraceRecord is the complete diagnostic record of one processed turn.
type TraceRecord struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	TurnID         string      `json:"turn_id"`
	Route          string      `json:"route"`
	Status         string      `json:"status"`
	Steps          []TraceStep `json:"steps"`
	CreatedAt      time.Time   `json:"created_at"`
}

// TurnStatus reports how a processed turn ended.
type TurnStatus string

const (
	TurnOK                  TurnStatus = "ok"
	TurnFailed              TurnStatus = "failed"
	TurnClarificationNeeded TurnStatus = "clarification_needed"
)

// TurnResult is the outcome of processing one utterance.
type TurnResult struct {
	Response string `json:"response"`

	// MutationsApplied lists the ids of tasks whose state was durably changed
	// by this turn. Empty for pure analysis turns.
	MutationsApplied []string `json:"mutations_applied,omitempty"`

	// TraceRef identifies the per-turn trace record for diagnostics.
	TraceRef string `json:"trace_ref"`

	Status TurnStatus `json:"status"`

	// LowConfidenceRoute is set when the router could not classify the
	// utterance confidently and fell back to the analysis path.
	LowConfidenceRoute bool `json:"low_confidence_route,omitempty"`

	// StalePreferences is set when the preference store was unreachable and
	// the turn ran on cached facts.
	StalePreferences bool `json:"stale_preferences,omitempty"`

	// HallucinationBlocked is set when the mutation agent claimed a result
	// that no successful tool invocation backed and the driver replaced the
	// response.
	HallucinationBlocked bool `json:"hallucination_blocked,omitempty"`
}
