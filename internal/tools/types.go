// Package tools provides the typed tool layer the agents act through.
// Every tool declares a JSON Schema for its arguments; the registry validates
// each invocation before the handler runs, so agents can never reach the
// store with malformed arguments.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler executes a validated tool invocation. Args have already passed
// schema validation when the handler runs.
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Definition describes a registered tool.
type Definition struct {
	// Name is the tool identifier the agent calls it by.
	Name string `json:"name"`

	// Description tells the model what the tool does and when to use it.
	Description string `json:"description"`

	// Schema is the JSON Schema for the tool's arguments.
	Schema string `json:"schema"`

	// Mutating marks tools that change durable task state. The hallucination
	// guard only accepts mutation claims backed by a successful mutating call.
	Mutating bool `json:"mutating"`

	// AnalysisOnly marks read tools exposed to the analytics loop alone.
	AnalysisOnly bool `json:"analysis_only"`

	// Handler runs the tool.
	Handler Handler `json:"-"`
}

// Invocation is one validated tool call.
type Invocation struct {
	// UserID scopes the call to the requesting user's data.
	UserID string `json:"user_id"`

	// Args is the raw JSON argument document.
	Args json.RawMessage `json:"args"`
}

// Bind unmarshals the invocation arguments into v.
func (inv *Invocation) Bind(v interface{}) error {
	if err := json.Unmarshal(inv.Args, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// Result represents the outcome of a tool execution. Failed invocations are
// results too: the agent observes the error text and can correct course.
type Result struct {
	// Tool that was executed.
	Tool string `json:"tool"`

	// Success indicates if the tool completed successfully.
	Success bool `json:"success"`

	// Output contains the tool's output as a JSON document.
	Output string `json:"output,omitempty"`

	// Error contains error details if Success is false.
	Error string `json:"error,omitempty"`

	// MutatedIDs lists task ids durably changed by this call.
	MutatedIDs []string `json:"mutated_ids,omitempty"`

	// Duration of the execution.
	Duration time.Duration `json:"duration"`
}

// Observation renders the result the way the agent loop feeds it back to the
// model.
func (r *Result) Observation() string {
	if r.Success {
		return r.Output
	}
	return fmt.Sprintf(`{"error": %q}`, r.Error)
}

// jsonOut marshals a payload for a Result. Marshal failures surface as an
// error document rather than a panic since payloads are plain structs.
func jsonOut(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal output: %s"}`, err)
	}
	return string(data)
}
