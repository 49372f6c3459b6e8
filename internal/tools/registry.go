package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds the tool set exposed to the agents. Registration compiles
// each tool's argument schema once; Invoke validates every call against it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

type registeredTool struct {
	def    *Definition
	schema *gojsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool to the registry. The schema must be valid JSON Schema
// and the name unique.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler cannot be nil", def.Name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.Schema))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s: already registered", def.Name)
	}

	r.tools[def.Name] = &registeredTool{def: def, schema: schema}
	return nil
}

// MustRegister registers a tool and panics on error. Use at startup only.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t.def, true
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders the tool catalog for a system prompt. The mutation
// catalog (includeMutating true) omits analysis-only tools; the analysis
// catalog omits mutating tools. Each agent only ever sees its own set.
func (r *Registry) Describe(includeMutating bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if !includeMutating && r.tools[name].def.Mutating {
			continue
		}
		if includeMutating && r.tools[name].def.AnalysisOnly {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		def := r.tools[name].def
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", def.Name, def.Description, def.Schema)
	}
	return b.String()
}

// IsMutating reports whether a tool changes durable state. Unknown tools
// report false.
func (r *Registry) IsMutating(name string) bool {
	def, ok := r.Get(name)
	return ok && def.Mutating
}

// IsAnalysisOnly reports whether a tool is reserved for the analytics loop.
func (r *Registry) IsAnalysisOnly(name string) bool {
	def, ok := r.Get(name)
	return ok && def.AnalysisOnly
}

// Invoke validates and executes a tool call. All failure modes (unknown
// tool, invalid arguments, handler error) come back as an unsuccessful
// Result, never an error: the agent loop observes them and continues.
func (r *Registry) Invoke(ctx context.Context, userID, name string, args json.RawMessage) *Result {
	start := time.Now()

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return &Result{
			Tool:     name,
			Success:  false,
			Error:    fmt.Sprintf("unknown tool: %s", name),
			Duration: time.Since(start),
		}
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	validation, err := t.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &Result{
			Tool:     name,
			Success:  false,
			Error:    fmt.Sprintf("invalid arguments: %s", err),
			Duration: time.Since(start),
		}
	}
	if !validation.Valid() {
		var problems []string
		for _, desc := range validation.Errors() {
			problems = append(problems, desc.String())
		}
		return &Result{
			Tool:     name,
			Success:  false,
			Error:    fmt.Sprintf("invalid arguments: %s", strings.Join(problems, "; ")),
			Duration: time.Since(start),
		}
	}

	result, err := t.def.Handler(ctx, &Invocation{UserID: userID, Args: args})
	if err != nil {
		return &Result{
			Tool:     name,
			Success:  false,
			Error:    err.Error(),
			Duration: time.Since(start),
		}
	}

	result.Tool = name
	result.Duration = time.Since(start)
	return result
}
