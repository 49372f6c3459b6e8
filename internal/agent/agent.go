// Package agent implements the iterative tool-calling loops that turn a routed
// utterance into task-store actions or analytics answers.
//
// Both loops share one shape: the model proposes either a tool call or a final
// answer, proposed calls are validated and executed through the tool registry,
// and the observed result is fed back until the model answers or the step
// budget runs out. The mutation loop additionally refuses to relay success
// claims that no successful mutating tool result backs up.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/normanking/voicetask/internal/llm"
	"github.com/normanking/voicetask/internal/logging"
	"github.com/normanking/voicetask/internal/tools"
	"github.com/normanking/voicetask/internal/trace"
	"github.com/normanking/voicetask/pkg/types"
)

// ErrBudgetExhausted is returned when the loop hits its iteration budget
// without producing a final answer.
var ErrBudgetExhausted = errors.New("reasoning budget exhausted")

// DefaultMaxSteps bounds the tool-calling loop when no budget is configured.
const DefaultMaxSteps = 8

// BlockedResponse replaces a final answer that claimed an unconfirmed change.
const BlockedResponse = "I couldn't confirm that the change was applied to your tasks. Nothing was modified. Please try again."

// Mode selects which loop an Agent runs.
type Mode string

const (
	// ModeMutate runs the task-editing loop with access to mutating tools.
	ModeMutate Mode = "mutate"

	// ModeAnalyze runs the read-only analytics loop.
	ModeAnalyze Mode = "analyze"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AGENT
// ═══════════════════════════════════════════════════════════════════════════════

// Agent runs one tool-calling loop per invocation. Safe for concurrent use;
// all per-turn state lives in Run's locals.
type Agent struct {
	provider llm.Provider
	model    string
	registry *tools.Registry
	mode     Mode
	maxSteps int
	log      *logging.Logger
}

// New creates an agent for the given mode. maxSteps <= 0 uses DefaultMaxSteps.
func New(provider llm.Provider, model string, registry *tools.Registry, mode Mode, maxSteps int) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Agent{
		provider: provider,
		model:    model,
		registry: registry,
		mode:     mode,
		maxSteps: maxSteps,
		log:      logging.Global().WithComponent("agent." + string(mode)),
	}
}

// Request carries one turn's input into the loop.
type Request struct {
	UserID  string
	Input   string
	History []types.ChatMessage

	// Facts is the rendered preference context, empty when the user has none.
	Facts string
}

// Outcome is the loop's terminal result. A non-nil Outcome always carries a
// user-presentable Message.
type Outcome struct {
	Message    string
	Steps      int
	ToolsUsed  []string
	MutatedIDs []string

	// NeedsClarification is set when the agent finished by asking the user a
	// question instead of acting.
	NeedsClarification bool

	// HallucinationBlocked is set when the model's final answer claimed a
	// change that no successful mutating tool result backs, and Message was
	// replaced with BlockedResponse.
	HallucinationBlocked bool
}

// Run executes the loop until the model produces a final answer or the step
// budget is exhausted. Tool failures are observations, not errors; only
// context cancellation, provider failure, and budget exhaustion return an
// error.
func (a *Agent) Run(ctx context.Context, rec *trace.Recorder, req *Request) (*Outcome, error) {
	systemPrompt := a.systemPrompt(req.Facts)

	messages := make([]llm.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Input})

	outcome := &Outcome{}
	detect := newLoopDetector()
	mutationConfirmed := false

	for step := 0; step < a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled at step %d: %w", step+1, err)
		}

		resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
			Model:        a.model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
		})
		if err != nil {
			return nil, fmt.Errorf("reasoning step %d: %w", step+1, err)
		}

		calls, cleaned := ParseToolCalls(resp.Content)
		rec.Think(cleaned)
		outcome.Steps = step + 1

		// No tool call means the model is done.
		if len(calls) == 0 {
			a.finish(rec, outcome, cleaned, mutationConfirmed)
			return outcome, nil
		}

		// Execute only the first call; small models emit speculative chains
		// and later calls go stale once the first result lands.
		call := calls[0]
		result := a.invoke(ctx, req.UserID, call)

		rec.Act(call.Name, string(call.Args))
		rec.Observe(result.Tool, result.Output, result.Error)

		outcome.ToolsUsed = append(outcome.ToolsUsed, call.Name)
		if result.Success && a.registry.IsMutating(call.Name) {
			mutationConfirmed = true
			outcome.MutatedIDs = append(outcome.MutatedIDs, result.MutatedIDs...)
		}
		if !result.Success {
			a.log.Debug("tool %s failed: %s", call.Name, result.Error)
		}

		sig := detect.recordCall(call.Name, string(call.Args))
		detect.recordResult(result)
		if stop, reason := detect.shouldTerminate(sig); stop {
			a.log.Warn("loop detected after %d steps: %s", step+1, reason)
			a.finish(rec, outcome, a.loopExitMessage(cleaned), mutationConfirmed)
			return outcome, nil
		}

		messages = append(messages, llm.Message{Role: "assistant", Content: resp.Content})
		messages = append(messages, llm.Message{Role: "user", Content: FormatObservation(result)})
	}

	a.log.Warn("step budget (%d) exhausted", a.maxSteps)
	rec.Finish("step budget exhausted")
	return nil, fmt.Errorf("%w after %d steps", ErrBudgetExhausted, a.maxSteps)
}

// invoke dispatches one call through the registry, holding each loop to its
// own tool set even if the model names one from the other catalog.
func (a *Agent) invoke(ctx context.Context, userID string, call *ToolCall) *tools.Result {
	if a.mode == ModeAnalyze && a.registry.IsMutating(call.Name) {
		return &tools.Result{
			Tool:    call.Name,
			Success: false,
			Error:   fmt.Sprintf("tool %s is not available: analysis is read-only", call.Name),
		}
	}
	if a.mode == ModeMutate && a.registry.IsAnalysisOnly(call.Name) {
		return &tools.Result{
			Tool:    call.Name,
			Success: false,
			Error:   fmt.Sprintf("tool %s is not available while editing tasks", call.Name),
		}
	}
	return a.registry.Invoke(ctx, userID, call.Name, call.Args)
}

// finish records the terminal response, applying the clarification and
// hallucination checks that gate what the user is told.
func (a *Agent) finish(rec *trace.Recorder, outcome *Outcome, message string, mutationConfirmed bool) {
	if message == "" {
		message = "Sorry, I wasn't able to work that out. Could you rephrase?"
	}

	if a.mode == ModeMutate && !mutationConfirmed {
		if isClarification(message) {
			outcome.NeedsClarification = true
		} else if claimsMutation(message) {
			outcome.HallucinationBlocked = true
			message = BlockedResponse
		}
	}

	outcome.Message = message
	rec.Finish(message)
}

// loopExitMessage picks the user-facing text when the loop detector fires.
// A substantive partial answer is better than a canned apology.
func (a *Agent) loopExitMessage(cleaned string) string {
	if len(cleaned) >= 20 {
		return cleaned
	}
	return "I wasn't able to complete that with the available tools. Try rephrasing or splitting the request."
}

func (a *Agent) systemPrompt(facts string) string {
	if a.mode == ModeMutate {
		return MutationSystemPrompt(a.registry.Describe(true), facts)
	}
	return AnalysisSystemPrompt(a.registry.Describe(false), facts)
}

// isClarification reports whether a final answer is a question back to the
// user rather than an outcome claim.
func isClarification(message string) bool {
	return strings.HasSuffix(strings.TrimSpace(message), "?")
}

// mutationClaims are past-tense verbs that assert a completed change.
var mutationClaims = []string{
	"created", "added", "completed", "deleted", "removed", "moved",
	"renamed", "updated", "changed", "marked", "set ", "done",
}

// claimsMutation reports whether a final answer asserts that the task store
// was changed. Heuristic by necessity; it errs toward blocking, since a false
// "created it!" is worse than an occasional over-cautious reply.
func claimsMutation(message string) bool {
	lower := strings.ToLower(message)
	for _, verb := range mutationClaims {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOOP DETECTION
// ═══════════════════════════════════════════════════════════════════════════════

// loopDetector spots two stuck patterns small models fall into: replaying the
// same tool call, and grinding through calls that return nothing useful.
type loopDetector struct {
	recentCalls  []string
	emptyResults int
	window       int
}

func newLoopDetector() *loopDetector {
	return &loopDetector{window: 5}
}

// recordCall registers a call signature and returns it.
func (d *loopDetector) recordCall(name, args string) string {
	sig := name + ":" + args
	d.recentCalls = append(d.recentCalls, sig)
	if len(d.recentCalls) > d.window {
		d.recentCalls = d.recentCalls[1:]
	}
	return sig
}

// recordResult tracks consecutive results that give the model nothing to act
// on. Any substantive result resets the count.
func (d *loopDetector) recordResult(result *tools.Result) {
	if result.Success && len(strings.TrimSpace(result.Output)) > 2 {
		d.emptyResults = 0
		return
	}
	d.emptyResults++
}

// shouldTerminate reports whether the loop is stuck, and why.
func (d *loopDetector) shouldTerminate(sig string) (bool, string) {
	dupes := 0
	for _, s := range d.recentCalls {
		if s == sig {
			dupes++
		}
	}
	if dupes >= 3 {
		return true, fmt.Sprintf("call repeated %d times: %s", dupes, truncate(sig, 80))
	}
	if d.emptyResults >= 3 {
		return true, fmt.Sprintf("%d consecutive unproductive results", d.emptyResults)
	}
	return false, ""
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
