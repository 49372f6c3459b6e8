package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/normanking/voicetask/internal/agent"
	"github.com/normanking/voicetask/internal/llm"
	"github.com/normanking/voicetask/internal/memory"
	"github.com/normanking/voicetask/internal/router"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/internal/tools"
	"github.com/normanking/voicetask/pkg/types"
)

type captureNotifier struct {
	mu     sync.Mutex
	userID string
	ids    []string
	calls  int
}

func (n *captureNotifier) NotifyMutations(userID string, taskIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userID = userID
	n.ids = append(n.ids, taskIDs...)
	n.calls++
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
}

// newTestDriver wires a full pipeline against a scripted tool-calling model.
// The memory extractor gets its own scripted mini model that never finds
// facts; extraction failures after it runs dry are tolerated by design.
func newTestDriver(t *testing.T, maxSteps int, mainResponses ...string) (*Driver, *store.Store, *captureNotifier, *llm.ScriptedProvider) {
	t.Helper()

	s, err := store.NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	registry := tools.NewRegistry()
	tools.RegisterTaskTools(registry, s)
	tools.RegisterDateTools(registry, fixedNow)
	tools.RegisterAnalysisTools(registry, s, fixedNow, 7)

	main := llm.NewScriptedProvider(mainResponses...)

	var miniResponses []string
	for i := 0; i < 10; i++ {
		miniResponses = append(miniResponses, `{"facts": []}`)
	}
	mini := llm.NewScriptedProvider(miniResponses...)

	extractor := memory.NewExtractor(mini, "mini", s)
	rt := router.NewSmartRouter(nil)
	notifier := &captureNotifier{}

	d := New(s,
		extractor,
		rt,
		agent.New(main, "main", registry, agent.ModeMutate, maxSteps),
		agent.New(main, "main", registry, agent.ModeAnalyze, maxSteps),
		notifier,
		Config{TraceEnabled: true},
	)
	return d, s, notifier, main
}

func TestProcessTurn_MutationFlow(t *testing.T) {
	d, s, notifier, _ := newTestDriver(t, 8,
		`<tool>create_task</tool><params>{"name": "Buy milk", "due_date": "2026-09-01"}</params>`,
		`Created "Buy milk", due tomorrow.`,
	)

	res, err := d.ProcessTurn(context.Background(), "u1", "c1", "create a task called Buy milk due tomorrow")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if res.Status != types.TurnOK {
		t.Errorf("Status = %s, want ok", res.Status)
	}
	if len(res.MutationsApplied) != 1 {
		t.Fatalf("MutationsApplied = %v, want one id", res.MutationsApplied)
	}
	if !strings.Contains(res.Response, "Buy milk") {
		t.Errorf("Response = %q, want task confirmation", res.Response)
	}

	// Side effects: push notification and committed state.
	if notifier.calls != 1 || notifier.userID != "u1" {
		t.Errorf("notifier calls=%d user=%q", notifier.calls, notifier.userID)
	}
	if notifier.ids[0] != res.MutationsApplied[0] {
		t.Errorf("notified id %q != applied id %q", notifier.ids[0], res.MutationsApplied[0])
	}

	state, err := s.LoadConversation(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if state.Version != 1 || len(state.Messages) != 2 {
		t.Errorf("committed state version=%d messages=%d, want 1 and 2", state.Version, len(state.Messages))
	}

	// The trace covers the turn and carries the route.
	rec, err := s.GetTrace(context.Background(), res.TraceRef)
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if rec.Route != "mutate" || rec.Status != "ok" {
		t.Errorf("trace route=%q status=%q", rec.Route, rec.Status)
	}
	if len(rec.Steps) == 0 {
		t.Error("trace has no steps")
	}
}

func TestProcessTurn_AnalysisFlow(t *testing.T) {
	d, s, notifier, _ := newTestDriver(t, 8,
		`<tool>get_current_date</tool><params>{}</params>`,
		`<tool>get_productivity_patterns</tool><params>{"window_days": 7}</params>`,
		`Quiet week so far: no completions yet.`,
	)

	res, err := d.ProcessTurn(context.Background(), "u1", "c1", "show me my productivity stats for this week")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if res.Status != types.TurnOK {
		t.Errorf("Status = %s, want ok", res.Status)
	}
	if len(res.MutationsApplied) != 0 {
		t.Errorf("analysis turn applied mutations: %v", res.MutationsApplied)
	}
	if notifier.calls != 0 {
		t.Errorf("notifier called %d times on a read-only turn", notifier.calls)
	}

	rec, err := s.GetTrace(context.Background(), res.TraceRef)
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if rec.Route != "analyze" {
		t.Errorf("trace route = %q, want analyze", rec.Route)
	}
}

func TestProcessTurn_HistoryCarriesAcrossTurns(t *testing.T) {
	d, s, _, main := newTestDriver(t, 8,
		`You have no overdue tasks.`,
		`Still none. You're all caught up.`,
	)

	for _, utterance := range []string{"do i have any overdue tasks", "what about now, do i have any"} {
		if _, err := d.ProcessTurn(context.Background(), "u1", "c1", utterance); err != nil {
			t.Fatalf("ProcessTurn(%q): %v", utterance, err)
		}
	}

	state, err := s.LoadConversation(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if state.Version != 2 || len(state.Messages) != 4 {
		t.Fatalf("state version=%d messages=%d, want 2 and 4", state.Version, len(state.Messages))
	}

	// The second turn's model call must see the first exchange.
	last := main.Requests[len(main.Requests)-1]
	if len(last.Messages) != 3 {
		t.Errorf("second turn saw %d messages, want 3 (history + new input)", len(last.Messages))
	}
	if last.Messages[0].Content != "do i have any overdue tasks" {
		t.Errorf("history starts with %q", last.Messages[0].Content)
	}
}

func TestProcessTurn_ProviderFailureFailsTurn(t *testing.T) {
	// No scripted responses: the first reasoning call fails.
	d, s, notifier, _ := newTestDriver(t, 8)

	res, err := d.ProcessTurn(context.Background(), "u1", "c1", "create a task called X")
	if err == nil {
		t.Fatal("expected error from failed provider")
	}
	if res == nil || res.Status != types.TurnFailed {
		t.Fatalf("result = %+v, want failed status", res)
	}
	if res.Response != FailedResponse {
		t.Errorf("Response = %q, want the generic failure message", res.Response)
	}
	if notifier.calls != 0 {
		t.Error("failed turn emitted notifications")
	}

	// Nothing was committed.
	state, err := s.LoadConversation(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if state.Version != 0 || len(state.Messages) != 0 {
		t.Errorf("failed turn committed state: version=%d messages=%d", state.Version, len(state.Messages))
	}
}

func TestProcessTurn_BudgetExhaustedFailsTurn(t *testing.T) {
	d, _, _, _ := newTestDriver(t, 2,
		`<tool>get_date_in_days</tool><params>{"days": 1}</params>`,
		`<tool>get_date_in_days</tool><params>{"days": 2}</params>`,
	)

	res, err := d.ProcessTurn(context.Background(), "u1", "c1", "show me my overdue tasks")
	if !errors.Is(err, agent.ErrBudgetExhausted) {
		t.Fatalf("err = %v, want ErrBudgetExhausted", err)
	}
	if res.Status != types.TurnFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
}

func TestProcessTurn_HallucinationOverridden(t *testing.T) {
	d, _, notifier, _ := newTestDriver(t, 8,
		`I created that task for you!`,
	)

	res, err := d.ProcessTurn(context.Background(), "u1", "c1", "add a task to call mom")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if !res.HallucinationBlocked {
		t.Fatal("unbacked success claim not flagged")
	}
	if res.Response != agent.BlockedResponse {
		t.Errorf("Response = %q, want the override", res.Response)
	}
	if len(res.MutationsApplied) != 0 || notifier.calls != 0 {
		t.Error("blocked turn reported mutations")
	}
}

func TestProcessTurn_Clarification(t *testing.T) {
	d, _, _, _ := newTestDriver(t, 8,
		`<tool>search_tasks</tool><params>{"query": "report"}</params>`,
		`Which report task did you mean, the quarterly one or the weekly one?`,
	)

	res, err := d.ProcessTurn(context.Background(), "u1", "c1", "delete the report task")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Status != types.TurnClarificationNeeded {
		t.Errorf("Status = %s, want clarification_needed", res.Status)
	}
}

func TestProcessTurn_InputValidation(t *testing.T) {
	d, _, _, _ := newTestDriver(t, 8)

	if _, err := d.ProcessTurn(context.Background(), "", "c1", "hi"); err == nil {
		t.Error("missing user id accepted")
	}
	if _, err := d.ProcessTurn(context.Background(), "u1", "c1", ""); err == nil {
		t.Error("empty utterance accepted")
	}
}

func TestProcessTurn_SerializesConversation(t *testing.T) {
	d, s, _, _ := newTestDriver(t, 8,
		`First answer.`,
		`Second answer.`,
	)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.ProcessTurn(context.Background(), "u1", "c1", "do i have anything due"); err != nil {
				t.Errorf("ProcessTurn: %v", err)
			}
		}()
	}
	wg.Wait()

	// Both turns committed without conflict thanks to the conversation lock.
	state, err := s.LoadConversation(context.Background(), "c1", "u1")
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if state.Version != 2 || len(state.Messages) != 4 {
		t.Errorf("state version=%d messages=%d, want 2 and 4", state.Version, len(state.Messages))
	}
}
