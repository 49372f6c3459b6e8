package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/normanking/voicetask/internal/llm"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExtract_StoresFacts(t *testing.T) {
	s := newTestStore(t)
	provider := llm.NewScriptedProvider(
		`{"facts": [{"key": "errand_day", "value": "Saturdays"}]}`,
	)

	e := NewExtractor(provider, "mini", s)
	facts, err := e.Extract(context.Background(), "u", "turn-1",
		"I do my errands on Saturdays, add a task to buy stamps")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}

	stored, err := s.ListFacts(context.Background(), "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Key != "errand_day" || stored[0].Value != "Saturdays" {
		t.Errorf("unexpected stored facts: %+v", stored)
	}
	if stored[0].SourceTurn != "turn-1" {
		t.Errorf("expected source turn recorded, got %q", stored[0].SourceTurn)
	}
}

func TestExtract_NoFacts(t *testing.T) {
	s := newTestStore(t)
	provider := llm.NewScriptedProvider(`{"facts": []}`)

	e := NewExtractor(provider, "mini", s)
	facts, err := e.Extract(context.Background(), "u", "turn-1", "add a task to buy milk")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("expected no facts, got %+v", facts)
	}
}

func TestExtract_LastWriteWins(t *testing.T) {
	s := newTestStore(t)
	provider := llm.NewScriptedProvider(
		`{"facts": [{"key": "work_hours", "value": "9 to 5"}]}`,
		`{"facts": [{"key": "work_hours", "value": "10 to 6"}]}`,
	)

	e := NewExtractor(provider, "mini", s)
	ctx := context.Background()

	if _, err := e.Extract(ctx, "u", "turn-1", "I work 9 to 5"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Extract(ctx, "u", "turn-2", "actually I work 10 to 6 now"); err != nil {
		t.Fatal(err)
	}

	stored, _ := s.ListFacts(ctx, "u")
	if len(stored) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(stored))
	}
	if stored[0].Value != "10 to 6" || stored[0].SourceTurn != "turn-2" {
		t.Errorf("expected newest fact to win, got %+v", stored[0])
	}
}

func TestExtract_ModelFailure(t *testing.T) {
	s := newTestStore(t)
	provider := llm.NewScriptedProvider()
	provider.Err = fmt.Errorf("model offline")

	e := NewExtractor(provider, "mini", s)
	if _, err := e.Extract(context.Background(), "u", "t", "whatever"); err == nil {
		t.Fatal("expected error from failed model")
	}
}

func TestParseFacts_ToleratesProse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"clean", `{"facts": [{"key": "a", "value": "b"}]}`, 1, false},
		{"fenced", "```json\n{\"facts\": [{\"key\": \"a\", \"value\": \"b\"}]}\n```", 1, false},
		{"prose wrapped", `Here you go: {"facts": []} hope that helps`, 0, false},
		{"no json", "I could not find any preferences.", 0, true},
		{"truncated", `{"facts": [{"key": "a"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, err := ParseFacts(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFacts: %v", err)
			}
			if len(facts) != tt.want {
				t.Errorf("expected %d facts, got %d", tt.want, len(facts))
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Errand Day", "errand_day"},
		{"  work-hours!  ", "workhours"},
		{"already_fine", "already_fine"},
		{"__trimmed__", "trimmed"},
	}

	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// failingFactStore simulates an unreachable preference store.
type failingFactStore struct {
	facts []*types.MemoryFact
	fail  bool
}

func (f *failingFactStore) UpsertFact(ctx context.Context, fact *types.MemoryFact) error {
	if f.fail {
		return fmt.Errorf("store unreachable")
	}
	f.facts = append(f.facts, fact)
	return nil
}

func (f *failingFactStore) ListFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error) {
	if f.fail {
		return nil, fmt.Errorf("store unreachable")
	}
	return f.facts, nil
}

func TestRecall_DegradesToCache(t *testing.T) {
	fs := &failingFactStore{
		facts: []*types.MemoryFact{{UserID: "u", Key: "errand_day", Value: "Saturdays"}},
	}
	e := NewExtractor(llm.NewScriptedProvider(), "mini", fs)
	ctx := context.Background()

	facts, stale := e.Recall(ctx, "u")
	if stale {
		t.Fatal("healthy store reported stale")
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}

	// Store goes down: Recall serves the cached set and flags it.
	fs.fail = true
	facts, stale = e.Recall(ctx, "u")
	if !stale {
		t.Fatal("unreachable store not reported stale")
	}
	if len(facts) != 1 || facts[0].Key != "errand_day" {
		t.Errorf("cache not served: %+v", facts)
	}

	// A user never seen before degrades to an empty stale set.
	facts, stale = e.Recall(ctx, "other")
	if !stale || len(facts) != 0 {
		t.Errorf("expected empty stale set, got stale=%v facts=%+v", stale, facts)
	}
}

func TestFormatForPrompt(t *testing.T) {
	if FormatForPrompt(nil) != "" {
		t.Error("empty fact set should render empty")
	}

	out := FormatForPrompt([]*types.MemoryFact{
		{Key: "errand_day", Value: "Saturdays"},
	})
	want := "Known user preferences:\n- errand_day: Saturdays\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}
