package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/normanking/voicetask/internal/agent"
	"github.com/normanking/voicetask/internal/llm"
	"github.com/normanking/voicetask/internal/memory"
	"github.com/normanking/voicetask/internal/orchestrator"
	"github.com/normanking/voicetask/internal/push"
	"github.com/normanking/voicetask/internal/router"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/internal/tools"
	"github.com/normanking/voicetask/pkg/types"
)

func newTestServer(t *testing.T, mainResponses ...string) *httptest.Server {
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
	tools.RegisterDateTools(registry, func() time.Time {
		return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	})
	tools.RegisterAnalysisTools(registry, s, time.Now, 7)

	main := llm.NewScriptedProvider(mainResponses...)
	mini := llm.NewScriptedProvider(`{"facts": []}`, `{"facts": []}`, `{"facts": []}`)
	rt := router.NewSmartRouter(nil)
	hub := push.NewHub()
	t.Cleanup(hub.Close)

	driver := orchestrator.New(s,
		memory.NewExtractor(mini, "mini", s),
		rt,
		agent.New(main, "main", registry, agent.ModeMutate, 8),
		agent.New(main, "main", registry, agent.ModeAnalyze, 8),
		hub,
		orchestrator.Config{TraceEnabled: true},
	)

	srv := New("127.0.0.1:0", driver, hub, s, rt)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postTurn(t *testing.T, ts *httptest.Server, body interface{}) (*http.Response, *types.TurnResult) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+"/api/turn", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /api/turn: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var result types.TurnResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return resp, nil
	}
	return resp, &result
}

func TestTurnEndpoint(t *testing.T) {
	ts := newTestServer(t,
		`<tool>create_task</tool><params>{"name": "Buy milk"}</params>`,
		`Created "Buy milk" in your Inbox.`,
	)

	resp, result := postTurn(t, ts, TurnRequest{
		UserID:         "u1",
		ConversationID: "c1",
		Utterance:      "add a task called Buy milk",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if result.Status != types.TurnOK {
		t.Errorf("turn status = %s", result.Status)
	}
	if len(result.MutationsApplied) != 1 {
		t.Errorf("MutationsApplied = %v", result.MutationsApplied)
	}
	if result.TraceRef == "" {
		t.Error("missing trace ref")
	}
}

func TestTurnEndpoint_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing fields", TurnRequest{UserID: "u1"}},
		{"empty body", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := postTurn(t, ts, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestTurnEndpoint_FailedTurnReturnsResult(t *testing.T) {
	// No scripted responses: the reasoning call fails and the turn errors.
	ts := newTestServer(t)

	resp, result := postTurn(t, ts, TurnRequest{
		UserID:         "u1",
		ConversationID: "c1",
		Utterance:      "add a task called X",
	})

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if result == nil || result.Status != types.TurnFailed {
		t.Errorf("result = %+v, want failed turn", result)
	}
	if result.Response != orchestrator.FailedResponse {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestTurnEndpoint_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/turn")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, `You have no tasks yet.`)

	if _, result := postTurn(t, ts, TurnRequest{
		UserID: "u1", ConversationID: "c1", Utterance: "do i have any tasks",
	}); result == nil {
		t.Fatal("turn failed")
	}

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Router struct {
			TotalRequests int64 `json:"total_requests"`
		} `json:"router"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Router.TotalRequests != 1 {
		t.Errorf("total_requests = %d, want 1", body.Router.TotalRequests)
	}
}

func TestTracesEndpoint(t *testing.T) {
	ts := newTestServer(t, `Nothing due today.`)

	if _, result := postTurn(t, ts, TurnRequest{
		UserID: "u1", ConversationID: "c1", Utterance: "what's due today",
	}); result == nil {
		t.Fatal("turn failed")
	}

	resp, err := http.Get(ts.URL + "/api/traces?conversation_id=c1")
	if err != nil {
		t.Fatalf("GET /api/traces: %v", err)
	}
	defer resp.Body.Close()

	var traces []*types.TraceRecord
	if err := json.NewDecoder(resp.Body).Decode(&traces); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("got %d traces, want 1", len(traces))
	}
	if traces[0].Status != "ok" {
		t.Errorf("trace status = %q", traces[0].Status)
	}
}
