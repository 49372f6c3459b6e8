package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()

	s, err := store.NewDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r := NewRegistry()
	RegisterTaskTools(r, s)
	RegisterDateTools(r, fixedNow)
	RegisterAnalysisTools(r, s, fixedNow, 7)
	return r, s
}

// fixedNow pins the clock to a Monday for deterministic date math.
func fixedNow() time.Time {
	return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
}

func invoke(t *testing.T, r *Registry, name, args string) *Result {
	t.Helper()
	return r.Invoke(context.Background(), "user-1", name, json.RawMessage(args))
}

func TestRegistry_UnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := invoke(t, r, "launch_rocket", `{}`)
	if res.Success {
		t.Fatal("unknown tool should fail")
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Errorf("unexpected error: %s", res.Error)
	}
}

func TestRegistry_SchemaRejectsBadArgs(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing required", "create_task", `{}`},
		{"bad date format", "create_task", `{"name": "x", "due_date": "tomorrow"}`},
		{"bad priority", "create_task", `{"name": "x", "priority": "urgent"}`},
		{"unknown field", "complete_task", `{"task_id": "a", "force": true}`},
		{"wrong type", "get_date_in_days", `{"days": "three"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, r, tt.tool, tt.args)
			if res.Success {
				t.Fatalf("expected validation failure for %s", tt.args)
			}
			if !strings.Contains(res.Error, "invalid arguments") {
				t.Errorf("unexpected error: %s", res.Error)
			}
		})
	}
}

func TestRegistry_HandlerErrorBecomesResult(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := invoke(t, r, "complete_task", `{"task_id": "no-such-task"}`)
	if res.Success {
		t.Fatal("expected failure for missing task")
	}
	if !strings.Contains(res.Error, "task not found") {
		t.Errorf("unexpected error: %s", res.Error)
	}
}

func TestCreateAndCompleteTask(t *testing.T) {
	r, s := newTestRegistry(t)

	res := invoke(t, r, "create_task", `{"name": "buy milk", "folder": "Home", "due_date": "2026-09-02"}`)
	if !res.Success {
		t.Fatalf("create_task: %s", res.Error)
	}
	if len(res.MutatedIDs) != 1 {
		t.Fatalf("expected 1 mutated id, got %v", res.MutatedIDs)
	}
	taskID := res.MutatedIDs[0]

	res = invoke(t, r, "complete_task", `{"task_id": "`+taskID+`"}`)
	if !res.Success {
		t.Fatalf("complete_task: %s", res.Error)
	}

	got, err := s.GetTask(context.Background(), "user-1", taskID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Completed || got.CompletedAt == nil {
		t.Errorf("task not completed: %+v", got)
	}

	// Completing again is a no-op without a mutation claim.
	res = invoke(t, r, "complete_task", `{"task_id": "`+taskID+`"}`)
	if !res.Success {
		t.Fatalf("second complete_task: %s", res.Error)
	}
	if len(res.MutatedIDs) != 0 {
		t.Errorf("no-op completion should not report mutations: %v", res.MutatedIDs)
	}
}

func TestMoveAndPriority(t *testing.T) {
	r, _ := newTestRegistry(t)

	res := invoke(t, r, "create_task", `{"name": "write report"}`)
	taskID := res.MutatedIDs[0]

	if res = invoke(t, r, "move_task", `{"task_id": "`+taskID+`", "folder": "Work"}`); !res.Success {
		t.Fatalf("move_task: %s", res.Error)
	}
	if res = invoke(t, r, "set_task_priority", `{"task_id": "`+taskID+`", "priority": "high"}`); !res.Success {
		t.Fatalf("set_task_priority: %s", res.Error)
	}

	var view struct {
		Folder   string `json:"folder"`
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal([]byte(res.Output), &view); err != nil {
		t.Fatal(err)
	}
	if view.Folder != "Work" || view.Priority != "high" {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestDeleteFolder_RefusesNonEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)

	invoke(t, r, "create_folder", `{"name": "Projects"}`)
	res := invoke(t, r, "create_task", `{"name": "ship v1", "folder": "Projects"}`)
	taskID := res.MutatedIDs[0]

	res = invoke(t, r, "delete_folder", `{"name": "Projects"}`)
	if res.Success {
		t.Fatal("deleting a non-empty folder must fail")
	}
	if !strings.Contains(res.Error, "folder not empty") {
		t.Errorf("unexpected error: %s", res.Error)
	}

	invoke(t, r, "delete_task", `{"task_id": "`+taskID+`"}`)
	if res = invoke(t, r, "delete_folder", `{"name": "Projects"}`); !res.Success {
		t.Fatalf("delete empty folder: %s", res.Error)
	}
}

func TestDeleteFolder_ForcePurgesTasks(t *testing.T) {
	r, s := newTestRegistry(t)

	invoke(t, r, "create_folder", `{"name": "Projects"}`)
	res := invoke(t, r, "create_task", `{"name": "ship v1", "folder": "Projects"}`)
	taskID := res.MutatedIDs[0]
	invoke(t, r, "create_task", `{"name": "ship v2", "folder": "Projects"}`)

	res = invoke(t, r, "delete_folder", `{"name": "Projects", "force": true}`)
	if !res.Success {
		t.Fatalf("force delete_folder: %s", res.Error)
	}
	if !strings.Contains(res.Output, `"tasks_removed":2`) {
		t.Errorf("unexpected output: %s", res.Output)
	}

	if _, err := s.GetTask(context.Background(), "user-1", taskID); err == nil {
		t.Error("purged task still present")
	}

	// The folder itself is gone too.
	res = invoke(t, r, "delete_folder", `{"name": "Projects"}`)
	if res.Success {
		t.Error("deleting a purged folder should fail")
	}
}

func TestSearchThenEditFlow(t *testing.T) {
	r, _ := newTestRegistry(t)

	invoke(t, r, "create_task", `{"name": "call the dentist"}`)
	invoke(t, r, "create_task", `{"name": "call mom"}`)

	res := invoke(t, r, "search_tasks", `{"query": "dentist"}`)
	if !res.Success {
		t.Fatalf("search_tasks: %s", res.Error)
	}

	var matches []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(res.Output), &matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	res = invoke(t, r, "edit_task", `{"task_id": "`+matches[0].ID+`", "due_date": "2026-09-04"}`)
	if !res.Success {
		t.Fatalf("edit_task: %s", res.Error)
	}
}

func TestDateTools(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"today", "get_current_date", `{}`, `"date":"2026-08-31"`},
		{"tomorrow", "get_date_in_days", `{"days": 1}`, `"date":"2026-09-01"`},
		{"next friday", "get_next_weekday", `{"weekday": "friday"}`, `"date":"2026-09-04"`},
		{"next monday wraps a week", "get_next_weekday", `{"weekday": "monday"}`, `"date":"2026-09-07"`},
		{"days between", "days_between", `{"from": "2026-08-31", "to": "2026-09-10"}`, `"days":10`},
		{"days between reversed is negative", "days_between", `{"from": "2026-09-10", "to": "2026-08-31"}`, `"days":-10`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, r, tt.tool, tt.args)
			if !res.Success {
				t.Fatalf("%s: %s", tt.tool, res.Error)
			}
			if !strings.Contains(res.Output, tt.want) {
				t.Errorf("output %s does not contain %s", res.Output, tt.want)
			}
		})
	}
}

func TestStaleTasks(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	fresh := &types.Task{ID: "fresh", UserID: "user-1", Name: "new thing"}
	if err := s.CreateTask(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	// Backdate a task past the threshold.
	stale := &types.Task{ID: "stale", UserID: "user-1", Name: "old thing"}
	if err := s.CreateTask(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().Exec(
		`UPDATE tasks SET updated_at = ? WHERE id = 'stale'`,
		fixedNow().AddDate(0, 0, -10)); err != nil {
		t.Fatal(err)
	}

	res := invoke(t, r, "get_stale_tasks", `{}`)
	if !res.Success {
		t.Fatalf("get_stale_tasks: %s", res.Error)
	}

	var out struct {
		ThresholdDays int `json:"threshold_days"`
		StaleTasks    []struct {
			ID       string `json:"id"`
			IdleDays int    `json:"idle_days"`
		} `json:"stale_tasks"`
	}
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		t.Fatal(err)
	}
	if out.ThresholdDays != 7 {
		t.Errorf("expected threshold 7, got %d", out.ThresholdDays)
	}
	if len(out.StaleTasks) != 1 || out.StaleTasks[0].ID != "stale" {
		t.Errorf("unexpected stale set: %+v", out.StaleTasks)
	}
}

func TestCompletionRate(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c", "d"} {
		task := &types.Task{ID: name, UserID: "user-1", Name: name}
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatal(err)
		}
		if i < 3 {
			now := fixedNow()
			task.Completed = true
			task.CompletedAt = &now
			if err := s.UpdateTask(ctx, task); err != nil {
				t.Fatal(err)
			}
		}
	}

	res := invoke(t, r, "get_completion_rate", `{"window_days": 7}`)
	if !res.Success {
		t.Fatalf("get_completion_rate: %s", res.Error)
	}

	var out struct {
		Created   int     `json:"tasks_created"`
		Completed int     `json:"tasks_completed"`
		Rate      float64 `json:"completion_rate"`
	}
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		t.Fatal(err)
	}
	if out.Created != 4 || out.Completed != 3 {
		t.Errorf("unexpected counts: %+v", out)
	}
	if out.Rate != 0.75 {
		t.Errorf("expected rate 0.75, got %f", out.Rate)
	}
}

func TestProductivityPatterns_PeakHour(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	complete := func(id string, hour int) {
		task := &types.Task{ID: id, UserID: "user-1", Name: id}
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatal(err)
		}
		done := time.Date(2026, 8, 28, hour, 30, 0, 0, time.UTC)
		task.Completed = true
		task.CompletedAt = &done
		if err := s.UpdateTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	complete("a", 9)
	complete("b", 9)
	complete("c", 14)

	res := invoke(t, r, "get_productivity_patterns", `{"window_days": 30}`)
	if !res.Success {
		t.Fatalf("get_productivity_patterns: %s", res.Error)
	}

	var out struct {
		Completed int            `json:"completed_in_window"`
		ByHour    map[string]int `json:"completions_by_hour"`
		PeakHour  int            `json:"peak_hour"`
		ByWeekday map[string]int `json:"completions_by_weekday"`
	}
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		t.Fatal(err)
	}
	if out.Completed != 3 {
		t.Errorf("expected 3 completions, got %d", out.Completed)
	}
	if out.PeakHour != 9 {
		t.Errorf("expected peak hour 9, got %d", out.PeakHour)
	}
	if out.ByHour["9"] != 2 || out.ByHour["14"] != 1 {
		t.Errorf("unexpected hourly counts: %v", out.ByHour)
	}
	if out.ByWeekday["Friday"] != 3 {
		t.Errorf("unexpected weekday counts: %v", out.ByWeekday)
	}
}

func TestDescribe_HidesMutatingTools(t *testing.T) {
	r, _ := newTestRegistry(t)

	readOnly := r.Describe(false)
	if strings.Contains(readOnly, "create_task") || strings.Contains(readOnly, "delete_folder") {
		t.Error("read-only catalog leaked mutating tools")
	}
	if !strings.Contains(readOnly, "get_stale_tasks") {
		t.Error("read-only catalog missing analysis tools")
	}

	mutate := r.Describe(true)
	if !strings.Contains(mutate, "create_task") {
		t.Error("mutation catalog missing mutating tools")
	}
	if strings.Contains(mutate, "get_productivity_patterns") || strings.Contains(mutate, "get_completion_rate") {
		t.Error("mutation catalog leaked analysis-only tools")
	}
	if !strings.Contains(mutate, "search_tasks") || !strings.Contains(mutate, "get_current_date") {
		t.Error("mutation catalog missing shared read tools")
	}
}

func TestIsMutating(t *testing.T) {
	r, _ := newTestRegistry(t)

	if !r.IsMutating("create_task") {
		t.Error("create_task should be mutating")
	}
	if r.IsMutating("search_tasks") {
		t.Error("search_tasks should not be mutating")
	}
	if r.IsMutating("no_such_tool") {
		t.Error("unknown tool should not be mutating")
	}
}

func TestIsAnalysisOnly(t *testing.T) {
	r, _ := newTestRegistry(t)

	if !r.IsAnalysisOnly("get_stale_tasks") {
		t.Error("get_stale_tasks should be analysis-only")
	}
	if r.IsAnalysisOnly("list_tasks") {
		t.Error("list_tasks is shared, not analysis-only")
	}
	if r.IsAnalysisOnly("no_such_tool") {
		t.Error("unknown tool should not be analysis-only")
	}
}
