package tools

import (
	"context"
	"time"

	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/pkg/types"
)

// RegisterAnalysisTools wires the read-only productivity analytics tools onto
// the registry. staleDays is the idle window after which an open task counts
// as stale; the now function supplies the current time.
func RegisterAnalysisTools(r *Registry, s *store.Store, now func() time.Time, staleDays int) {
	if now == nil {
		now = time.Now
	}
	if staleDays <= 0 {
		staleDays = 7
	}
	r.MustRegister(productivityPatternsTool(s, now))
	r.MustRegister(completionRateTool(s, now))
	r.MustRegister(staleTasksTool(s, now, staleDays))
	r.MustRegister(tasksByFilterTool(s, now))
}

func productivityPatternsTool(s *store.Store, now func() time.Time) *Definition {
	return &Definition{
		Name:         "get_productivity_patterns",
		Description:  "Summarize completion habits over a window of days: completions per weekday and hour, peak hour, most active folder, open vs completed counts.",
		AnalysisOnly: true,
		Schema: `{
			"type": "object",
			"properties": {
				"window_days": {"type": "integer", "minimum": 1, "maximum": 365}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				WindowDays int `json:"window_days"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}
			if args.WindowDays == 0 {
				args.WindowDays = 30
			}

			tasks, err := s.ListTasks(ctx, inv.UserID, store.TaskFilter{})
			if err != nil {
				return nil, err
			}

			cutoff := now().AddDate(0, 0, -args.WindowDays)

			byWeekday := map[string]int{}
			byHour := map[int]int{}
			byFolder := map[string]int{}
			var completedInWindow, open int

			for _, t := range tasks {
				if !t.Completed {
					open++
					continue
				}
				if t.CompletedAt == nil || t.CompletedAt.Before(cutoff) {
					continue
				}
				completedInWindow++
				byWeekday[t.CompletedAt.Weekday().String()]++
				byHour[t.CompletedAt.Hour()]++
				byFolder[t.Folder]++
			}

			mostActiveFolder := ""
			best := 0
			for folder, count := range byFolder {
				if count > best {
					best = count
					mostActiveFolder = folder
				}
			}

			peakHour := -1
			best = 0
			for hour, count := range byHour {
				if count > best || (count == best && peakHour >= 0 && hour < peakHour) {
					best = count
					peakHour = hour
				}
			}

			return &Result{
				Success: true,
				Output: jsonOut(map[string]interface{}{
					"window_days":            args.WindowDays,
					"completed_in_window":    completedInWindow,
					"open_tasks":             open,
					"completions_by_weekday": byWeekday,
					"completions_by_hour":    byHour,
					"peak_hour":              peakHour,
					"completions_by_folder":  byFolder,
					"most_active_folder":     mostActiveFolder,
				}),
			}, nil
		},
	}
}

func completionRateTool(s *store.Store, now func() time.Time) *Definition {
	return &Definition{
		Name:         "get_completion_rate",
		Description:  "Compute the share of tasks created in a window of days that have been completed.",
		AnalysisOnly: true,
		Schema: `{
			"type": "object",
			"properties": {
				"window_days": {"type": "integer", "minimum": 1, "maximum": 365}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				WindowDays int `json:"window_days"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}
			if args.WindowDays == 0 {
				args.WindowDays = 7
			}

			tasks, err := s.ListTasks(ctx, inv.UserID, store.TaskFilter{})
			if err != nil {
				return nil, err
			}

			cutoff := now().AddDate(0, 0, -args.WindowDays)

			var created, completed int
			for _, t := range tasks {
				if t.CreatedAt.Before(cutoff) {
					continue
				}
				created++
				if t.Completed {
					completed++
				}
			}

			rate := 0.0
			if created > 0 {
				rate = float64(completed) / float64(created)
			}

			return &Result{
				Success: true,
				Output: jsonOut(map[string]interface{}{
					"window_days":     args.WindowDays,
					"tasks_created":   created,
					"tasks_completed": completed,
					"completion_rate": rate,
				}),
			}, nil
		},
	}
}

func staleTasksTool(s *store.Store, now func() time.Time, staleDays int) *Definition {
	return &Definition{
		Name:         "get_stale_tasks",
		Description:  "Find open tasks that have sat untouched past the staleness threshold. These are candidates for what the user is procrastinating on.",
		AnalysisOnly: true,
		Schema: `{
			"type": "object",
			"properties": {
				"threshold_days": {"type": "integer", "minimum": 1, "maximum": 365}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				ThresholdDays int `json:"threshold_days"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}
			threshold := args.ThresholdDays
			if threshold == 0 {
				threshold = staleDays
			}

			open := false
			tasks, err := s.ListTasks(ctx, inv.UserID, store.TaskFilter{Completed: &open})
			if err != nil {
				return nil, err
			}

			type staleView struct {
				taskView
				IdleDays int `json:"idle_days"`
			}

			current := now()
			stale := []staleView{}
			for _, t := range tasks {
				if idle := t.IdleDays(current); idle >= threshold {
					stale = append(stale, staleView{taskView: viewOf(t), IdleDays: idle})
				}
			}

			return &Result{
				Success: true,
				Output: jsonOut(map[string]interface{}{
					"threshold_days": threshold,
					"stale_tasks":    stale,
				}),
			}, nil
		},
	}
}

func tasksByFilterTool(s *store.Store, now func() time.Time) *Definition {
	return &Definition{
		Name:         "get_tasks_by_filter",
		Description:  "Query tasks with analytics-oriented filters, including overdue.",
		AnalysisOnly: true,
		Schema: `{
			"type": "object",
			"properties": {
				"folder": {"type": "string"},
				"completed": {"type": "boolean"},
				"priority": {"type": "string", "enum": ["normal", "high"]},
				"overdue": {"type": "boolean"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Folder    string `json:"folder"`
				Completed *bool  `json:"completed"`
				Priority  string `json:"priority"`
				Overdue   bool   `json:"overdue"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			filter := store.TaskFilter{
				Folder:    args.Folder,
				Completed: args.Completed,
				Priority:  types.Priority(args.Priority),
			}
			if args.Overdue {
				open := false
				filter.Completed = &open
				filter.DueBefore = now().AddDate(0, 0, -1).Format(dateLayout)
			}

			tasks, err := s.ListTasks(ctx, inv.UserID, filter)
			if err != nil {
				return nil, err
			}

			return &Result{Success: true, Output: jsonOut(viewsOf(tasks))}, nil
		},
	}
}
