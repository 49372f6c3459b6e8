package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/pkg/types"
)

// RegisterTaskTools wires the task and folder tools onto the registry.
func RegisterTaskTools(r *Registry, s *store.Store) {
	r.MustRegister(createTaskTool(s))
	r.MustRegister(editTaskTool(s))
	r.MustRegister(completeTaskTool(s))
	r.MustRegister(reopenTaskTool(s))
	r.MustRegister(deleteTaskTool(s))
	r.MustRegister(moveTaskTool(s))
	r.MustRegister(setTaskPriorityTool(s))
	r.MustRegister(createFolderTool(s))
	r.MustRegister(renameFolderTool(s))
	r.MustRegister(deleteFolderTool(s))
	r.MustRegister(searchTasksTool(s))
	r.MustRegister(listTasksTool(s))
	r.MustRegister(listFoldersTool(s))
	r.MustRegister(getFolderContentsTool(s))
}

// taskView is the task shape returned to the model. It mirrors types.Task
// minus the internal timestamps the model has no use for.
type taskView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Folder    string `json:"folder"`
	DueDate   string `json:"due_date,omitempty"`
	Priority  string `json:"priority"`
	Completed bool   `json:"completed"`
}

func viewOf(t *types.Task) taskView {
	return taskView{
		ID:        t.ID,
		Name:      t.Name,
		Folder:    t.Folder,
		DueDate:   t.DueDate,
		Priority:  string(t.Priority),
		Completed: t.Completed,
	}
}

func viewsOf(tasks []*types.Task) []taskView {
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, viewOf(t))
	}
	return views
}

func createTaskTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "create_task",
		Description: "Create a new task. Use the date tools first to resolve spoken dates like 'next Friday' into YYYY-MM-DD form.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"folder": {"type": "string"},
				"due_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
				"priority": {"type": "string", "enum": ["normal", "high"]}
			},
			"required": ["name"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Name     string `json:"name"`
				Folder   string `json:"folder"`
				DueDate  string `json:"due_date"`
				Priority string `json:"priority"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			task := &types.Task{
				ID:       uuid.NewString(),
				UserID:   inv.UserID,
				Name:     args.Name,
				Folder:   args.Folder,
				DueDate:  args.DueDate,
				Priority: types.Priority(args.Priority),
			}
			if err := s.CreateTask(ctx, task); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(viewOf(task)),
				MutatedIDs: []string{task.ID},
			}, nil
		},
	}
}

func editTaskTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "edit_task",
		Description: "Edit a task's name or due date. Find the task id with search_tasks first.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "minLength": 1},
				"name": {"type": "string", "minLength": 1},
				"due_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
				"clear_due_date": {"type": "boolean"}
			},
			"required": ["task_id"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				TaskID       string `json:"task_id"`
				Name         string `json:"name"`
				DueDate      string `json:"due_date"`
				ClearDueDate bool   `json:"clear_due_date"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			task, err := s.GetTask(ctx, inv.UserID, args.TaskID)
			if err != nil {
				return nil, err
			}

			if args.Name != "" {
				task.Name = args.Name
			}
			if args.DueDate != "" {
				task.DueDate = args.DueDate
			}
			if args.ClearDueDate {
				task.DueDate = ""
			}

			if err := s.UpdateTask(ctx, task); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(viewOf(task)),
				MutatedIDs: []string{task.ID},
			}, nil
		},
	}
}

func completeTaskTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "complete_task",
		Description: "Mark a task as completed.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "minLength": 1}
			},
			"required": ["task_id"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				TaskID string `json:"task_id"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			task, err := s.GetTask(ctx, inv.UserID, args.TaskID)
			if err != nil {
				return nil, err
			}
			if task.Completed {
				// Completing twice is a no-op, not an error.
				return &Result{Success: true, Output: jsonOut(viewOf(task))}, nil
			}

			now := time.Now()
			task.Completed = true
			task.CompletedAt = &now
			if err := s.UpdateTask(ctx, task); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(viewOf(task)),
				MutatedIDs: []string{task.ID},
			}, nil
		},
	}
}

func reopenTaskTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "reopen_task",
		Description: "Reopen a completed task.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "minLength": 1}
			},
			"required": ["task_id"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				TaskID string `json:"task_id"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			task, err := s.GetTask(ctx, inv.UserID, args.TaskID)
			if err != nil {
				return nil, err
			}

			task.Completed = false
			task.CompletedAt = nil
			if err := s.UpdateTask(ctx, task); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(viewOf(task)),
				MutatedIDs: []string{task.ID},
			}, nil
		},
	}
}

func deleteTaskTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "delete_task",
		Description: "Permanently delete a task.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "minLength": 1}
			},
			"required": ["task_id"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				TaskID string `json:"task_id"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			if err := s.DeleteTask(ctx, inv.UserID, args.TaskID); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(map[string]string{"deleted": args.TaskID}),
				MutatedIDs: []string{args.TaskID},
			}, nil
		},
	}
}

func moveTaskTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "move_task",
		Description: "Move a task into a different folder.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "minLength": 1},
				"folder": {"type": "string", "minLength": 1}
			},
			"required": ["task_id", "folder"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				TaskID string `json:"task_id"`
				Folder string `json:"folder"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			task, err := s.GetTask(ctx, inv.UserID, args.TaskID)
			if err != nil {
				return nil, err
			}

			task.Folder = args.Folder
			if err := s.UpdateTask(ctx, task); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(viewOf(task)),
				MutatedIDs: []string{task.ID},
			}, nil
		},
	}
}

func setTaskPriorityTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "set_task_priority",
		Description: "Set a task's priority to normal or high.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "minLength": 1},
				"priority": {"type": "string", "enum": ["normal", "high"]}
			},
			"required": ["task_id", "priority"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				TaskID   string `json:"task_id"`
				Priority string `json:"priority"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			task, err := s.GetTask(ctx, inv.UserID, args.TaskID)
			if err != nil {
				return nil, err
			}

			task.Priority = types.Priority(args.Priority)
			if err := s.UpdateTask(ctx, task); err != nil {
				return nil, err
			}

			return &Result{
				Success:    true,
				Output:     jsonOut(viewOf(task)),
				MutatedIDs: []string{task.ID},
			}, nil
		},
	}
}

func createFolderTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "create_folder",
		Description: "Create a new folder for grouping tasks.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1}
			},
			"required": ["name"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Name string `json:"name"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			folder := &types.Folder{
				ID:     uuid.NewString(),
				UserID: inv.UserID,
				Name:   args.Name,
			}
			if err := s.CreateFolder(ctx, folder); err != nil {
				return nil, err
			}

			return &Result{
				Success: true,
				Output:  jsonOut(map[string]string{"id": folder.ID, "name": folder.Name}),
			}, nil
		},
	}
}

func renameFolderTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "rename_folder",
		Description: "Rename a folder. Tasks inside follow the new name.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"old_name": {"type": "string", "minLength": 1},
				"new_name": {"type": "string", "minLength": 1}
			},
			"required": ["old_name", "new_name"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				OldName string `json:"old_name"`
				NewName string `json:"new_name"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			if err := s.RenameFolder(ctx, inv.UserID, args.OldName, args.NewName); err != nil {
				return nil, err
			}

			return &Result{
				Success: true,
				Output:  jsonOut(map[string]string{"renamed": args.OldName, "to": args.NewName}),
			}, nil
		},
	}
}

func deleteFolderTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "delete_folder",
		Description: "Delete an empty folder. Folders that still hold tasks are refused unless force is true, which deletes the tasks too. Only set force after the user has confirmed.",
		Mutating:    true,
		Schema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"force": {"type": "boolean"}
			},
			"required": ["name"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Name  string `json:"name"`
				Force bool   `json:"force"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			if args.Force {
				removed, err := s.PurgeFolder(ctx, inv.UserID, args.Name)
				if err != nil {
					return nil, err
				}
				return &Result{
					Success: true,
					Output:  jsonOut(map[string]interface{}{"deleted": args.Name, "tasks_removed": removed}),
				}, nil
			}

			if err := s.DeleteFolder(ctx, inv.UserID, args.Name); err != nil {
				return nil, err
			}

			return &Result{
				Success: true,
				Output:  jsonOut(map[string]string{"deleted": args.Name}),
			}, nil
		},
	}
}

func searchTasksTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "search_tasks",
		Description: "Search tasks by name fragment. Use this to find the task id before editing, completing, or deleting.",
		Schema: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1}
			},
			"required": ["query"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			matches, err := s.SearchTasks(ctx, inv.UserID, args.Query)
			if err != nil {
				return nil, err
			}

			return &Result{Success: true, Output: jsonOut(viewsOf(matches))}, nil
		},
	}
}

func listTasksTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by folder, completion, priority, or due date range.",
		Schema: `{
			"type": "object",
			"properties": {
				"folder": {"type": "string"},
				"completed": {"type": "boolean"},
				"priority": {"type": "string", "enum": ["normal", "high"]},
				"due_before": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
				"due_after": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Folder    string `json:"folder"`
				Completed *bool  `json:"completed"`
				Priority  string `json:"priority"`
				DueBefore string `json:"due_before"`
				DueAfter  string `json:"due_after"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			tasks, err := s.ListTasks(ctx, inv.UserID, store.TaskFilter{
				Folder:    args.Folder,
				Completed: args.Completed,
				Priority:  types.Priority(args.Priority),
				DueBefore: args.DueBefore,
				DueAfter:  args.DueAfter,
			})
			if err != nil {
				return nil, err
			}

			return &Result{Success: true, Output: jsonOut(viewsOf(tasks))}, nil
		},
	}
}

func listFoldersTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "list_folders",
		Description: "List the user's folders.",
		Schema: `{
			"type": "object",
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			folders, err := s.ListFolders(ctx, inv.UserID)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(folders))
			for _, f := range folders {
				names = append(names, f.Name)
			}

			return &Result{Success: true, Output: jsonOut(names)}, nil
		},
	}
}

func getFolderContentsTool(s *store.Store) *Definition {
	return &Definition{
		Name:        "get_folder_contents",
		Description: "List every task in a folder, including completed ones.",
		Schema: `{
			"type": "object",
			"properties": {
				"folder": {"type": "string", "minLength": 1}
			},
			"required": ["folder"],
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			var args struct {
				Folder string `json:"folder"`
			}
			if err := inv.Bind(&args); err != nil {
				return nil, err
			}

			tasks, err := s.ListTasks(ctx, inv.UserID, store.TaskFilter{Folder: args.Folder})
			if err != nil {
				return nil, err
			}
			if len(tasks) == 0 {
				// Distinguish an empty folder from a missing one.
				if _, err := s.GetFolderByName(ctx, inv.UserID, args.Folder); err != nil {
					return nil, fmt.Errorf("folder not found: %s", args.Folder)
				}
			}

			return &Result{Success: true, Output: jsonOut(viewsOf(tasks))}, nil
		},
	}
}
