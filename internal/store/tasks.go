package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/voicetask/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TASK OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// ErrTaskNotFound is returned when a task id does not exist for the user.
var ErrTaskNotFound = fmt.Errorf("task not found")

// CreateTask inserts a new task. The ID must be set by the caller (UUID).
func (s *Store) CreateTask(ctx context.Context, task *types.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if task.UserID == "" {
		return fmt.Errorf("task user ID cannot be empty")
	}
	if strings.TrimSpace(task.Name) == "" {
		return fmt.Errorf("task name cannot be empty")
	}

	if task.Priority == "" {
		task.Priority = types.PriorityNormal
	}
	if task.Folder == "" {
		task.Folder = "Inbox"
	}

	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `
		INSERT INTO tasks (
			id, user_id, name, folder, due_date, priority,
			completed, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.UserID, task.Name, task.Folder, nullString(task.DueDate),
		string(task.Priority), task.Completed, task.CompletedAt,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by id, scoped to the owning user.
func (s *Store) GetTask(ctx context.Context, userID, id string) (*types.Task, error) {
	query := `
		SELECT id, user_id, name, folder, due_date, priority,
		       completed, completed_at, created_at, updated_at
		FROM tasks
		WHERE id = ? AND user_id = ?
	`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("query task: %w", err)
	}

	return task, nil
}

// UpdateTask persists changes to an existing task and bumps updated_at.
func (s *Store) UpdateTask(ctx context.Context, task *types.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	task.UpdatedAt = time.Now()

	query := `
		UPDATE tasks SET
			name = ?,
			folder = ?,
			due_date = ?,
			priority = ?,
			completed = ?,
			completed_at = ?,
			updated_at = ?
		WHERE id = ? AND user_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		task.Name, task.Folder, nullString(task.DueDate), string(task.Priority),
		task.Completed, task.CompletedAt, task.UpdatedAt,
		task.ID, task.UserID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, task.ID)
	}

	return nil
}

// DeleteTask removes a task permanently.
func (s *Store) DeleteTask(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return nil
}

// TaskFilter narrows ListTasks results. Nil/zero fields are ignored.
type TaskFilter struct {
	Folder    string
	Completed *bool
	Priority  types.Priority
	DueBefore string // YYYY-MM-DD, inclusive
	DueAfter  string // YYYY-MM-DD, inclusive
}

// ListTasks returns the user's tasks matching the filter, oldest first.
func (s *Store) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]*types.Task, error) {
	query := `
		SELECT id, user_id, name, folder, due_date, priority,
		       completed, completed_at, created_at, updated_at
		FROM tasks
		WHERE user_id = ?
	`
	args := []interface{}{userID}

	if filter.Folder != "" {
		query += " AND folder = ?"
		args = append(args, filter.Folder)
	}
	if filter.Completed != nil {
		query += " AND completed = ?"
		args = append(args, *filter.Completed)
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}
	if filter.DueBefore != "" {
		query += " AND due_date IS NOT NULL AND due_date <= ?"
		args = append(args, filter.DueBefore)
	}
	if filter.DueAfter != "" {
		query += " AND due_date IS NOT NULL AND due_date >= ?"
		args = append(args, filter.DueAfter)
	}

	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// SearchTasks returns the user's tasks whose name contains the query,
// case-insensitive.
func (s *Store) SearchTasks(ctx context.Context, userID, query string) ([]*types.Task, error) {
	sqlQuery := `
		SELECT id, user_id, name, folder, due_date, priority,
		       completed, completed_at, created_at, updated_at
		FROM tasks
		WHERE user_id = ? AND name LIKE ? ESCAPE '\'
		ORDER BY created_at ASC
	`

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, sqlQuery, userID, pattern)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FOLDER OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// ErrFolderNotFound is returned when a folder name does not exist for the user.
var ErrFolderNotFound = fmt.Errorf("folder not found")

// ErrFolderNotEmpty is returned when deleting a folder that still holds tasks.
var ErrFolderNotEmpty = fmt.Errorf("folder not empty")

// CreateFolder inserts a new folder. Names are unique per user.
func (s *Store) CreateFolder(ctx context.Context, folder *types.Folder) error {
	if folder.ID == "" {
		return fmt.Errorf("folder ID cannot be empty")
	}
	if strings.TrimSpace(folder.Name) == "" {
		return fmt.Errorf("folder name cannot be empty")
	}

	folder.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		folder.ID, folder.UserID, folder.Name, folder.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}

	return nil
}

// GetFolderByName looks up a folder by its user-visible name.
func (s *Store) GetFolderByName(ctx context.Context, userID, name string) (*types.Folder, error) {
	var f types.Folder
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM folders WHERE user_id = ? AND name = ?`,
		userID, name).Scan(&f.ID, &f.UserID, &f.Name, &f.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, name)
		}
		return nil, fmt.Errorf("query folder: %w", err)
	}
	return &f, nil
}

// ListFolders returns all of the user's folders in creation order.
func (s *Store) ListFolders(ctx context.Context, userID string) ([]*types.Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM folders WHERE user_id = ? ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	var folders []*types.Folder
	for rows.Next() {
		var f types.Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, &f)
	}

	return folders, rows.Err()
}

// RenameFolder renames a folder and re-points every task in it. The two
// updates run in one transaction so tasks never reference a missing folder.
func (s *Store) RenameFolder(ctx context.Context, userID, oldName, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return fmt.Errorf("folder name cannot be empty")
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE folders SET name = ? WHERE user_id = ? AND name = ?`,
			newName, userID, oldName)
		if err != nil {
			return fmt.Errorf("rename folder: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, oldName)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET folder = ? WHERE user_id = ? AND folder = ?`,
			newName, userID, oldName); err != nil {
			return fmt.Errorf("repoint tasks: %w", err)
		}

		return nil
	})
}

// DeleteFolder removes an empty folder. Folders that still contain tasks are
// refused with ErrFolderNotEmpty so a misheard command cannot wipe them.
func (s *Store) DeleteFolder(ctx context.Context, userID, name string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE user_id = ? AND folder = ?`,
			userID, name).Scan(&count); err != nil {
			return fmt.Errorf("count folder tasks: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s holds %d task(s)", ErrFolderNotEmpty, name, count)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM folders WHERE user_id = ? AND name = ?`, userID, name)
		if err != nil {
			return fmt.Errorf("delete folder: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, name)
		}

		return nil
	})
}

// PurgeFolder removes a folder together with every task it holds. Callers
// gate this behind an explicit confirmation; DeleteFolder is the safe default.
func (s *Store) PurgeFolder(ctx context.Context, userID, name string) (int64, error) {
	var removed int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM tasks WHERE user_id = ? AND folder = ?`, userID, name)
		if err != nil {
			return fmt.Errorf("delete folder tasks: %w", err)
		}
		removed, _ = result.RowsAffected()

		result, err = tx.ExecContext(ctx,
			`DELETE FROM folders WHERE user_id = ? AND name = ?`, userID, name)
		if err != nil {
			return fmt.Errorf("delete folder: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, name)
		}
		return nil
	})
	return removed, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var task types.Task
	var dueDate sql.NullString
	var priority string
	var completedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.UserID, &task.Name, &task.Folder, &dueDate, &priority,
		&task.Completed, &completedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Priority = types.Priority(priority)
	if dueDate.Valid {
		task.DueDate = dueDate.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
