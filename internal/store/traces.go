package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/normanking/voicetask/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRACE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// SaveTrace persists a completed turn trace. Steps are stored as one JSON
// document since traces are read whole for diagnostics, never queried by step.
func (s *Store) SaveTrace(ctx context.Context, rec *types.TraceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("trace ID cannot be empty")
	}

	stepsJSON, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO traces (id, conversation_id, turn_id, route, status, steps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.TurnID, rec.Route, rec.Status,
		string(stepsJSON), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	return nil
}

// GetTrace retrieves a trace record by id.
func (s *Store) GetTrace(ctx context.Context, id string) (*types.TraceRecord, error) {
	var rec types.TraceRecord
	var stepsJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, turn_id, route, status, steps, created_at
		 FROM traces WHERE id = ?`, id).Scan(
		&rec.ID, &rec.ConversationID, &rec.TurnID, &rec.Route, &rec.Status,
		&stepsJSON, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("trace not found: %s", id)
		}
		return nil, fmt.Errorf("query trace: %w", err)
	}

	if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}

	return &rec, nil
}

// ListTraces returns the most recent traces for a conversation, newest first.
func (s *Store) ListTraces(ctx context.Context, conversationID string, limit int) ([]*types.TraceRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, turn_id, route, status, steps, created_at
		 FROM traces WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var traces []*types.TraceRecord
	for rows.Next() {
		var rec types.TraceRecord
		var stepsJSON string
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.TurnID, &rec.Route,
			&rec.Status, &stepsJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
		traces = append(traces, &rec)
	}

	return traces, rows.Err()
}
