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
// CONVERSATION STATE OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// ErrConflict is returned by CommitConversation when the stored version no
// longer matches the version the caller loaded. The caller lost a race with a
// concurrent turn and must re-load before retrying.
var ErrConflict = fmt.Errorf("conversation state conflict")

// LoadConversation returns the durable snapshot for a conversation. Rows are
// keyed by (id, user_id), so the same conversation id under two users names
// two independent conversations. An id the user has never committed yields a
// fresh empty state at version 0, so first turns need no special casing.
func (s *Store) LoadConversation(ctx context.Context, conversationID, userID string) (*types.ConversationState, error) {
	query := `
		SELECT id, user_id, messages, version, updated_at
		FROM conversations
		WHERE id = ? AND user_id = ?
	`

	var state types.ConversationState
	var messagesJSON string

	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(
		&state.ConversationID, &state.UserID, &messagesJSON,
		&state.Version, &state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &types.ConversationState{
			ConversationID: conversationID,
			UserID:         userID,
			Messages:       []types.ChatMessage{},
			Version:        0,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &state.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}

	return &state, nil
}

// CommitConversation durably writes the state produced by a turn. The commit
// only succeeds if the stored version still equals state.Version; on success
// the stored version becomes state.Version+1 and the passed state is updated
// to match. A stale version returns ErrConflict and writes nothing.
func (s *Store) CommitConversation(ctx context.Context, state *types.ConversationState) error {
	if state.ConversationID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}
	if state.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	messagesJSON, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	now := time.Now()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if state.Version == 0 {
			// First commit: insert, racing inserts collide on the primary key.
			_, err := tx.ExecContext(ctx,
				`INSERT INTO conversations (id, user_id, messages, version, updated_at)
				 VALUES (?, ?, ?, 1, ?)`,
				state.ConversationID, state.UserID, string(messagesJSON), now)
			if err != nil {
				// A duplicate key here means another turn committed first.
				var existing int64
				checkErr := tx.QueryRowContext(ctx,
					`SELECT version FROM conversations WHERE id = ? AND user_id = ?`,
					state.ConversationID, state.UserID).Scan(&existing)
				if checkErr == nil {
					return fmt.Errorf("%w: stored version %d, loaded version 0",
						ErrConflict, existing)
				}
				return fmt.Errorf("insert conversation: %w", err)
			}

			state.Version = 1
			state.UpdatedAt = now
			return nil
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE conversations
			 SET messages = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND user_id = ? AND version = ?`,
			string(messagesJSON), now, state.ConversationID, state.UserID, state.Version)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			var existing int64
			if checkErr := tx.QueryRowContext(ctx,
				`SELECT version FROM conversations WHERE id = ? AND user_id = ?`,
				state.ConversationID, state.UserID).Scan(&existing); checkErr == nil {
				return fmt.Errorf("%w: stored version %d, loaded version %d",
					ErrConflict, existing, state.Version)
			}
			return fmt.Errorf("%w: conversation disappeared", ErrConflict)
		}

		state.Version++
		state.UpdatedAt = now
		return nil
	})
}
