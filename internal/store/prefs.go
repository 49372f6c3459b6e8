package store

import (
	"context"
	"fmt"
	"time"

	"github.com/normanking/voicetask/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MEMORY FACT OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// UpsertFact writes a preference fact with last-write-wins semantics. A fact
// with the same (user_id, key) replaces the previous value; re-applying the
// same fact is a no-op beyond bumping updated_at, so retried turns stay
// idempotent.
func (s *Store) UpsertFact(ctx context.Context, fact *types.MemoryFact) error {
	if fact.UserID == "" || fact.Key == "" {
		return fmt.Errorf("fact user ID and key cannot be empty")
	}

	fact.UpdatedAt = time.Now()

	query := `
		INSERT INTO memory_facts (user_id, key, value, source_turn, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			source_turn = excluded.source_turn,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		fact.UserID, fact.Key, fact.Value, fact.SourceTurn, fact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}

	return nil
}

// ListFacts returns all preference facts for a user, keyed order.
func (s *Store) ListFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, key, value, source_turn, updated_at
		 FROM memory_facts WHERE user_id = ? ORDER BY key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []*types.MemoryFact
	for rows.Next() {
		var f types.MemoryFact
		if err := rows.Scan(&f.UserID, &f.Key, &f.Value, &f.SourceTurn, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, &f)
	}

	return facts, rows.Err()
}

// DeleteFact removes a single preference fact. Missing keys are not an error.
func (s *Store) DeleteFact(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_facts WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	return nil
}
