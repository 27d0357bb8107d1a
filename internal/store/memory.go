package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

const memoryColumns = `session_id, user_id, project_id, summary_memory, turn_count, last_summary_turn, updated_at`

// GetMemory returns the memory record of a session, or domain.ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, sessionID uuid.UUID) (domain.ConversationMemory, error) {
	m, err := scanMemory(s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM chat_memory WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConversationMemory{}, fmt.Errorf("memory for session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// UpdateMemory creates the record for key if needed, locks its row and applies fn.
// The new state is written only if fn returns nil. Concurrent callers for the same
// session are serialized by the row lock.
func (s *Store) UpdateMemory(ctx context.Context, key domain.MemoryKey, fn func(*domain.ConversationMemory) error) (domain.ConversationMemory, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_memory (session_id, user_id, project_id, turn_count, last_summary_turn)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (session_id) DO NOTHING`,
		key.SessionID, key.UserID, key.ProjectID,
	)
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("create memory: %w", err)
	}

	m, err := scanMemory(tx.QueryRow(ctx, `SELECT `+memoryColumns+` FROM chat_memory WHERE session_id = $1 FOR UPDATE`, key.SessionID))
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("lock memory: %w", err)
	}

	if err := fn(&m); err != nil {
		return domain.ConversationMemory{}, err
	}
	if m.LastSummaryTurn > m.TurnCount {
		return domain.ConversationMemory{}, fmt.Errorf("%w: last_summary_turn %d > turn_count %d", domain.ErrInvalidInput, m.LastSummaryTurn, m.TurnCount)
	}

	err = tx.QueryRow(ctx, `
		UPDATE chat_memory
		SET summary_memory = $2, turn_count = $3, last_summary_turn = $4, updated_at = now()
		WHERE session_id = $1
		RETURNING updated_at`,
		key.SessionID, m.Summary, m.TurnCount, m.LastSummaryTurn,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("update memory: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func scanMemory(row pgx.Row) (domain.ConversationMemory, error) {
	var m domain.ConversationMemory
	err := row.Scan(&m.SessionID, &m.UserID, &m.ProjectID, &m.Summary, &m.TurnCount, &m.LastSummaryTurn, &m.UpdatedAt)
	return m, err
}
