package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ConversationState tracks whether a LINE user is being handled by a human
// agent. One row per user, created lazily on the first handover trigger and
// never deleted by this service.
type ConversationState struct {
	UserID               string
	HumanMode            bool
	LastHumanInteraction *time.Time
	LastAIReset          *time.Time
	Nickname             string
	UpdatedAt            time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversation state in Postgres.
//
// Every transition is a single upsert statement. Concurrent deliveries for
// the same user can still interleave between read and write (last writer
// wins); that is an accepted limitation, not a guarantee this store makes.
type Store struct {
	pool querier
}

func NewStore(pool querier) *Store {
	if pool == nil {
		panic("state: pgx pool required")
	}
	return &Store{pool: pool}
}

// Get returns the state for a user. An absent row yields the zero state
// rather than an error: a user the system has never escalated is simply not
// in human mode.
func (s *Store) Get(ctx context.Context, userID string) (*ConversationState, error) {
	query := `
		SELECT line_user_id, is_human_mode, last_human_interaction, last_ai_reset_at,
			COALESCE(nickname, ''), updated_at
		FROM user_states
		WHERE line_user_id = $1
	`
	st := &ConversationState{}
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&st.UserID, &st.HumanMode, &st.LastHumanInteraction, &st.LastAIReset,
		&st.Nickname, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ConversationState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("state: get %s: %w", userID, err)
	}
	return st, nil
}

// MarkHuman flips the user into human mode and stamps the interaction time.
// An empty nickname keeps whatever was stored before.
func (s *Store) MarkHuman(ctx context.Context, userID, nickname string, now time.Time) error {
	query := `
		INSERT INTO user_states (line_user_id, is_human_mode, last_human_interaction, nickname, updated_at)
		VALUES ($1, true, $2, NULLIF($3, ''), $2)
		ON CONFLICT (line_user_id)
		DO UPDATE SET is_human_mode = true,
			last_human_interaction = EXCLUDED.last_human_interaction,
			nickname = COALESCE(EXCLUDED.nickname, user_states.nickname),
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, userID, now, nickname); err != nil {
		return fmt.Errorf("state: mark human %s: %w", userID, err)
	}
	return nil
}

// ClearHuman returns the user to AI handling after the handover timeout
// elapses. The reset timestamp is untouched: a timeout is not a manual reset
// and must not start a cooldown window.
func (s *Store) ClearHuman(ctx context.Context, userID string, now time.Time) error {
	query := `
		INSERT INTO user_states (line_user_id, is_human_mode, updated_at)
		VALUES ($1, false, $2)
		ON CONFLICT (line_user_id)
		DO UPDATE SET is_human_mode = false, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, userID, now); err != nil {
		return fmt.Errorf("state: clear human %s: %w", userID, err)
	}
	return nil
}

// Takeover marks a conversation as human-handled from the agent console,
// without an inbound message triggering it.
func (s *Store) Takeover(ctx context.Context, userID string, now time.Time) error {
	return s.MarkHuman(ctx, userID, "", now)
}

// ResetToAI is the agent's manual "return to AI" action. It clears human
// mode and stamps last_ai_reset_at, which suppresses keyword escalation for
// the cooldown window so a trailing keyword in the same conversation does
// not immediately bounce the user back to the agent.
func (s *Store) ResetToAI(ctx context.Context, userID string, now time.Time) error {
	query := `
		INSERT INTO user_states (line_user_id, is_human_mode, last_ai_reset_at, updated_at)
		VALUES ($1, false, $2, $2)
		ON CONFLICT (line_user_id)
		DO UPDATE SET is_human_mode = false,
			last_ai_reset_at = EXCLUDED.last_ai_reset_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, userID, now); err != nil {
		return fmt.Errorf("state: reset to ai %s: %w", userID, err)
	}
	return nil
}

// List returns the most recently updated conversation states for the agent
// console.
func (s *Store) List(ctx context.Context, limit int) ([]ConversationState, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT line_user_id, is_human_mode, last_human_interaction, last_ai_reset_at,
			COALESCE(nickname, ''), updated_at
		FROM user_states
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("state: list: %w", err)
	}
	defer rows.Close()

	var out []ConversationState
	for rows.Next() {
		var st ConversationState
		if err := rows.Scan(&st.UserID, &st.HumanMode, &st.LastHumanInteraction,
			&st.LastAIReset, &st.Nickname, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("state: scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: rows: %w", err)
	}
	return out, nil
}
