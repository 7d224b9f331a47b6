package chatlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sender labels who produced a transcript entry.
const (
	SenderUser  = "user"
	SenderAI    = "ai"
	SenderAgent = "agent"
)

// Entry is one transcript row. Provider is only set for AI entries.
type Entry struct {
	ID        uuid.UUID
	UserID    string
	Sender    string
	Message   string
	Provider  string
	CreatedAt time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store keeps a best-effort message transcript for the operator dashboard.
// The decision engine treats every write here as optional: a failed insert
// is logged by the caller and the message flow continues.
type Store struct {
	pool querier
}

func NewStore(pool querier) *Store {
	if pool == nil {
		panic("chatlog: pgx pool required")
	}
	return &Store{pool: pool}
}

// Append inserts one transcript entry.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO chat_logs (id, line_user_id, sender, message, ai_type)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`
	if _, err := s.pool.Exec(ctx, query, e.ID, e.UserID, e.Sender, e.Message, e.Provider); err != nil {
		return fmt.Errorf("chatlog: append: %w", err)
	}
	return nil
}

// Recent returns the latest entries for a user, newest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, line_user_id, sender, message, COALESCE(ai_type, ''), created_at
		FROM chat_logs
		WHERE line_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("chatlog: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Sender, &e.Message, &e.Provider, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatlog: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatlog: rows: %w", err)
	}
	return out, nil
}
