package postgres

import (
	"context"
	"fmt"
	"time"

	"chatcore/internal/core"
)

// message is the row shape for chat_messages; ChatMessage's zero-value
// time.Time fields round-trip fine through sqlx without a separate model.
type message struct {
	ID          string    `db:"id"`
	PairID      string    `db:"pair_id"`
	SenderID    string    `db:"sender_id"`
	RecipientID string    `db:"recipient_id"`
	Content     string    `db:"content"`
	Type        string    `db:"type"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

func (m message) toCore() core.ChatMessage {
	return core.ChatMessage{
		ID: m.ID, PairID: m.PairID, SenderID: m.SenderID, RecipientID: m.RecipientID,
		Content: m.Content, Type: m.Type, Status: m.Status, CreatedAt: m.CreatedAt, ExpiresAt: m.ExpiresAt,
	}
}

// MessageStore persists chat messages to PostgreSQL and satisfies
// core.MessageStore. Grounded on the teacher's db_sessions.go query
// style (named-parameter-free $N placeholders via sqlx.DB.Get/Select).
type MessageStore struct {
	db *DB
}

// NewMessageStore wraps db as a core.MessageStore.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Save inserts msg and returns it with its stored status.
func (s *MessageStore) Save(ctx context.Context, msg core.ChatMessage) (core.ChatMessage, error) {
	query := `
        INSERT INTO chat_messages (id, pair_id, sender_id, recipient_id, content, type, status, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.PairID, msg.SenderID, msg.RecipientID, msg.Content, msg.Type, msg.Status, msg.CreatedAt, msg.ExpiresAt)
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// ListByRoom returns messages for pairID, newest first, paginated.
func (s *MessageStore) ListByRoom(ctx context.Context, pairID string, limit, skip int) ([]core.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []message
	query := `
        SELECT id, pair_id, sender_id, recipient_id, content, type, status, created_at, expires_at
        FROM chat_messages
        WHERE pair_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &rows, query, pairID, limit, skip); err != nil {
		return nil, fmt.Errorf("failed to list messages for pair %s: %w", pairID, err)
	}
	out := make([]core.ChatMessage, len(rows))
	for i, r := range rows {
		out[i] = r.toCore()
	}
	return out, nil
}

// MarkRead marks every not-yet-read message (sent or delivered) addressed
// to recipientID in pairID as read, returning the count updated.
func (s *MessageStore) MarkRead(ctx context.Context, pairID, recipientID string) (int, error) {
	query := `
        UPDATE chat_messages SET status = $1
        WHERE pair_id = $2 AND recipient_id = $3 AND status != $1`
	res, err := s.db.ExecContext(ctx, query, core.MessageRead, pairID, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read for pair %s: %w", pairID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count marked-read rows: %w", err)
	}
	return int(n), nil
}

// ScheduleTTL bumps expires_at for every message in pairID; actual
// deletion happens via a periodic DeleteExpired sweep (SPEC_FULL.md §6)
// rather than a database-native TTL, since Postgres has none.
func (s *MessageStore) ScheduleTTL(ctx context.Context, pairID string, expiresAt time.Time) error {
	query := `UPDATE chat_messages SET expires_at = $1 WHERE pair_id = $2`
	if _, err := s.db.ExecContext(ctx, query, expiresAt, pairID); err != nil {
		return fmt.Errorf("failed to schedule TTL for pair %s: %w", pairID, err)
	}
	return nil
}

// DeleteByRoom removes every message belonging to pairID immediately.
func (s *MessageStore) DeleteByRoom(ctx context.Context, pairID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE pair_id = $1`, pairID); err != nil {
		return fmt.Errorf("failed to delete messages for pair %s: %w", pairID, err)
	}
	return nil
}

// DeleteExpired purges every message whose expires_at has passed. Run
// periodically from main's background sweep loop.
func (s *MessageStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
