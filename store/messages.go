package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/becomeliminal/memento/core"
)

// MaxConversation is the most messages a transcript query returns.
const MaxConversation = 100

const messageColumns = `id, text, sender_kind, sender_id, receiver_kind, receiver_id, is_ai, created_at`

// SaveMessage appends msg. Messages are never updated afterwards.
func (s *Store) SaveMessage(ctx context.Context, msg *core.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Text,
		string(msg.Sender.Kind()), msg.Sender.ID(),
		string(msg.Receiver.Kind()), msg.Receiver.ID(),
		msg.IsAI, toUnix(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// Conversation returns the most recent limit messages exchanged between two
// users, oldest first. limit is capped at MaxConversation.
func (s *Store) Conversation(ctx context.Context, userA, userB string, limit int) ([]core.Message, error) {
	if limit <= 0 || limit > MaxConversation {
		limit = MaxConversation
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, rowid AS seq FROM messages
			WHERE sender_kind = 'user' AND receiver_kind = 'user'
			  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`,
		userA, userB, userB, userA, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return collectMessages(rows)
}

// RecentForUser returns every message sent or received by userID at or after
// since, oldest first. Assistant exchanges are included.
func (s *Store) RecentForUser(ctx context.Context, userID string, since time.Time) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE created_at >= ?
		  AND ((sender_kind = 'user' AND sender_id = ?) OR (receiver_kind = 'user' AND receiver_id = ?))
		ORDER BY created_at ASC, rowid ASC`,
		toUnix(since), userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	return collectMessages(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*core.Message, error) {
	var (
		msg                      core.Message
		senderKind, senderID     string
		receiverKind, receiverID string
		createdAt                int64
	)
	if err := row.Scan(&msg.ID, &msg.Text, &senderKind, &senderID, &receiverKind, &receiverID, &msg.IsAI, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if msg.Sender, err = core.ParseParticipant(senderKind, senderID); err != nil {
		return nil, fmt.Errorf("message %s sender: %w", msg.ID, err)
	}
	if msg.Receiver, err = core.ParseParticipant(receiverKind, receiverID); err != nil {
		return nil, fmt.Errorf("message %s receiver: %w", msg.ID, err)
	}
	msg.CreatedAt = fromUnix(createdAt)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]core.Message, error) {
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
