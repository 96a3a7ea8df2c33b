package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/memento/core"
)

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	Participant string        // required
	Category    core.Category // empty matches all
	Since       time.Time     // zero matches all
	Limit       int           // <= 0 means 20
}

// SaveMemory stores mem and its participant set atomically.
func (s *Store) SaveMemory(ctx context.Context, mem *core.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var extracted sql.NullInt64
	if mem.ExtractedDate != nil {
		extracted = sql.NullInt64{Int64: toUnix(*mem.ExtractedDate), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, category, content, message_id, creator_kind, creator_id, extracted_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, string(mem.Category), mem.Content, mem.OriginalMessage.ID,
		string(mem.Creator.Kind()), mem.Creator.ID(), extracted, toUnix(mem.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	for _, userID := range mem.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_participants (memory_id, user_id) VALUES (?, ?)`,
			mem.ID, userID,
		); err != nil {
			return fmt.Errorf("insert memory participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit memory: %w", err)
	}
	return nil
}

const memorySelect = `
	SELECT m.id, m.category, m.content, m.message_id, COALESCE(msg.text, ''),
	       m.creator_kind, m.creator_id, m.extracted_date, m.created_at
	FROM memories m
	JOIN memory_participants p ON p.memory_id = m.id
	LEFT JOIN messages msg ON msg.id = m.message_id`

// ListMemories returns memories involving f.Participant, newest first.
func (s *Store) ListMemories(ctx context.Context, f MemoryFilter) ([]core.Memory, error) {
	if f.Participant == "" {
		return nil, fmt.Errorf("list memories: participant is required")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := memorySelect + ` WHERE p.user_id = ? AND m.created_at >= ?`
	args := []interface{}{f.Participant, toUnix(f.Since)}
	if f.Category != "" {
		query += ` AND m.category = ?`
		args = append(args, string(f.Category))
	}
	query += ` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`
	args = append(args, limit)

	return s.queryMemories(ctx, query, args...)
}

// MeetingMemories returns dated meeting memories for userID, soonest first.
func (s *Store) MeetingMemories(ctx context.Context, userID string) ([]core.Memory, error) {
	return s.queryMemories(ctx, memorySelect+`
		WHERE p.user_id = ? AND m.category = 'meeting' AND m.extracted_date IS NOT NULL
		ORDER BY m.extracted_date ASC, m.rowid ASC`,
		userID,
	)
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...interface{}) ([]core.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	var memories []core.Memory
	for rows.Next() {
		var (
			mem                    core.Memory
			category               string
			creatorKind, creatorID string
			extracted              sql.NullInt64
			createdAt              int64
		)
		if err := rows.Scan(&mem.ID, &category, &mem.Content, &mem.OriginalMessage.ID, &mem.OriginalMessage.Text,
			&creatorKind, &creatorID, &extracted, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		mem.Category = core.Category(category)
		if mem.Creator, err = core.ParseParticipant(creatorKind, creatorID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("memory %s creator: %w", mem.ID, err)
		}
		if extracted.Valid {
			t := fromUnix(extracted.Int64)
			mem.ExtractedDate = &t
		}
		mem.CreatedAt = fromUnix(createdAt)
		memories = append(memories, mem)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	rows.Close()

	if err := s.loadParticipants(ctx, memories); err != nil {
		return nil, err
	}
	return memories, nil
}

// loadParticipants fills Participants for each memory. It runs after the
// memory rows are closed since the store holds a single connection.
func (s *Store) loadParticipants(ctx context.Context, memories []core.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	index := make(map[string]int, len(memories))
	placeholders := make([]string, len(memories))
	args := make([]interface{}, len(memories))
	for i, mem := range memories {
		index[mem.ID] = i
		placeholders[i] = "?"
		args[i] = mem.ID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, user_id FROM memory_participants
		WHERE memory_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY rowid`, args...)
	if err != nil {
		return fmt.Errorf("query memory participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memoryID, userID string
		if err := rows.Scan(&memoryID, &userID); err != nil {
			return fmt.Errorf("scan memory participant: %w", err)
		}
		i := index[memoryID]
		memories[i].Participants = append(memories[i].Participants, userID)
	}
	return rows.Err()
}
