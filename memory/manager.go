package memory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/store"
)

const (
	// MaxRecall caps how many memories Recall returns.
	MaxRecall = 20

	// DefaultRecallDays is the recall window when none is given.
	DefaultRecallDays = 7
)

// Manager records memories extracted from messages and reads them back.
type Manager struct {
	store     Store
	extractor *Extractor
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithExtractor sets the extractor (and so the importance policy).
func WithExtractor(e *Extractor) Option {
	return func(m *Manager) {
		m.extractor = e
	}
}

// WithClock overrides the time source used for recall windows and
// memory timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		extractor: NewExtractor(nil),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record runs the extractor over msg and, when it is important, persists a
// memory linked to msg with the given participants. It returns nil, nil when
// the message is not important. msg must already be persisted.
func (m *Manager) Record(ctx context.Context, msg *core.Message, participants []string) (*core.Memory, error) {
	analysis := m.extractor.Analyze(msg.Text, msg.CreatedAt)
	if !analysis.Important {
		return nil, nil
	}

	mem := &core.Memory{
		ID:              uuid.New().String(),
		Category:        analysis.Category,
		Content:         msg.Text,
		OriginalMessage: core.MessageRef{ID: msg.ID, Text: msg.Text},
		Participants:    participants,
		Creator:         msg.Sender,
		ExtractedDate:   analysis.ExtractedDate,
		CreatedAt:       m.now(),
	}
	if err := m.store.SaveMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("save memory for message %s: %w", msg.ID, err)
	}

	log.Printf("[MEMORY] Stored %s memory %s from message %s (participants=%v)",
		mem.Category, mem.ID, msg.ID, participants)
	return mem, nil
}

// Recall returns up to MaxRecall memories involving userID created within the
// trailing days, newest first. An empty category matches all.
func (m *Manager) Recall(ctx context.Context, userID string, category core.Category, days int) ([]core.Memory, error) {
	if days <= 0 {
		days = DefaultRecallDays
	}

	memories, err := m.store.ListMemories(ctx, store.MemoryFilter{
		Participant: userID,
		Category:    category,
		Since:       m.now().AddDate(0, 0, -days),
		Limit:       MaxRecall,
	})
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}

	log.Printf("[MEMORY] Recalled %d memories for user=%s type=%q days=%d", len(memories), userID, category, days)
	return memories, nil
}

// Meetings returns userID's dated meeting memories, soonest first.
func (m *Manager) Meetings(ctx context.Context, userID string) ([]core.Memory, error) {
	memories, err := m.store.MeetingMemories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load meetings: %w", err)
	}
	return memories, nil
}
