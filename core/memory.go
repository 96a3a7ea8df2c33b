package core

import (
	"encoding/json"
	"time"
)

// Category classifies a Memory.
type Category string

const (
	CategoryMeeting  Category = "meeting"
	CategoryDeadline Category = "deadline"
	CategoryDecision Category = "decision"
	CategoryOther    Category = "other"
)

// ParseCategory accepts the stored category names plus a few aliases used by
// older clients ("task" and "general").
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "meeting":
		return CategoryMeeting, true
	case "deadline", "task":
		return CategoryDeadline, true
	case "decision":
		return CategoryDecision, true
	case "other", "general":
		return CategoryOther, true
	}
	return "", false
}

// MessageRef points at the message a Memory was extracted from.
type MessageRef struct {
	ID   string `json:"_id"`
	Text string `json:"text,omitempty"`
}

// Memory is a notable fact derived from exactly one message.
type Memory struct {
	ID              string
	Category        Category
	Content         string
	OriginalMessage MessageRef
	Participants    []string
	Creator         Participant
	ExtractedDate   *time.Time
	CreatedAt       time.Time
}

func (m Memory) MarshalJSON() ([]byte, error) {
	createdBy := m.Creator.wireID()
	return json.Marshal(struct {
		ID              string     `json:"_id"`
		Type            Category   `json:"type"`
		Content         string     `json:"content"`
		OriginalMessage MessageRef `json:"originalMessage"`
		Participants    []string   `json:"participants"`
		CreatedBy       string     `json:"createdBy"`
		CreatorType     string     `json:"creatorType"`
		ExtractedDate   *time.Time `json:"extractedDate,omitempty"`
		CreatedAt       time.Time  `json:"createdAt"`
	}{
		ID:              m.ID,
		Type:            m.Category,
		Content:         m.Content,
		OriginalMessage: m.OriginalMessage,
		Participants:    m.Participants,
		CreatedBy:       createdBy,
		CreatorType:     string(m.Creator.Kind()),
		ExtractedDate:   m.ExtractedDate,
		CreatedAt:       m.CreatedAt,
	})
}

// MailIntegration is a connected mailbox and its renewable credential.
type MailIntegration struct {
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	UpdatedAt    time.Time
}
