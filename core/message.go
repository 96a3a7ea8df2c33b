package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation errors for message construction.
var (
	ErrEmptyText       = errors.New("message text is required")
	ErrMissingReceiver = errors.New("receiver is required")
	ErrSelfAddressed   = errors.New("cannot send a message to yourself")
)

// Message is a persisted chat message. It is never mutated once stored.
type Message struct {
	ID        string
	Text      string
	Sender    Participant
	Receiver  Participant
	CreatedAt time.Time
	IsAI      bool
}

// NewDirectMessage builds a user-to-user message.
func NewDirectMessage(senderID, receiverID, text string, now time.Time) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if receiverID == "" {
		return nil, ErrMissingReceiver
	}
	if senderID == receiverID {
		return nil, ErrSelfAddressed
	}
	return &Message{
		ID:        uuid.New().String(),
		Text:      text,
		Sender:    User(senderID),
		Receiver:  User(receiverID),
		CreatedAt: now,
	}, nil
}

// NewAssistantPrompt builds the user turn of an assistant exchange.
func NewAssistantPrompt(userID, text string, now time.Time) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	return &Message{
		ID:        uuid.New().String(),
		Text:      text,
		Sender:    User(userID),
		Receiver:  Assistant(),
		CreatedAt: now,
	}, nil
}

// NewAssistantReply builds the assistant turn addressed back to userID.
func NewAssistantReply(userID, text string, now time.Time) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Text:      text,
		Sender:    Assistant(),
		Receiver:  User(userID),
		CreatedAt: now,
		IsAI:      true,
	}
}

type wireMessage struct {
	ID           string    `json:"_id"`
	Text         string    `json:"text"`
	Sender       string    `json:"sender"`
	SenderType   string    `json:"senderType"`
	Receiver     string    `json:"receiver"`
	ReceiverType string    `json:"receiverType"`
	Timestamp    time.Time `json:"timestamp"`
	IsAI         bool      `json:"isAI"`
}

// MarshalJSON renders the message in the shape chat clients consume.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:           m.ID,
		Text:         m.Text,
		Sender:       m.Sender.wireID(),
		SenderType:   string(m.Sender.Kind()),
		Receiver:     m.Receiver.wireID(),
		ReceiverType: string(m.Receiver.Kind()),
		Timestamp:    m.CreatedAt,
		IsAI:         m.IsAI,
	})
}
