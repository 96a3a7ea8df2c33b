package core

import (
	"encoding/json"
	"time"
)

// Event names on the real-time transport.
const (
	EventPrivateMessage = "private message"
	EventTyping         = "typing"
	EventAIMessage      = "ai message"
	EventAIResponse     = "ai response"
	EventUserStatus     = "user status"
	EventOnlineUsers    = "online users"
	EventError          = "error"
)

// Presence values carried by EventUserStatus.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is an outbound frame.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// Inbound is a frame received from a client, payload still undecoded.
type Inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// UserStatus announces a presence transition.
type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// TypingNotice is relayed to the receiver of a typing event.
type TypingNotice struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// AIResponse carries the assistant's reply to its requester.
type AIResponse struct {
	ID        string    `json:"_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorNotice is the only failure detail a client ever sees.
type ErrorNotice struct {
	Reason string `json:"reason"`
}

// NewErrorEvent builds an error frame with a fixed, client-safe reason.
func NewErrorEvent(reason string) Event {
	return Event{Name: EventError, Data: ErrorNotice{Reason: reason}}
}
