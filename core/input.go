package core

// PrivateMessageInput is the payload of an inbound "private message" event.
type PrivateMessageInput struct {
	Text       string `json:"text"`
	ReceiverID string `json:"receiverId"`
}

// TypingInput is the payload of an inbound "typing" event.
type TypingInput struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// AIMessageInput is the payload of an inbound "ai message" event.
type AIMessageInput struct {
	Text string `json:"text"`

	// Message is the field name early clients used for the same text.
	Message string `json:"message,omitempty"`
}

// Prompt returns the user text, preferring Text over the legacy field.
func (in AIMessageInput) Prompt() string {
	if in.Text != "" {
		return in.Text
	}
	return in.Message
}
