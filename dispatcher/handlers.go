package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/engine"
	"github.com/becomeliminal/memento/events"
)

// Handle processes one inbound event. It never returns an error: failures
// become an error event on this session's connection.
func (s *Session) Handle(ctx context.Context, in core.Inbound) {
	s.mu.Lock()
	state, identity := s.state, s.identity
	s.mu.Unlock()

	if state != StateActive {
		s.sendError(ReasonNotAuthenticated)
		s.d.observer.EventHandled(in.Name, outcomeRejected)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		log.Printf("[DISPATCH] Rate limited %q from user=%s", in.Name, identity.ID)
		s.sendError(ReasonRateLimited)
		s.d.observer.EventHandled(in.Name, outcomeRejected)
		return
	}

	if err := s.d.validator.Validate(in.Name, in.Data); err != nil {
		reason := ReasonInvalidPayload
		if errors.Is(err, events.ErrUnknownEvent) {
			reason = ReasonUnknownEvent
		}
		log.Printf("[DISPATCH] Rejected %q from user=%s: %v", in.Name, identity.ID, err)
		s.sendError(reason)
		s.d.observer.EventHandled(in.Name, outcomeRejected)
		return
	}

	var outcome string
	switch in.Name {
	case core.EventPrivateMessage:
		outcome = s.handlePrivateMessage(ctx, identity, in.Data)
	case core.EventTyping:
		outcome = s.handleTyping(identity, in.Data)
	case core.EventAIMessage:
		// Once started an assistant turn runs to completion even if the
		// connection goes away.
		outcome = s.handleAIMessage(context.WithoutCancel(ctx), identity, in.Data)
	}
	s.d.observer.EventHandled(in.Name, outcome)
}

func (s *Session) handlePrivateMessage(ctx context.Context, self core.Identity, data json.RawMessage) string {
	var in core.PrivateMessageInput
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError(ReasonInvalidPayload)
		return outcomeRejected
	}

	msg, err := core.NewDirectMessage(self.ID, in.ReceiverID, in.Text, s.d.now())
	if err != nil {
		log.Printf("[DISPATCH] Invalid private message from user=%s: %v", self.ID, err)
		s.sendError(ReasonInvalidPayload)
		return outcomeRejected
	}

	if err := s.d.messages.SaveMessage(ctx, msg); err != nil {
		log.Printf("[DISPATCH] Failed to save message from user=%s to user=%s: %v", self.ID, in.ReceiverID, err)
		s.sendError(ReasonSendFailed)
		return outcomeFailed
	}

	s.d.recordMemory("memory:private-message", msg, []string{self.ID, in.ReceiverID})

	ev := core.Event{Name: core.EventPrivateMessage, Data: msg}
	s.send(ev)
	if conn, ok := s.d.directory.Route(in.ReceiverID); ok {
		if err := conn.Send(ev); err != nil {
			log.Printf("[DISPATCH] Failed to deliver message %s to user=%s: %v", msg.ID, in.ReceiverID, err)
		}
	}
	return outcomeOK
}

func (s *Session) handleTyping(self core.Identity, data json.RawMessage) string {
	var in core.TypingInput
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError(ReasonInvalidPayload)
		return outcomeRejected
	}
	if in.ReceiverID == self.ID {
		return outcomeOK
	}

	conn, ok := s.d.directory.Route(in.ReceiverID)
	if !ok {
		return outcomeOK
	}
	if err := conn.Send(core.Event{
		Name: core.EventTyping,
		Data: core.TypingNotice{UserID: self.ID, IsTyping: in.IsTyping},
	}); err != nil {
		log.Printf("[DISPATCH] Failed to relay typing to user=%s: %v", in.ReceiverID, err)
	}
	return outcomeOK
}

func (s *Session) handleAIMessage(ctx context.Context, self core.Identity, data json.RawMessage) string {
	if self.ID == "" {
		s.sendError(ReasonNotAuthenticated)
		return outcomeRejected
	}

	var in core.AIMessageInput
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError(ReasonInvalidPayload)
		return outcomeRejected
	}

	prompt, err := core.NewAssistantPrompt(self.ID, in.Prompt(), s.d.now())
	if err != nil {
		s.sendError(ReasonInvalidPayload)
		return outcomeRejected
	}
	if err := s.d.messages.SaveMessage(ctx, prompt); err != nil {
		log.Printf("[DISPATCH] Failed to save assistant prompt from user=%s: %v", self.ID, err)
		s.sendError(ReasonAIFailed)
		return outcomeFailed
	}

	reply := s.d.assistant.Reply(ctx, s.d.gatherContext(ctx, self, prompt))

	answer := core.NewAssistantReply(self.ID, reply.Text, s.d.now())
	if err := s.d.messages.SaveMessage(ctx, answer); err != nil {
		log.Printf("[DISPATCH] Failed to save assistant reply for user=%s: %v", self.ID, err)
		s.sendError(ReasonAIFailed)
		return outcomeFailed
	}

	s.d.recordMemory("memory:assistant-reply", answer, []string{self.ID})

	s.send(core.Event{
		Name: core.EventAIResponse,
		Data: core.AIResponse{ID: answer.ID, Message: answer.Text, Timestamp: answer.CreatedAt},
	})

	if reply.Fallback {
		return outcomeFallback
	}
	return outcomeOK
}

// gatherContext loads the user's trailing-window transcript and dated
// meetings. Either may come back empty; a read failure is logged and the
// assistant answers with what is left.
func (d *Dispatcher) gatherContext(ctx context.Context, self core.Identity, prompt *core.Message) engine.ReplyInput {
	in := engine.ReplyInput{
		UserID:      self.ID,
		DisplayName: self.DisplayName,
		Prompt:      prompt.Text,
		Now:         prompt.CreatedAt,
	}

	recent, err := d.messages.RecentForUser(ctx, self.ID, prompt.CreatedAt.Add(-ContextWindow))
	if err != nil {
		log.Printf("[DISPATCH] Failed to load recent messages for user=%s: %v", self.ID, err)
	}
	for _, msg := range recent {
		if msg.ID != prompt.ID {
			in.Transcript = append(in.Transcript, msg)
		}
	}

	meetings, err := d.memories.Meetings(ctx, self.ID)
	if err != nil {
		log.Printf("[DISPATCH] Failed to load meetings for user=%s: %v", self.ID, err)
	}
	in.Meetings = meetings

	return in
}

// recordMemory submits memory extraction for msg as a best-effort task.
func (d *Dispatcher) recordMemory(name string, msg *core.Message, participants []string) {
	d.tasks.Submit(name, func(ctx context.Context) error {
		_, err := d.memories.Record(ctx, msg, participants)
		return err
	})
}
