package core

import (
	"encoding/json"
	"fmt"
)

// Identity is an authenticated participant as reported by the auth collaborator.
// It is immutable for the lifetime of a connection.
type Identity struct {
	ID          string `json:"userId"`
	DisplayName string `json:"username"`
}

// ParticipantKind discriminates the Participant union.
type ParticipantKind string

const (
	KindUser ParticipantKind = "user"
	KindAI   ParticipantKind = "ai"
)

// Participant is either a real user or the assistant. The assistant carries
// no id, so it can never collide with a user id.
type Participant struct {
	kind ParticipantKind
	id   string
}

// User returns the participant for a user id.
func User(id string) Participant {
	return Participant{kind: KindUser, id: id}
}

// Assistant returns the reserved assistant participant.
func Assistant() Participant {
	return Participant{kind: KindAI}
}

// ParseParticipant rebuilds a participant from its stored (kind, id) pair.
func ParseParticipant(kind, id string) (Participant, error) {
	switch ParticipantKind(kind) {
	case KindUser:
		if id == "" {
			return Participant{}, fmt.Errorf("user participant without id")
		}
		return User(id), nil
	case KindAI:
		return Assistant(), nil
	default:
		return Participant{}, fmt.Errorf("unknown participant kind %q", kind)
	}
}

func (p Participant) Kind() ParticipantKind { return p.kind }

// ID returns the user id, or "" for the assistant.
func (p Participant) ID() string { return p.id }

func (p Participant) IsAssistant() bool { return p.kind == KindAI }

// Is reports whether p is the user with the given id.
func (p Participant) Is(userID string) bool {
	return p.kind == KindUser && p.id == userID
}

func (p Participant) String() string {
	if p.kind == KindAI {
		return "assistant"
	}
	return "user:" + p.id
}

// wireAssistant is how the assistant appears in sender/receiver fields on the
// wire. Kinds travel alongside, so clients never need to guess.
const wireAssistant = "AI_ASSISTANT"

func (p Participant) wireID() string {
	if p.kind == KindAI {
		return wireAssistant
	}
	return p.id
}

func (p Participant) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"kind": string(p.kind), "id": p.id})
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseParticipant(raw.Kind, raw.ID)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
