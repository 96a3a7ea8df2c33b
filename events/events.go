// Package events defines the inbound real-time events and validates their
// payloads against JSON Schema before a handler sees them.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/becomeliminal/memento/core"
)

// ErrUnknownEvent is returned for event names with no definition.
var ErrUnknownEvent = errors.New("unknown event")

// Definition describes one inbound event.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
}

// Definitions returns every event a client may send.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        core.EventPrivateMessage,
			Description: "Send a direct message to another user.",
			Schema: Object(Fields{
				"text":       Text("Message body"),
				"receiverId": Text("Recipient's user id"),
			}, "text", "receiverId"),
		},
		{
			Name:        core.EventTyping,
			Description: "Tell another user whether you are typing.",
			Schema: Object(Fields{
				"receiverId": Text("User to notify"),
				"isTyping":   Flag("Whether typing started or stopped"),
			}, "receiverId", "isTyping"),
		},
		{
			Name:        core.EventAIMessage,
			Description: "Ask the assistant something.",
			Schema: Object(Fields{
				"text":    Text("Question for the assistant"),
				"message": Text("Older clients' name for text"),
			}).AnyOf("text", "message"),
		},
	}
}

// Validator checks inbound payloads against the compiled definitions.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every definition's schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	defs := Definitions()
	urls := make(map[string]string, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal %q schema: %w", def.Name, err)
		}
		url := "https://memento.local/events/" + slug(def.Name) + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add %q schema: %w", def.Name, err)
		}
		urls[def.Name] = url
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(defs))}
	for name, url := range urls {
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %q schema: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// Validate checks data against the named event's schema. It returns
// ErrUnknownEvent for names without a definition.
func (v *Validator) Validate(name string, data json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return ErrUnknownEvent
	}

	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("null")
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode %q payload: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid %q payload: %w", name, err)
	}
	return nil
}

// Known reports whether name is a defined inbound event.
func (v *Validator) Known(name string) bool {
	_, ok := v.schemas[name]
	return ok
}

func slug(name string) string {
	return string(bytes.ReplaceAll([]byte(name), []byte(" "), []byte("-")))
}
