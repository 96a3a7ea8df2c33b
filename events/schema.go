package events

// Schema is a JSON Schema document in its decoded map form.
type Schema map[string]interface{}

// Fields maps payload field names to their schemas.
type Fields map[string]Schema

// Object describes a JSON object payload. Fields not listed are accepted.
func Object(fields Fields, required ...string) Schema {
	props := make(map[string]interface{}, len(fields))
	for name, field := range fields {
		props[name] = field
	}
	s := Schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Text describes a string field that must not be empty.
func Text(description string) Schema {
	return Schema{"type": "string", "minLength": 1, "description": description}
}

// Flag describes a boolean field.
func Flag(description string) Schema {
	return Schema{"type": "boolean", "description": description}
}

// AnyOf returns a copy of s that additionally requires at least one of names.
func (s Schema) AnyOf(names ...string) Schema {
	out := make(Schema, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	alts := make([]interface{}, 0, len(names))
	for _, name := range names {
		alts = append(alts, Schema{"required": []string{name}})
	}
	out["anyOf"] = alts
	return out
}
