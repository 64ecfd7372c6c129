// Package extractor pulls typed fields out of a finished conversation
// according to an account-defined question schema. It is a pure function
// over its inputs: no I/O, no clock, so the same schema and conversation
// always produce the same result.
package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

// Field is one entry of the ordered extraction schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Result holds the extracted values plus the names of required fields that
// could not be found. A partially filled record is still a valid result.
type Result struct {
	Values  map[string]interface{} `json:"values"`
	Missing []string               `json:"missing,omitempty"`
}

// ParseSchema decodes and validates a schema JSON array.
func ParseSchema(raw string) ([]Field, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	var fields []Field
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("invalid extraction schema: %w", err)
	}
	for i, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("extraction schema field %d has no name", i)
		}
		switch f.Type {
		case TypeString, TypeNumber, TypeBoolean:
		default:
			return nil, fmt.Errorf("extraction schema field %q has unsupported type %q", f.Name, f.Type)
		}
	}
	return fields, nil
}

// Extract walks the conversation and fills the schema. Candidate answers
// are "name: value" lines anywhere in the messages or the transcript; the
// last matching line wins so corrections later in the call override
// earlier answers.
func Extract(schema []Field, messages []Message, transcript string) Result {
	result := Result{Values: make(map[string]interface{}, len(schema))}
	if len(schema) == 0 {
		return result
	}

	lines := conversationLines(messages, transcript)
	for _, field := range schema {
		raw, found := lastAnswer(lines, field.Name)
		if !found {
			if field.Required {
				result.Missing = append(result.Missing, field.Name)
			}
			continue
		}
		value, ok := coerce(raw, field.Type)
		if !ok {
			if field.Required {
				result.Missing = append(result.Missing, field.Name)
			}
			continue
		}
		result.Values[field.Name] = value
	}
	return result
}

func conversationLines(messages []Message, transcript string) []string {
	var lines []string
	for _, m := range messages {
		for _, line := range strings.Split(m.Content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
	}
	for _, line := range strings.Split(transcript, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// lastAnswer finds the last "name: value" or "name = value" line for a
// field, matching the name case-insensitively.
func lastAnswer(lines []string, name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	answer := ""
	found := false
	for _, line := range lines {
		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		// Allow a speaker prefix such as "User: budget: 400".
		if idx := strings.LastIndex(key, ":"); idx >= 0 {
			key = strings.TrimSpace(key[idx+1:])
		}
		if key != needle {
			continue
		}
		value := strings.TrimSpace(line[sep+1:])
		if value == "" {
			continue
		}
		answer = value
		found = true
	}
	return answer, found
}

func coerce(raw string, fieldType FieldType) (interface{}, bool) {
	v := strings.TrimSpace(raw)
	switch fieldType {
	case TypeString:
		return v, v != ""
	case TypeNumber:
		cleaned := strings.TrimRight(v, ".,!?")
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case TypeBoolean:
		switch strings.ToLower(strings.TrimRight(v, ".,!?")) {
		case "true", "yes", "y", "yeah", "correct", "ja":
			return true, true
		case "false", "no", "n", "nope", "nein":
			return false, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}
