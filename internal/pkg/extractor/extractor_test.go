package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchema(t *testing.T) {
	fields, err := ParseSchema(`[
		{"name": "budget", "type": "number", "required": true},
		{"name": "callback", "type": "boolean", "required": false},
		{"name": "city", "type": "string", "required": true}
	]`)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "budget", fields[0].Name)
	assert.True(t, fields[0].Required)
	assert.Equal(t, TypeBoolean, fields[1].Type)
}

func TestParseSchemaRejectsUnknownType(t *testing.T) {
	_, err := ParseSchema(`[{"name": "x", "type": "date"}]`)
	assert.Error(t, err)

	_, err = ParseSchema(`[{"name": "", "type": "string"}]`)
	assert.Error(t, err)
}

func TestParseSchemaEmpty(t *testing.T) {
	fields, err := ParseSchema("")
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestExtractTypedValues(t *testing.T) {
	schema := []Field{
		{Name: "budget", Type: TypeNumber, Required: true},
		{Name: "callback", Type: TypeBoolean, Required: true},
		{Name: "city", Type: TypeString, Required: true},
	}
	messages := []Message{
		{Role: "assistant", Content: "What is your budget?"},
		{Role: "user", Content: "budget: 450.50"},
		{Role: "assistant", Content: "Should we call you back?"},
		{Role: "user", Content: "callback: yes"},
		{Role: "user", Content: "city: Hamburg"},
	}

	result := Extract(schema, messages, "")
	require.Empty(t, result.Missing)
	assert.Equal(t, 450.50, result.Values["budget"])
	assert.Equal(t, true, result.Values["callback"])
	assert.Equal(t, "Hamburg", result.Values["city"])
}

func TestExtractLastAnswerWins(t *testing.T) {
	schema := []Field{{Name: "budget", Type: TypeNumber}}
	messages := []Message{
		{Role: "user", Content: "budget: 100"},
		{Role: "user", Content: "Actually no. budget: 250"},
	}

	result := Extract(schema, messages, "")
	assert.Equal(t, 250.0, result.Values["budget"])
}

func TestExtractMissingRequiredIsRecordedNotFatal(t *testing.T) {
	schema := []Field{
		{Name: "budget", Type: TypeNumber, Required: true},
		{Name: "city", Type: TypeString, Required: true},
	}
	result := Extract(schema, []Message{{Role: "user", Content: "city: Berlin"}}, "")

	assert.Equal(t, "Berlin", result.Values["city"])
	assert.Equal(t, []string{"budget"}, result.Missing)
}

func TestExtractFromTranscriptWithSpeakerPrefix(t *testing.T) {
	schema := []Field{{Name: "callback", Type: TypeBoolean, Required: true}}
	transcript := "AI: should we call back?\nUser: callback: no"

	result := Extract(schema, nil, transcript)
	assert.Equal(t, false, result.Values["callback"])
}

func TestExtractUncoercibleRequiredValueIsMissing(t *testing.T) {
	schema := []Field{{Name: "budget", Type: TypeNumber, Required: true}}
	result := Extract(schema, []Message{{Role: "user", Content: "budget: dunno"}}, "")

	assert.NotContains(t, result.Values, "budget")
	assert.Equal(t, []string{"budget"}, result.Missing)
}

func TestExtractDeterministic(t *testing.T) {
	schema := []Field{
		{Name: "budget", Type: TypeNumber, Required: true},
		{Name: "callback", Type: TypeBoolean},
	}
	messages := []Message{{Role: "user", Content: "budget: 42\ncallback: yes"}}

	first := Extract(schema, messages, "")
	second := Extract(schema, messages, "")
	assert.Equal(t, first, second)
}
