package webhookevent

import (
	"testing"
	"time"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

func TestParseCallStart(t *testing.T) {
	raw := []byte(`{
		"type": "call-start",
		"call": {
			"id": "call_123",
			"assistantId": "asst_456",
			"phoneNumberId": "pn_1",
			"customerId": "cust_9",
			"startedAt": "2025-06-01T10:00:00Z"
		}
	}`)

	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Kind != KindCallStart || ev.CallStart == nil {
		t.Fatalf("expected call-start variant, got kind=%q", ev.Kind)
	}
	if ev.CallStart.ExternalCallID != "call_123" || ev.CallStart.AssistantRef != "asst_456" {
		t.Fatalf("unexpected ids: call=%q assistant=%q", ev.CallStart.ExternalCallID, ev.CallStart.AssistantRef)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !ev.CallStart.StartedAt.Equal(want) {
		t.Fatalf("unexpected startedAt: %v", ev.CallStart.StartedAt)
	}
}

func TestParseCallEnd(t *testing.T) {
	raw := []byte(`{
		"type": "call-end",
		"callId": "call_123",
		"call": {
			"endedAt": "2025-06-01T10:02:05Z",
			"endedReason": "customer-ended-call",
			"cost": 0.42,
			"transcript": "AI: hello\nUser: bye",
			"recordingUrl": "https://cdn.example.com/rec.wav",
			"messages": [
				{"role": "assistant", "content": "hello"},
				{"role": "user", "content": "bye"}
			]
		}
	}`)

	ev, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Kind != KindCallEnd || ev.CallEnd == nil {
		t.Fatalf("expected call-end variant, got kind=%q", ev.Kind)
	}
	if ev.CallEnd.ExternalCallID != "call_123" {
		t.Fatalf("unexpected call id %q", ev.CallEnd.ExternalCallID)
	}
	if ev.CallEnd.Cost != 0.42 || len(ev.CallEnd.Messages) != 2 {
		t.Fatalf("unexpected cost/messages: %v / %d", ev.CallEnd.Cost, len(ev.CallEnd.Messages))
	}
}

func TestParseMissingIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no type", raw: `{"callId": "c1"}`},
		{name: "call-start without call id", raw: `{"type": "call-start", "call": {"assistantId": "a1"}}`},
		{name: "call-start without assistant", raw: `{"type": "call-start", "callId": "c1"}`},
		{name: "call-end without call id", raw: `{"type": "call-end"}`},
		{name: "status-update without status", raw: `{"type": "status-update", "callId": "c1"}`},
		{name: "not json", raw: `{{`},
	}

	for _, tt := range tests {
		_, err := Parse([]byte(tt.raw))
		if err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
		if !apperrors.IsKind(err, apperrors.KindValidation) {
			t.Fatalf("%s: expected validation kind, got %v", tt.name, err)
		}
	}
}

func TestParseUnknownTypeIsOther(t *testing.T) {
	ev, err := Parse([]byte(`{"type": "speech-update", "callId": "c1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != KindOther {
		t.Fatalf("expected other, got %q", ev.Kind)
	}
	if ev.RawType != "speech-update" {
		t.Fatalf("expected raw type to be preserved, got %q", ev.RawType)
	}
}

func TestParseTranscriptFinality(t *testing.T) {
	ev, err := Parse([]byte(`{"type": "transcript", "callId": "c1", "transcriptType": "final", "role": "user", "transcript": "yes please"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Transcript.Final {
		t.Fatalf("expected final segment")
	}

	ev, err = Parse([]byte(`{"type": "transcript", "callId": "c1", "transcriptType": "partial", "transcript": "ye"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Transcript.Final {
		t.Fatalf("expected partial segment")
	}
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "ended", want: models.CALL_COMPLETED, wantOK: true},
		{in: "error", want: models.CALL_FAILED, wantOK: true},
		{in: "customer-did-not-answer", want: models.CALL_CANCELLED, wantOK: true},
		{in: "ringing", want: models.CALL_IN_PROGRESS, wantOK: true},
		{in: "something-new", want: "", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := MapProviderStatus(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("MapProviderStatus(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
