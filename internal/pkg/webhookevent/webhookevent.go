// Package webhookevent classifies inbound voice-provider webhook payloads
// into typed variants. The payload's type tag is inspected before any
// type-specific field is touched; unknown types parse into an Other event
// so future provider event kinds stay forward compatible.
package webhookevent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

type Kind string

const (
	KindCallStart    Kind = "call-start"
	KindCallEnd      Kind = "call-end"
	KindStatusUpdate Kind = "status-update"
	KindTranscript   Kind = "transcript"
	KindOther        Kind = "other"
)

// Message is one conversation turn as delivered by the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallStart announces a new live call on a provider-side assistant.
type CallStart struct {
	ExternalCallID string
	AssistantRef   string
	PhoneNumberID  string
	CustomerID     string
	StartedAt      time.Time
}

// CallEnd carries the terminal outcome of a call.
type CallEnd struct {
	ExternalCallID string
	EndedAt        time.Time
	EndedReason    string
	Cost           float64
	Transcript     string
	RecordingURL   string
	Messages       []Message
}

// StatusUpdate carries a provider-vocabulary status change for a live call.
type StatusUpdate struct {
	ExternalCallID string
	ProviderStatus string
}

// TranscriptSegment is one streamed transcript fragment. Only final
// segments are kept; partials are acknowledged and discarded.
type TranscriptSegment struct {
	ExternalCallID string
	Role           string
	Text           string
	Final          bool
}

// Event is the discriminated result of parsing one webhook delivery.
// Exactly one variant pointer is set for known kinds.
type Event struct {
	Kind         Kind
	RawType      string
	CallStart    *CallStart
	CallEnd      *CallEnd
	StatusUpdate *StatusUpdate
	Transcript   *TranscriptSegment
}

// Parse classifies a provider webhook payload. Payloads missing the fields
// needed to attribute the event fail with a validation error; the caller
// acknowledges those without retry since redelivery cannot fix them.
func Parse(payload []byte) (*Event, error) {
	type rawCall struct {
		ID            string          `json:"id"`
		AssistantID   string          `json:"assistantId"`
		PhoneNumberID string          `json:"phoneNumberId"`
		CustomerID    string          `json:"customerId"`
		StartedAt     string          `json:"startedAt"`
		EndedAt       string          `json:"endedAt"`
		EndedReason   string          `json:"endedReason"`
		Cost          float64         `json:"cost"`
		Transcript    string          `json:"transcript"`
		RecordingURL  string          `json:"recordingUrl"`
		Messages      []Message       `json:"messages"`
		CostBreakdown json.RawMessage `json:"costBreakdown"`
	}
	type rawPayload struct {
		Type           string  `json:"type"`
		CallID         string  `json:"callId"`
		Status         string  `json:"status"`
		TranscriptType string  `json:"transcriptType"`
		Transcript     string  `json:"transcript"`
		Role           string  `json:"role"`
		Call           rawCall `json:"call"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, apperrors.Validation("malformed webhook payload: %v", err)
	}

	eventType := strings.ToLower(strings.TrimSpace(raw.Type))
	if eventType == "" {
		return nil, apperrors.Validation("webhook payload missing type")
	}

	callID := strings.TrimSpace(raw.CallID)
	if callID == "" {
		callID = strings.TrimSpace(raw.Call.ID)
	}

	switch Kind(eventType) {
	case KindCallStart:
		if callID == "" {
			return nil, apperrors.Validation("call-start payload missing call id")
		}
		assistantRef := strings.TrimSpace(raw.Call.AssistantID)
		if assistantRef == "" {
			return nil, apperrors.Validation("call-start payload missing assistant id")
		}
		startedAt := parseTimestamp(raw.Call.StartedAt, time.Now())
		return &Event{Kind: KindCallStart, RawType: raw.Type, CallStart: &CallStart{
			ExternalCallID: callID,
			AssistantRef:   assistantRef,
			PhoneNumberID:  strings.TrimSpace(raw.Call.PhoneNumberID),
			CustomerID:     strings.TrimSpace(raw.Call.CustomerID),
			StartedAt:      startedAt,
		}}, nil

	case KindCallEnd:
		if callID == "" {
			return nil, apperrors.Validation("call-end payload missing call id")
		}
		endedAt := parseTimestamp(raw.Call.EndedAt, time.Now())
		return &Event{Kind: KindCallEnd, RawType: raw.Type, CallEnd: &CallEnd{
			ExternalCallID: callID,
			EndedAt:        endedAt,
			EndedReason:    strings.TrimSpace(raw.Call.EndedReason),
			Cost:           raw.Call.Cost,
			Transcript:     raw.Call.Transcript,
			RecordingURL:   strings.TrimSpace(raw.Call.RecordingURL),
			Messages:       raw.Call.Messages,
		}}, nil

	case KindStatusUpdate:
		if callID == "" {
			return nil, apperrors.Validation("status-update payload missing call id")
		}
		status := strings.ToLower(strings.TrimSpace(raw.Status))
		if status == "" {
			return nil, apperrors.Validation("status-update payload missing status")
		}
		return &Event{Kind: KindStatusUpdate, RawType: raw.Type, StatusUpdate: &StatusUpdate{
			ExternalCallID: callID,
			ProviderStatus: status,
		}}, nil

	case KindTranscript:
		if callID == "" {
			return nil, apperrors.Validation("transcript payload missing call id")
		}
		return &Event{Kind: KindTranscript, RawType: raw.Type, Transcript: &TranscriptSegment{
			ExternalCallID: callID,
			Role:           strings.TrimSpace(raw.Role),
			Text:           raw.Transcript,
			Final:          strings.EqualFold(strings.TrimSpace(raw.TranscriptType), "final"),
		}}, nil

	default:
		// Unknown event kinds are acknowledged with no side effects.
		return &Event{Kind: KindOther, RawType: raw.Type}, nil
	}
}

// MapProviderStatus translates the provider status vocabulary onto the
// internal call status enum. ok is false for vocabulary we do not track.
func MapProviderStatus(providerStatus string) (status string, ok bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "queued", "ringing", "in-progress", "forwarding":
		return models.CALL_IN_PROGRESS, true
	case "ended", "completed":
		return models.CALL_COMPLETED, true
	case "failed", "error":
		return models.CALL_FAILED, true
	case "cancelled", "canceled", "busy", "no-answer", "customer-did-not-answer":
		return models.CALL_CANCELLED, true
	default:
		return "", false
	}
}

func parseTimestamp(value string, fallback time.Time) time.Time {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts
	}
	return fallback
}
