// Package callledger owns call records and the call lifecycle state
// machine. Webhook deliveries arrive concurrently and unordered, so every
// transition is guarded in storage: duplicate call-starts collapse into
// one row, duplicate call-ends meter at most once, and late updates
// against a terminal call are ignored.
package callledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/extractor"
	"github.com/mhertel/voxgate/internal/pkg/webhookevent"
)

// CallStore is the slice of the call repository the ledger needs.
type CallStore interface {
	CreateIfNotExists(call *models.Call) (created bool, stored *models.Call, err error)
	GetByExternalID(externalCallID string) (*models.Call, error)
	FinishIfActive(externalCallID string, status string, endedAt time.Time, durationSeconds int64, cost float64, endedReason string) (bool, error)
	UpdateStatusIfActive(externalCallID string, status string) (bool, error)
	AppendTranscriptIfActive(externalCallID string, segment string) (bool, error)
	SetTranscript(externalCallID string, transcript string) error
	SetExtracted(externalCallID string, extractedJSON string) error
}

// AssistantResolver resolves assistants for event attribution.
type AssistantResolver interface {
	GetByExternalRef(ref string) (*models.Assistant, error)
	GetByID(id uint) (*models.Assistant, error)
}

// UsageApplier bills a completed call against its account. Billing is
// idempotent per external call id, so the ledger may call it again on a
// redelivered call-end.
type UsageApplier interface {
	ApplyCompletedCall(ctx context.Context, accountID uint, externalCallID string, durationSeconds int64) (int64, error)
}

// Archiver stores finished-call artifacts out of band. Failures are logged
// and never fail the webhook.
type Archiver interface {
	ArchiveCall(ctx context.Context, call *models.Call) error
}

// Service applies provider lifecycle events to the call ledger.
type Service struct {
	calls      CallStore
	assistants AssistantResolver
	meter      UsageApplier
	archiver   Archiver
}

// NewService creates a call ledger service. archiver may be nil.
func NewService(calls CallStore, assistants AssistantResolver, meter UsageApplier, archiver Archiver) *Service {
	return &Service{calls: calls, assistants: assistants, meter: meter, archiver: archiver}
}

// HandleEvent dispatches a parsed webhook event to its lifecycle handler.
func (s *Service) HandleEvent(ctx context.Context, event *webhookevent.Event) error {
	switch event.Kind {
	case webhookevent.KindCallStart:
		return s.handleCallStart(ctx, event.CallStart)
	case webhookevent.KindCallEnd:
		return s.handleCallEnd(ctx, event.CallEnd)
	case webhookevent.KindStatusUpdate:
		return s.handleStatusUpdate(ctx, event.StatusUpdate)
	case webhookevent.KindTranscript:
		return s.handleTranscript(ctx, event.Transcript)
	case webhookevent.KindOther:
		log.Debugf("[CallLedger] Ignoring event type %q", event.RawType)
		return nil
	default:
		return apperrors.Validation("unhandled event kind %q", event.Kind)
	}
}

func (s *Service) handleCallStart(ctx context.Context, ev *webhookevent.CallStart) error {
	assistant, err := s.assistants.GetByExternalRef(ev.AssistantRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("assistant %q not found for call %s", ev.AssistantRef, ev.ExternalCallID)
		}
		return apperrors.Persistence("assistant lookup failed", err)
	}

	call := &models.Call{
		AssistantID:    assistant.ID,
		ExternalCallID: ev.ExternalCallID,
		PhoneNumberID:  ev.PhoneNumberID,
		CustomerID:     ev.CustomerID,
		Status:         models.CALL_IN_PROGRESS,
		StartedAt:      ev.StartedAt,
	}
	created, _, err := s.calls.CreateIfNotExists(call)
	if err != nil {
		return apperrors.Persistence("call create failed", err)
	}
	if !created {
		// Duplicate delivery; the first one won and that is fine.
		log.Debugf("[CallLedger] Duplicate call-start for %s", ev.ExternalCallID)
		return nil
	}
	log.Infof("[CallLedger] Call %s started on assistant %d", ev.ExternalCallID, assistant.ID)
	return nil
}

func (s *Service) handleCallEnd(ctx context.Context, ev *webhookevent.CallEnd) error {
	call, err := s.calls.GetByExternalID(ev.ExternalCallID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Out-of-order delivery with no call-start. Flagged, not
			// silently dropped, but also not retried: redelivery cannot
			// produce the missing call-start.
			log.Warnf("[CallLedger] call-end for unknown call %s, no matching call-start", ev.ExternalCallID)
			return nil
		}
		return apperrors.Persistence("call lookup failed", err)
	}

	duration := int64(ev.EndedAt.Sub(call.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	transitioned, err := s.calls.FinishIfActive(ev.ExternalCallID, models.CALL_COMPLETED, ev.EndedAt, duration, ev.Cost, ev.EndedReason)
	if err != nil {
		return apperrors.Persistence("call completion failed", err)
	}
	switch {
	case transitioned:
		if ev.Transcript != "" {
			if err := s.calls.SetTranscript(ev.ExternalCallID, ev.Transcript); err != nil {
				return apperrors.Persistence("transcript write failed", err)
			}
		}
	case call.Status == models.CALL_COMPLETED:
		// Duplicate call-end for a call we already completed. Billing
		// still runs: if the earlier delivery failed after the terminal
		// transition, this redelivery is the only way the minutes land.
		// The call's metered flag makes the retry exactly-once.
		duration = call.DurationSeconds
		log.Infof("[CallLedger] Duplicate call-end for %s, re-checking billing", ev.ExternalCallID)
	default:
		// Terminal through another path (failed/cancelled) or a racing
		// delivery that just won the transition. Nothing to bill here.
		log.Infof("[CallLedger] Duplicate call-end for %s ignored (already %s)", ev.ExternalCallID, call.Status)
		return nil
	}

	// Usage errors propagate so the provider redelivers; undercounting
	// usage is worse than reprocessing a webhook.
	assistant, err := s.assistants.GetByID(call.AssistantID)
	if err != nil {
		return apperrors.Persistence("assistant lookup failed", err)
	}
	if _, err := s.meter.ApplyCompletedCall(ctx, assistant.AccountID, ev.ExternalCallID, duration); err != nil {
		return err
	}

	if transitioned {
		s.extractStructured(ev, assistant)
		s.archive(ctx, call, ev, duration)
		log.Infof("[CallLedger] Call %s completed: %ds, cost %.4f", ev.ExternalCallID, duration, ev.Cost)
	}
	return nil
}

func (s *Service) handleStatusUpdate(ctx context.Context, ev *webhookevent.StatusUpdate) error {
	status, ok := webhookevent.MapProviderStatus(ev.ProviderStatus)
	if !ok {
		log.Debugf("[CallLedger] Unmapped provider status %q for call %s", ev.ProviderStatus, ev.ExternalCallID)
		return nil
	}
	if status == models.CALL_IN_PROGRESS {
		return nil
	}

	updated, err := s.calls.UpdateStatusIfActive(ev.ExternalCallID, status)
	if err != nil {
		return apperrors.Persistence("status update failed", err)
	}
	if !updated {
		// Terminal states are authoritative; a late status-update must
		// not resurrect or reclassify the call.
		log.Debugf("[CallLedger] status-update %q for call %s ignored", ev.ProviderStatus, ev.ExternalCallID)
	}
	return nil
}

func (s *Service) handleTranscript(ctx context.Context, ev *webhookevent.TranscriptSegment) error {
	if !ev.Final {
		// Partial segments are acknowledged and discarded.
		return nil
	}
	segment := ev.Text
	if ev.Role != "" {
		segment = fmt.Sprintf("%s: %s", ev.Role, ev.Text)
	}
	if _, err := s.calls.AppendTranscriptIfActive(ev.ExternalCallID, segment); err != nil {
		return apperrors.Persistence("transcript append failed", err)
	}
	return nil
}

// extractStructured runs the account-defined schema over the finished
// conversation. Extraction problems never fail the webhook; a partially
// filled record is still stored.
func (s *Service) extractStructured(ev *webhookevent.CallEnd, assistant *models.Assistant) {
	schema, err := extractor.ParseSchema(assistant.SchemaJSON)
	if err != nil {
		log.Errorf("[CallLedger] Invalid extraction schema on assistant %d: %v", assistant.ID, err)
		return
	}
	if len(schema) == 0 {
		return
	}

	messages := make([]extractor.Message, 0, len(ev.Messages))
	for _, m := range ev.Messages {
		messages = append(messages, extractor.Message{Role: m.Role, Content: m.Content})
	}
	result := extractor.Extract(schema, messages, ev.Transcript)

	encoded, err := json.Marshal(result)
	if err != nil {
		log.Errorf("[CallLedger] Failed to encode extraction for call %s: %v", ev.ExternalCallID, err)
		return
	}
	if err := s.calls.SetExtracted(ev.ExternalCallID, string(encoded)); err != nil {
		log.Errorf("[CallLedger] Failed to store extraction for call %s: %v", ev.ExternalCallID, err)
	}
}

func (s *Service) archive(ctx context.Context, call *models.Call, ev *webhookevent.CallEnd, duration int64) {
	if s.archiver == nil {
		return
	}
	archived := *call
	archived.Status = models.CALL_COMPLETED
	archived.DurationSeconds = duration
	archived.Cost = ev.Cost
	archived.Transcript = ev.Transcript
	archived.RecordingURL = ev.RecordingURL
	if err := s.archiver.ArchiveCall(ctx, &archived); err != nil {
		log.Warnf("[CallLedger] Archive failed for call %s: %v", call.ExternalCallID, err)
	}
}
