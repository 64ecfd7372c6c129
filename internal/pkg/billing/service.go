// Package billing ingests payment-provider webhooks and keeps account
// subscription state in sync. Deliveries are deduplicated by provider event
// id; a subscription change triggers an entitlement reevaluation so
// assistants follow the account's payment standing.
package billing

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/entitlements"
	"github.com/mhertel/voxgate/internal/pkg/usage"
)

// AccountStore is the slice of the account repository billing needs.
type AccountStore interface {
	GetByEmail(email string) (*models.Account, error)
	Update(account *models.Account) error
}

// EventStore persists raw deliveries for deduplication and audit.
type EventStore interface {
	CreateIfNotExists(event *models.BillingWebhookEvent) (created bool, stored *models.BillingWebhookEvent, err error)
	MarkProcessed(id uint, accountID uint, processingError string) error
}

// Reevaluator recomputes assistant entitlement after a subscription change.
type Reevaluator interface {
	Reevaluate(ctx context.Context, accountID uint) (*usage.ReevaluateResult, error)
}

// Service processes payment provider webhooks.
type Service struct {
	accounts AccountStore
	events   EventStore
	meter    Reevaluator
}

// NewService creates a billing webhook service.
func NewService(accounts AccountStore, events EventStore, meter Reevaluator) *Service {
	return &Service{accounts: accounts, events: events, meter: meter}
}

// SubscriptionEvent is the normalized shape of a payment webhook. Both
// supported providers map onto it before processing.
type SubscriptionEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	CustomerEmail   string
	Status          string
	Plan            string
}

// ParseSubscriptionEvent decodes a provider payload into the normalized
// event shape.
func ParseSubscriptionEvent(provider string, payload []byte) (*SubscriptionEvent, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				CustomerEmail string `json:"customer_email"`
				Status        string `json:"status"`
				Plan          string `json:"plan"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, apperrors.Validation("malformed webhook payload: %v", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, apperrors.Validation("webhook payload missing event id")
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, apperrors.Validation("webhook payload missing event type")
	}
	return &SubscriptionEvent{
		Provider:        provider,
		ProviderEventID: raw.ID,
		EventType:       raw.Type,
		CustomerEmail:   strings.ToLower(strings.TrimSpace(raw.Data.Object.CustomerEmail)),
		Status:          raw.Data.Object.Status,
		Plan:            raw.Data.Object.Plan,
	}, nil
}

// ProviderStatusToSubscriptionStatus maps provider subscription vocabulary
// onto the internal status enum.
func ProviderStatusToSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "paid":
		return models.SUBSCRIPTION_ACTIVE
	case "trialing":
		return models.SUBSCRIPTION_TRIALING
	case "past_due", "unpaid":
		return models.SUBSCRIPTION_PAST_DUE
	case "canceled", "cancelled", "deleted":
		return models.SUBSCRIPTION_CANCELED
	default:
		return models.SUBSCRIPTION_ACTIVE
	}
}

// HandleEvent stores, deduplicates, and applies one payment webhook.
// Redelivered events are acknowledged without reprocessing.
func (s *Service) HandleEvent(ctx context.Context, event *SubscriptionEvent, payload []byte, signatureValid bool) error {
	record := &models.BillingWebhookEvent{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	created, stored, err := s.events.CreateIfNotExists(record)
	if err != nil {
		return apperrors.Persistence("webhook event store failed", err)
	}
	if !created {
		log.Infof("[Billing] Duplicate %s event %s ignored", event.Provider, event.ProviderEventID)
		return nil
	}

	processingErr := s.apply(ctx, event, stored)
	errText := ""
	if processingErr != nil {
		errText = processingErr.Error()
	}
	if merr := s.events.MarkProcessed(stored.ID, stored.AccountID, errText); merr != nil {
		log.Errorf("[Billing] Failed to mark event %s processed: %v", event.ProviderEventID, merr)
	}
	return processingErr
}

func (s *Service) apply(ctx context.Context, event *SubscriptionEvent, record *models.BillingWebhookEvent) error {
	if event.CustomerEmail == "" {
		log.Warnf("[Billing] Event %s has no customer email, skipping", event.ProviderEventID)
		return nil
	}

	account, err := s.accounts.GetByEmail(event.CustomerEmail)
	if err != nil {
		return apperrors.NotFound("no account for customer %s", event.CustomerEmail)
	}
	record.AccountID = account.ID

	status := ProviderStatusToSubscriptionStatus(event.Status)
	account.SubscriptionStatus = status
	if event.Plan != "" {
		plan := entitlements.NormalizePlan(event.Plan)
		limits := entitlements.PlanLimits(plan)
		account.Plan = string(plan)
		account.MinuteQuota = limits.MinuteQuota
		account.AssistantQuota = limits.AssistantQuota
	}
	if err := s.accounts.Update(account); err != nil {
		return apperrors.Persistence("account update failed", err)
	}
	log.Infof("[Billing] Account %d subscription is now %s (%s)", account.ID, status, account.Plan)

	result, err := s.meter.Reevaluate(ctx, account.ID)
	if err != nil {
		return err
	}
	if len(result.AssistantsDisabled) > 0 || len(result.AssistantsReenabled) > 0 {
		log.Infof("[Billing] Reevaluation for account %d: %d disabled, %d re-enabled", account.ID, len(result.AssistantsDisabled), len(result.AssistantsReenabled))
	}
	return nil
}

// CycleBoundary returns the start and end of the billing cycle containing
// now, anchored to calendar months.
func CycleBoundary(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}
