// Package usage converts completed calls into billed minutes and enforces
// account entitlements. The threshold path is idempotent: disabling
// assistants and writing the audit event happen exactly once per quota
// crossing, never again for later over-quota calls.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/app/repository"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/entitlements"
)

// Reconciliation priorities; disables must win over enables when the queue
// is backed up.
const (
	PriorityDisable = 10
	PriorityEnable  = 5
)

// AccountStore is the slice of the account repository the meter needs.
type AccountStore interface {
	GetByID(id uint) (*models.Account, error)
	ApplyCallUsage(id uint, externalCallID string, minutes int64) (*repository.UsageIncrementResult, error)
	ResetCycle(id uint, cycleStart, cycleEnd time.Time) error
	CreateThresholdEvent(event *models.UsageThresholdEvent) error
}

// AssistantStore is the slice of the assistant repository the meter needs.
type AssistantStore interface {
	ListByAccountAndState(accountID uint, state string) ([]models.Assistant, error)
	SetState(id uint, toState, reason string, fromStates ...string) (bool, error)
}

// Enqueuer schedules provider-side mirroring of an assistant state change.
type Enqueuer interface {
	EnqueueAssistantAction(ctx context.Context, assistant *models.Assistant, action, reason string, priority int) error
}

// ReevaluateResult reports which assistants changed state.
type ReevaluateResult struct {
	AssistantsDisabled  []uint `json:"assistants_disabled"`
	AssistantsReenabled []uint `json:"assistants_reenabled"`
}

// Meter owns usage accounting and entitlement enforcement for accounts.
type Meter struct {
	accounts   AccountStore
	assistants AssistantStore
	queue      Enqueuer
}

// NewMeter creates a usage meter from injected stores.
func NewMeter(accounts AccountStore, assistants AssistantStore, queue Enqueuer) *Meter {
	return &Meter{accounts: accounts, assistants: assistants, queue: queue}
}

// BillMinutes rounds a call duration up to whole minutes. Negative
// durations clamp to zero.
func BillMinutes(durationSeconds int64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

// ApplyCompletedCall bills a just-completed call against its account. The
// increment, the call's metered flag and the crossing audit event commit
// in one storage transaction, so a failed billing leaves no partial state
// and the provider's redelivery retries it; a redelivery of an already
// billed call is a no-op. Storage failures here must propagate: the
// webhook acknowledgement fails and the provider redelivers.
func (m *Meter) ApplyCompletedCall(ctx context.Context, accountID uint, externalCallID string, durationSeconds int64) (int64, error) {
	minutes := BillMinutes(durationSeconds)
	if minutes == 0 {
		return 0, nil
	}

	res, err := m.accounts.ApplyCallUsage(accountID, externalCallID, minutes)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperrors.NotFound("account %d not found for usage increment", accountID)
		}
		return 0, apperrors.Persistence("usage increment failed", err)
	}
	if !res.Billed {
		log.Debugf("[Usage] Call %s already billed, skipping", externalCallID)
		return 0, nil
	}
	if !res.Crossed {
		return minutes, nil
	}

	log.Warnf("[Usage] Account %d crossed minute quota: %d/%d", accountID, res.Current, res.MinuteQuota)
	if _, err := m.disableActive(ctx, accountID, models.ASSISTANT_DISABLED_USAGE, models.DisableReasonUsageLimit); err != nil {
		return minutes, err
	}
	return minutes, nil
}

// Reevaluate recomputes entitlement for an account and flips assistant
// states accordingly. It is the standalone entry point used by payment
// webhooks and billing-cycle resets, independent of the call-end path.
func (m *Meter) Reevaluate(ctx context.Context, accountID uint) (*ReevaluateResult, error) {
	account, err := m.accounts.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("account %d not found", accountID)
		}
		return nil, apperrors.Persistence("account lookup failed", err)
	}

	result := &ReevaluateResult{}
	entitled := entitlements.IsEntitlingStatus(account.SubscriptionStatus)

	if !entitled {
		disabled, err := m.disableActive(ctx, accountID, models.ASSISTANT_DISABLED_PAYMENT, models.DisableReasonPaymentFailed)
		if err != nil {
			return nil, err
		}
		result.AssistantsDisabled = disabled
		return result, nil
	}

	// Subscription is healthy again: lift payment disables.
	reenabled, err := m.reenable(ctx, accountID, models.ASSISTANT_DISABLED_PAYMENT)
	if err != nil {
		return nil, err
	}
	result.AssistantsReenabled = append(result.AssistantsReenabled, reenabled...)

	if account.OverQuota() {
		disabled, err := m.disableActive(ctx, accountID, models.ASSISTANT_DISABLED_USAGE, models.DisableReasonUsageLimit)
		if err != nil {
			return nil, err
		}
		result.AssistantsDisabled = disabled
		return result, nil
	}

	// Under quota: lift usage disables from a previous cycle or plan change.
	reenabled, err = m.reenable(ctx, accountID, models.ASSISTANT_DISABLED_USAGE)
	if err != nil {
		return nil, err
	}
	result.AssistantsReenabled = append(result.AssistantsReenabled, reenabled...)
	return result, nil
}

// ResetCycle zeroes the usage counter for a fresh billing cycle, records
// the reset in the audit trail and re-enables assistants that were only
// disabled for usage.
func (m *Meter) ResetCycle(ctx context.Context, accountID uint, cycleStart, cycleEnd time.Time) (*ReevaluateResult, error) {
	if err := m.accounts.ResetCycle(accountID, cycleStart, cycleEnd); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("account %d not found for cycle reset", accountID)
		}
		return nil, apperrors.Persistence("cycle reset failed", err)
	}

	account, err := m.accounts.GetByID(accountID)
	if err != nil {
		return nil, apperrors.Persistence("account lookup failed", err)
	}
	if err := m.accounts.CreateThresholdEvent(&models.UsageThresholdEvent{
		AccountID:    accountID,
		EventType:    models.UsageEventCycleReset,
		UsageMinutes: 0,
		MinuteQuota:  account.MinuteQuota,
	}); err != nil {
		return nil, apperrors.Persistence("cycle reset audit write failed", err)
	}

	return m.Reevaluate(ctx, accountID)
}

// AccountByID fetches an account for read-only display.
func (m *Meter) AccountByID(accountID uint) (*models.Account, error) {
	account, err := m.accounts.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("account %d not found", accountID)
		}
		return nil, apperrors.Persistence("account lookup failed", err)
	}
	return account, nil
}

// disableActive flips all currently-active assistants of an account into a
// disabled state. The guarded SetState means an assistant that raced into
// another state is skipped, so nothing is disabled twice.
func (m *Meter) disableActive(ctx context.Context, accountID uint, toState, reason string) ([]uint, error) {
	assistants, err := m.assistants.ListByAccountAndState(accountID, models.ASSISTANT_ACTIVE)
	if err != nil {
		return nil, apperrors.Persistence("assistant listing failed", err)
	}

	var disabled []uint
	for i := range assistants {
		assistant := &assistants[i]
		changed, err := m.assistants.SetState(assistant.ID, toState, reason, models.ASSISTANT_ACTIVE)
		if err != nil {
			return disabled, apperrors.Persistence("assistant disable failed", err)
		}
		if !changed {
			continue
		}
		disabled = append(disabled, assistant.ID)
		if err := m.queue.EnqueueAssistantAction(ctx, assistant, models.ReconcileActionDisable, reason, PriorityDisable); err != nil {
			log.Errorf("[Usage] Failed to enqueue disable for assistant %d: %v", assistant.ID, err)
		}
	}
	return disabled, nil
}

func (m *Meter) reenable(ctx context.Context, accountID uint, fromState string) ([]uint, error) {
	assistants, err := m.assistants.ListByAccountAndState(accountID, fromState)
	if err != nil {
		return nil, apperrors.Persistence("assistant listing failed", err)
	}

	var reenabled []uint
	for i := range assistants {
		assistant := &assistants[i]
		changed, err := m.assistants.SetState(assistant.ID, models.ASSISTANT_ACTIVE, "", fromState)
		if err != nil {
			return reenabled, apperrors.Persistence("assistant re-enable failed", err)
		}
		if !changed {
			continue
		}
		reenabled = append(reenabled, assistant.ID)
		if err := m.queue.EnqueueAssistantAction(ctx, assistant, models.ReconcileActionEnable, "entitlement_restored", PriorityEnable); err != nil {
			log.Errorf("[Usage] Failed to enqueue enable for assistant %d: %v", assistant.ID, err)
		}
	}
	return reenabled, nil
}
