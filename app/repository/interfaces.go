package repository

import (
	"time"

	"github.com/mhertel/voxgate/app/models"
	"gorm.io/gorm"
)

// UsageIncrementResult reports the outcome of an atomic usage increment.
// Previous/Current are the cycle usage minutes before and after the write.
// Billed is false when the call had already been billed by an earlier
// delivery; Crossed reports whether this increment crossed the quota.
type UsageIncrementResult struct {
	Previous    int64
	Current     int64
	MinuteQuota int64
	Billed      bool
	Crossed     bool
}

// AccountRepository defines the interface for account-related database operations
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id uint) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	GetByAccessCodeLookup(lookup string) (*models.Account, error)
	Update(account *models.Account) error
	UpdateSubscriptionStatus(id uint, status string) error
	// ApplyCallUsage bills one completed call in a single transaction:
	// it claims the call's metered flag, increments the cycle usage
	// counter and, on a quota crossing, writes the audit event. If any
	// write fails the whole transaction rolls back and the flag stays
	// clear, so a redelivered call-end can retry the billing.
	ApplyCallUsage(id uint, externalCallID string, minutes int64) (*UsageIncrementResult, error)
	ResetCycle(id uint, cycleStart, cycleEnd time.Time) error
	CreateThresholdEvent(event *models.UsageThresholdEvent) error
	ListThresholdEvents(accountID uint, limit int) ([]models.UsageThresholdEvent, error)
}

// AssistantRepository defines the interface for assistant-related database operations
type AssistantRepository interface {
	Create(assistant *models.Assistant) error
	GetByID(id uint) (*models.Assistant, error)
	GetByExternalRef(ref string) (*models.Assistant, error)
	ListByAccount(accountID uint) ([]models.Assistant, error)
	ListByAccountAndState(accountID uint, state string) ([]models.Assistant, error)
	CountByAccount(accountID uint) (int64, error)
	// SetState flips an assistant state only when the current state matches
	// fromStates; returns false when no row transitioned.
	SetState(id uint, toState, reason string, fromStates ...string) (bool, error)
	Update(assistant *models.Assistant) error
}

// CallRepository defines the interface for call-related database operations
type CallRepository interface {
	// CreateIfNotExists inserts a call keyed by external call id. A duplicate
	// insert is a no-op success; created reports whether this delivery won.
	CreateIfNotExists(call *models.Call) (created bool, stored *models.Call, err error)
	GetByExternalID(externalCallID string) (*models.Call, error)
	GetByID(id uint) (*models.Call, error)
	// FinishIfActive transitions the call to a terminal status only when it
	// is still non-terminal. transitioned==false means a duplicate or late
	// delivery that must not trigger metering again.
	FinishIfActive(externalCallID string, status string, endedAt time.Time, durationSeconds int64, cost float64, endedReason string) (transitioned bool, err error)
	// UpdateStatusIfActive applies a non-terminal status update only while
	// the call is still in progress.
	UpdateStatusIfActive(externalCallID string, status string) (updated bool, err error)
	AppendTranscriptIfActive(externalCallID string, segment string) (appended bool, err error)
	SetTranscript(externalCallID string, transcript string) error
	SetExtracted(externalCallID string, extractedJSON string) error
	ListByAssistant(assistantID uint, offset, limit int) ([]models.Call, error)
}

// ReconciliationRepository defines the interface for the durable provider mirror queue
type ReconciliationRepository interface {
	// EnqueueIfNotPending inserts an item unless an identical
	// assistant+action item is already waiting or being processed.
	EnqueueIfNotPending(item *models.ReconciliationItem) (enqueued bool, err error)
	// ClaimNext atomically claims the highest-priority, oldest due pending
	// item. Returns nil when the queue is empty.
	ClaimNext(now time.Time) (*models.ReconciliationItem, error)
	MarkProcessed(id uint) error
	// ScheduleRetry records the failure and makes the item claimable again
	// after the backoff delay.
	ScheduleRetry(id uint, retryCount int, lastError string, nextAttemptAt time.Time) error
	MarkDead(id uint, retryCount int, lastError string) error
	// Requeue resets a dead item for another round of attempts.
	Requeue(id uint) (bool, error)
	// ReleaseStuck returns items claimed before olderThan to the pending
	// pool; a crashed worker leaves its claim behind forever otherwise.
	ReleaseStuck(olderThan time.Time) (int64, error)
	GetByPublicID(publicID string) (*models.ReconciliationItem, error)
	ListByStatus(status string, limit int) ([]models.ReconciliationItem, error)
	CountByStatus() (map[string]int64, error)
}

// BillingEventRepository defines the interface for payment webhook persistence
type BillingEventRepository interface {
	CreateIfNotExists(event *models.BillingWebhookEvent) (created bool, stored *models.BillingWebhookEvent, err error)
	// MarkProcessed stamps the processing outcome; accountID is stored
	// when the event was attributed to an account (0 leaves it unset).
	MarkProcessed(id uint, accountID uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account        AccountRepository
	Assistant      AssistantRepository
	Call           CallRepository
	Reconciliation ReconciliationRepository
	BillingEvent   BillingEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:        NewAccountRepository(db),
		Assistant:      NewAssistantRepository(db),
		Call:           NewCallRepository(db),
		Reconciliation: NewReconciliationRepository(db),
		BillingEvent:   NewBillingEventRepository(db),
	}
}
