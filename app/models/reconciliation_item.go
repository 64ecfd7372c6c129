package models

import "time"

const (
	ReconcileActionDisable = "disable"
	ReconcileActionEnable  = "enable"
	ReconcileActionDelete  = "delete"
	ReconcileActionUpdate  = "update"
)

const (
	ReconcileStatusPending    = "pending"
	ReconcileStatusProcessing = "processing"
	ReconcileStatusProcessed  = "processed"
	ReconcileStatusDead       = "dead"
)

// ReconcileMaxAttempts is the attempt ceiling after which an item is marked
// dead and surfaced for operator attention instead of retried.
const ReconcileMaxAttempts = 5

// ReconciliationItem is a durable unit of work mirroring a local
// assistant-state change to the external voice provider. Items are claimed
// with an atomic conditional status transition so two workers can never
// process the same item, and every action must be idempotent on the
// provider side.
type ReconciliationItem struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	PublicID      string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	AssistantID   uint       `gorm:"not null;index" json:"assistant_id"`
	ExternalRef   string     `gorm:"type:varchar(191);not null;index" json:"external_ref"`
	Action        string     `gorm:"type:varchar(20);not null" json:"action"`
	Reason        string     `gorm:"type:varchar(100);default:''" json:"reason"`
	Priority      int        `gorm:"not null;default:0;index:idx_reconciliation_claim,priority:2" json:"priority"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_reconciliation_claim,priority:1" json:"status"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	NextAttemptAt time.Time  `gorm:"type:timestamp;autoCreateTime;index" json:"next_attempt_at"`
	ClaimedAt     *time.Time `gorm:"type:timestamp;default:null" json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRetryable reports whether the item may be attempted again.
func (r *ReconciliationItem) IsRetryable() bool {
	return r.RetryCount < ReconcileMaxAttempts
}

// IsFinal reports whether the item reached a terminal queue status.
func (r *ReconciliationItem) IsFinal() bool {
	return r.Status == ReconcileStatusProcessed || r.Status == ReconcileStatusDead
}
