package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ASSISTANT_ACTIVE           = "active"
	ASSISTANT_DISABLED_USAGE   = "disabled_usage"
	ASSISTANT_DISABLED_PAYMENT = "disabled_payment"
	ASSISTANT_DELETED          = "deleted"
)

const (
	DisableReasonUsageLimit    = "usage_limit_exceeded"
	DisableReasonPaymentFailed = "payment_failed"
)

// Assistant is a configured voice agent owned by an account and mirrored on
// the external voice provider under ExternalRef. The `deleted` state is
// terminal.
type Assistant struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	AccountID      uint       `gorm:"not null;index" json:"account_id"`
	Name           string     `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	ExternalRef    string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_ref" validate:"required"`
	State          string     `gorm:"type:varchar(32);not null;default:'active';index" json:"state" validate:"oneof=active disabled_usage disabled_payment deleted"`
	DisabledAt     *time.Time `gorm:"type:timestamp;default:null" json:"disabled_at,omitempty"`
	DisabledReason string     `gorm:"type:varchar(100);default:''" json:"disabled_reason"`
	// SchemaJSON holds the account-defined structured-response schema as a
	// JSON array of {name, type, required} entries.
	SchemaJSON string    `gorm:"type:longtext" json:"schema_json"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Assistant) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// IsActive reports whether the assistant can take calls.
func (a *Assistant) IsActive() bool {
	return a.State == ASSISTANT_ACTIVE
}

// IsDeleted reports whether the assistant reached its terminal state.
func (a *Assistant) IsDeleted() bool {
	return a.State == ASSISTANT_DELETED
}
