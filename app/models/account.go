package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	SUBSCRIPTION_ACTIVE   = "active"
	SUBSCRIPTION_TRIALING = "trialing"
	SUBSCRIPTION_PAST_DUE = "past_due"
	SUBSCRIPTION_CANCELED = "canceled"
)

// Account is a billed tenant. It owns assistants and carries the running
// usage ledger for the current billing cycle. Accounts are never deleted,
// they only transition subscription status.
type Account struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	Email              string    `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Plan               string    `gorm:"type:varchar(50);default:'starter';index" json:"plan"`
	SubscriptionStatus string    `gorm:"type:varchar(32);default:'active';index" json:"subscription_status" validate:"oneof=active trialing past_due canceled"`
	UsageMinutes       int64     `gorm:"not null;default:0" json:"usage_minutes"`
	MinuteQuota        int64     `gorm:"not null;default:0" json:"minute_quota"`
	AssistantQuota     int       `gorm:"not null;default:0" json:"assistant_quota"`
	CycleStart         time.Time `gorm:"type:timestamp;autoCreateTime" json:"cycle_start"`
	CycleEnd           time.Time `gorm:"type:timestamp;autoCreateTime" json:"cycle_end"`
	AccessCodeLookup   string    `gorm:"type:varchar(64);index" json:"-"`
	AccessCodeHash     string    `gorm:"type:text" json:"-"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// HashAccessCodeLookup returns the SHA-256 hex digest used to resolve an
// account from a raw access code without a table scan.
func HashAccessCodeLookup(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SetAccessCode stores the lookup digest and the bcrypt hash for a short
// access code. The bcrypt hash is the authoritative credential check.
func (a *Account) SetAccessCode(code string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.AccessCodeLookup = HashAccessCodeLookup(code)
	a.AccessCodeHash = string(hashed)
	return nil
}

// CheckAccessCode verifies a raw access code against the stored bcrypt hash.
func (a *Account) CheckAccessCode(code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.AccessCodeHash), []byte(code)) == nil
}

// OverQuota reports whether cycle usage has reached the minute quota.
// A zero quota means unmetered.
func (a *Account) OverQuota() bool {
	return a.MinuteQuota > 0 && a.UsageMinutes >= a.MinuteQuota
}
