package repository

import (
	"time"

	"github.com/mhertel/voxgate/app/models"
	"gorm.io/gorm"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account in the database
func (r *accountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.First(&account, id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail retrieves an account by its email address
func (r *accountRepository) GetByEmail(email string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("email = ?", email).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByAccessCodeLookup resolves an access-code lookup digest to its account.
func (r *accountRepository) GetByAccessCodeLookup(lookup string) (*models.Account, error) {
	if lookup == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var account models.Account
	err := r.db.Where("access_code_lookup = ? AND access_code_lookup <> ''", lookup).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Update saves account changes
func (r *accountRepository) Update(account *models.Account) error {
	return r.db.Save(account).Error
}

// UpdateSubscriptionStatus sets only the subscription status column
func (r *accountRepository) UpdateSubscriptionStatus(id uint, status string) error {
	return r.db.Model(&models.Account{}).Where("id = ?", id).
		Update("subscription_status", status).Error
}

// ApplyCallUsage bills a completed call. The guarded metered-flag UPDATE
// is the idempotency claim: a redelivered call-end finds the flag set and
// increments nothing. Claim, increment and crossing audit share one
// transaction, so a failure on any write rolls the claim back and the
// next delivery retries the billing. The pre-increment value is derived
// from the re-read: usage only grows within a cycle, so current - minutes
// is exact for this write.
func (r *accountRepository) ApplyCallUsage(id uint, externalCallID string, minutes int64) (*UsageIncrementResult, error) {
	var result UsageIncrementResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.Call{}).
			Where("external_call_id = ? AND metered = ?", externalCallID, false).
			Update("metered", true)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			// Already billed by an earlier delivery.
			return nil
		}
		result.Billed = true

		res := tx.Model(&models.Account{}).Where("id = ?", id).
			Update("usage_minutes", gorm.Expr("usage_minutes + ?", minutes))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var account models.Account
		if err := tx.Select("usage_minutes", "minute_quota").First(&account, id).Error; err != nil {
			return err
		}
		result.Previous = account.UsageMinutes - minutes
		result.Current = account.UsageMinutes
		result.MinuteQuota = account.MinuteQuota

		if result.MinuteQuota > 0 && result.Previous < result.MinuteQuota && result.Current >= result.MinuteQuota {
			result.Crossed = true
			if err := tx.Create(&models.UsageThresholdEvent{
				AccountID:    id,
				EventType:    models.UsageEventLimitExceeded,
				UsageMinutes: result.Current,
				MinuteQuota:  result.MinuteQuota,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResetCycle starts a fresh billing cycle with zeroed usage
func (r *accountRepository) ResetCycle(id uint, cycleStart, cycleEnd time.Time) error {
	res := r.db.Model(&models.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"usage_minutes": 0,
		"cycle_start":   cycleStart,
		"cycle_end":     cycleEnd,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateThresholdEvent appends a usage audit event
func (r *accountRepository) CreateThresholdEvent(event *models.UsageThresholdEvent) error {
	return r.db.Create(event).Error
}

// ListThresholdEvents returns the most recent audit events for an account
func (r *accountRepository) ListThresholdEvents(accountID uint, limit int) ([]models.UsageThresholdEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.UsageThresholdEvent
	err := r.db.Where("account_id = ?", accountID).
		Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
