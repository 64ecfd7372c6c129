package repository

import (
	"time"

	"github.com/mhertel/voxgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// billingEventRepository implements the BillingEventRepository interface
type billingEventRepository struct {
	db *gorm.DB
}

// NewBillingEventRepository creates a new billing webhook event repository instance
func NewBillingEventRepository(db *gorm.DB) BillingEventRepository {
	return &billingEventRepository{db: db}
}

// CreateIfNotExists persists a payment webhook event; the unique
// provider+event-id index makes a redelivery a recognized duplicate.
func (r *billingEventRepository) CreateIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkProcessed marks an event as processed, stores an optional error and
// the account the event was attributed to
func (r *billingEventRepository) MarkProcessed(id uint, accountID uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	if accountID > 0 {
		updates["account_id"] = accountID
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).
		Updates(updates).Error
}
