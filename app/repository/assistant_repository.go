package repository

import (
	"time"

	"github.com/mhertel/voxgate/app/models"
	"gorm.io/gorm"
)

// assistantRepository implements the AssistantRepository interface
type assistantRepository struct {
	db *gorm.DB
}

// NewAssistantRepository creates a new assistant repository instance
func NewAssistantRepository(db *gorm.DB) AssistantRepository {
	return &assistantRepository{db: db}
}

// Create creates a new assistant in the database
func (r *assistantRepository) Create(assistant *models.Assistant) error {
	return r.db.Create(assistant).Error
}

// GetByID retrieves an assistant by its ID
func (r *assistantRepository) GetByID(id uint) (*models.Assistant, error) {
	var assistant models.Assistant
	err := r.db.First(&assistant, id).Error
	if err != nil {
		return nil, err
	}
	return &assistant, nil
}

// GetByExternalRef resolves a provider-side assistant reference
func (r *assistantRepository) GetByExternalRef(ref string) (*models.Assistant, error) {
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var assistant models.Assistant
	err := r.db.Where("external_ref = ?", ref).First(&assistant).Error
	if err != nil {
		return nil, err
	}
	return &assistant, nil
}

// ListByAccount returns all non-deleted assistants for an account
func (r *assistantRepository) ListByAccount(accountID uint) ([]models.Assistant, error) {
	var assistants []models.Assistant
	err := r.db.Where("account_id = ? AND state <> ?", accountID, models.ASSISTANT_DELETED).
		Order("id ASC").Find(&assistants).Error
	return assistants, err
}

// ListByAccountAndState returns assistants for an account in a given state
func (r *assistantRepository) ListByAccountAndState(accountID uint, state string) ([]models.Assistant, error) {
	var assistants []models.Assistant
	err := r.db.Where("account_id = ? AND state = ?", accountID, state).
		Order("id ASC").Find(&assistants).Error
	return assistants, err
}

// CountByAccount counts non-deleted assistants for quota checks
func (r *assistantRepository) CountByAccount(accountID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Assistant{}).
		Where("account_id = ? AND state <> ?", accountID, models.ASSISTANT_DELETED).
		Count(&count).Error
	return count, err
}

// SetState flips an assistant state with a guarded conditional update so a
// concurrent transition never double-applies. An empty fromStates list
// means any non-deleted state may transition.
func (r *assistantRepository) SetState(id uint, toState, reason string, fromStates ...string) (bool, error) {
	updates := map[string]interface{}{
		"state":           toState,
		"disabled_reason": reason,
	}
	if toState == models.ASSISTANT_DISABLED_USAGE || toState == models.ASSISTANT_DISABLED_PAYMENT {
		now := time.Now()
		updates["disabled_at"] = &now
	}
	if toState == models.ASSISTANT_ACTIVE {
		updates["disabled_at"] = nil
		updates["disabled_reason"] = ""
	}

	query := r.db.Model(&models.Assistant{}).Where("id = ?", id)
	if len(fromStates) > 0 {
		query = query.Where("state IN ?", fromStates)
	} else {
		query = query.Where("state <> ?", models.ASSISTANT_DELETED)
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Update saves assistant changes
func (r *assistantRepository) Update(assistant *models.Assistant) error {
	return r.db.Save(assistant).Error
}
