package repository

import (
	"time"

	"github.com/mhertel/voxgate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// callRepository implements the CallRepository interface
type callRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new call repository instance
func NewCallRepository(db *gorm.DB) CallRepository {
	return &callRepository{db: db}
}

// CreateIfNotExists inserts a call row keyed by external call id. The
// unique index makes a duplicate delivery a no-op; the stored row is
// re-read so the caller always sees the authoritative record.
func (r *callRepository) CreateIfNotExists(call *models.Call) (bool, *models.Call, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_call_id"}},
		DoNothing: true,
	}).Create(call)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Call
	if err := r.db.Where("external_call_id = ?", call.ExternalCallID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// GetByExternalID retrieves a call by its provider-side id
func (r *callRepository) GetByExternalID(externalCallID string) (*models.Call, error) {
	if externalCallID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var call models.Call
	err := r.db.Where("external_call_id = ?", externalCallID).First(&call).Error
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// GetByID retrieves a call by its local ID
func (r *callRepository) GetByID(id uint) (*models.Call, error) {
	var call models.Call
	err := r.db.First(&call, id).Error
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// FinishIfActive moves a call to a terminal status. The WHERE clause on the
// current status is the terminal guard: a redelivered call-end matches zero
// rows, so metering runs at most once per call.
func (r *callRepository) FinishIfActive(externalCallID string, status string, endedAt time.Time, durationSeconds int64, cost float64, endedReason string) (bool, error) {
	res := r.db.Model(&models.Call{}).
		Where("external_call_id = ? AND status = ?", externalCallID, models.CALL_IN_PROGRESS).
		Updates(map[string]interface{}{
			"status":           status,
			"ended_at":         endedAt,
			"duration_seconds": durationSeconds,
			"cost":             cost,
			"ended_reason":     endedReason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatusIfActive applies a status change only while the call is still
// in progress. A late update against a terminal call matches zero rows.
func (r *callRepository) UpdateStatusIfActive(externalCallID string, status string) (bool, error) {
	res := r.db.Model(&models.Call{}).
		Where("external_call_id = ? AND status = ?", externalCallID, models.CALL_IN_PROGRESS).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendTranscriptIfActive appends a finalized transcript segment to an
// in-progress call.
func (r *callRepository) AppendTranscriptIfActive(externalCallID string, segment string) (bool, error) {
	res := r.db.Model(&models.Call{}).
		Where("external_call_id = ? AND status = ?", externalCallID, models.CALL_IN_PROGRESS).
		Update("transcript", gorm.Expr("CONCAT(transcript, ?)", segment+"\n"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetTranscript replaces the stored transcript with the provider's final one
func (r *callRepository) SetTranscript(externalCallID string, transcript string) error {
	return r.db.Model(&models.Call{}).
		Where("external_call_id = ?", externalCallID).
		Update("transcript", transcript).Error
}

// SetExtracted stores the structured extraction result for a finished call
func (r *callRepository) SetExtracted(externalCallID string, extractedJSON string) error {
	return r.db.Model(&models.Call{}).
		Where("external_call_id = ?", externalCallID).
		Update("extracted_json", extractedJSON).Error
}

// ListByAssistant returns calls for an assistant, newest first
func (r *callRepository) ListByAssistant(assistantID uint, offset, limit int) ([]models.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	var calls []models.Call
	err := r.db.Where("assistant_id = ?", assistantID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&calls).Error
	return calls, err
}
