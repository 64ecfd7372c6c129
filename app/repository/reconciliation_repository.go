package repository

import (
	"errors"
	"time"

	"github.com/mhertel/voxgate/app/models"
	"gorm.io/gorm"
)

// reconciliationRepository implements the ReconciliationRepository interface
type reconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository creates a new reconciliation queue repository instance
func NewReconciliationRepository(db *gorm.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

// EnqueueIfNotPending inserts an item unless the same assistant+action is
// already waiting or in flight. Dedupe here keeps the queue small; the
// provider-side idempotence of every action is the actual safety net.
func (r *reconciliationRepository) EnqueueIfNotPending(item *models.ReconciliationItem) (bool, error) {
	enqueued := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.ReconciliationItem{}).
			Where("assistant_id = ? AND action = ? AND status IN ?",
				item.AssistantID, item.Action,
				[]string{models.ReconcileStatusPending, models.ReconcileStatusProcessing}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		enqueued = true
		return nil
	})
	return enqueued, err
}

// ClaimNext picks the highest-priority, oldest due pending item and claims
// it with a conditional status transition. The guarded UPDATE is the mutual
// exclusion between workers: whoever flips pending->processing wins, the
// loser retries on the next candidate.
func (r *reconciliationRepository) ClaimNext(now time.Time) (*models.ReconciliationItem, error) {
	for {
		var item models.ReconciliationItem
		err := r.db.Where("status = ? AND next_attempt_at <= ?", models.ReconcileStatusPending, now).
			Order("priority DESC, created_at ASC").
			First(&item).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}

		res := r.db.Model(&models.ReconciliationItem{}).
			Where("id = ? AND status = ?", item.ID, models.ReconcileStatusPending).
			Updates(map[string]interface{}{
				"status":     models.ReconcileStatusProcessing,
				"claimed_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the claim race; try the next candidate.
			continue
		}

		item.Status = models.ReconcileStatusProcessing
		item.ClaimedAt = &now
		return &item, nil
	}
}

// MarkProcessed finalizes a successfully mirrored item
func (r *reconciliationRepository) MarkProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.ReconciliationItem{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.ReconcileStatusProcessed,
			"processed_at": &now,
			"last_error":   "",
		}).Error
}

// ScheduleRetry returns a failed item to the pending pool with backoff
func (r *reconciliationRepository) ScheduleRetry(id uint, retryCount int, lastError string, nextAttemptAt time.Time) error {
	return r.db.Model(&models.ReconciliationItem{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.ReconcileStatusPending,
			"retry_count":     retryCount,
			"last_error":      lastError,
			"next_attempt_at": nextAttemptAt,
			"claimed_at":      nil,
		}).Error
}

// MarkDead parks an item after its final failed attempt
func (r *reconciliationRepository) MarkDead(id uint, retryCount int, lastError string) error {
	return r.db.Model(&models.ReconciliationItem{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.ReconcileStatusDead,
			"retry_count": retryCount,
			"last_error":  lastError,
			"claimed_at":  nil,
		}).Error
}

// Requeue resets a dead item for another round of attempts
func (r *reconciliationRepository) Requeue(id uint) (bool, error) {
	res := r.db.Model(&models.ReconciliationItem{}).
		Where("id = ? AND status = ?", id, models.ReconcileStatusDead).
		Updates(map[string]interface{}{
			"status":          models.ReconcileStatusPending,
			"retry_count":     0,
			"next_attempt_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseStuck returns long-claimed processing items to the pending pool.
// The worker that claimed them is assumed dead; provider-side idempotence
// makes a rare double-application harmless.
func (r *reconciliationRepository) ReleaseStuck(olderThan time.Time) (int64, error) {
	res := r.db.Model(&models.ReconciliationItem{}).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at < ?",
			models.ReconcileStatusProcessing, olderThan).
		Updates(map[string]interface{}{
			"status":          models.ReconcileStatusPending,
			"claimed_at":      nil,
			"next_attempt_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// GetByPublicID retrieves an item by its public UUID
func (r *reconciliationRepository) GetByPublicID(publicID string) (*models.ReconciliationItem, error) {
	var item models.ReconciliationItem
	err := r.db.Where("public_id = ?", publicID).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListByStatus returns items in a given queue status, oldest first
func (r *reconciliationRepository) ListByStatus(status string, limit int) ([]models.ReconciliationItem, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []models.ReconciliationItem
	err := r.db.Where("status = ?", status).
		Order("created_at ASC").Limit(limit).Find(&items).Error
	return items, err
}

// CountByStatus returns queue depth per status
func (r *reconciliationRepository) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.ReconciliationItem{}).
		Select("status, COUNT(*) AS total").
		Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}
