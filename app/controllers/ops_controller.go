package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/app/repository"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/billing"
	"github.com/mhertel/voxgate/internal/pkg/metrics/counter"
)

// HandleAccountReevaluate recomputes entitlement for one account on
// operator demand, typically after a manual plan or quota change.
func HandleAccountReevaluate(c *fiber.Ctx) error {
	accountID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || accountID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_account_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := GetServices().Meter.Reevaluate(ctx, uint(accountID))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account_not_found"})
		}
		log.Errorf("[Ops] Reevaluation of account %d failed: %v", accountID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reevaluate_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleAccountCycleReset starts a fresh billing cycle for one account.
func HandleAccountCycleReset(c *fiber.Ctx) error {
	accountID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || accountID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_account_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cycleStart, cycleEnd := billing.CycleBoundary(time.Now())
	result, err := GetServices().Meter.ResetCycle(ctx, uint(accountID), cycleStart, cycleEnd)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account_not_found"})
		}
		log.Errorf("[Ops] Cycle reset of account %d failed: %v", accountID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cycle_reset_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"cycle_start": cycleStart,
		"cycle_end":   cycleEnd,
		"result":      result,
	})
}

// HandleAssistantDelete retires an assistant. The local record flips to
// deleted immediately; removal on the provider side goes through the
// reconciliation queue so a provider outage cannot leave the two views
// permanently diverged.
func HandleAssistantDelete(c *fiber.Ctx) error {
	assistantID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || assistantID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_assistant_id"})
	}

	repo := repository.GetGlobalFactory().GetAssistantRepository()
	assistant, err := repo.GetByID(uint(assistantID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "assistant_not_found"})
		}
		log.Errorf("[Ops] Assistant %d lookup failed: %v", assistantID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	deleted, err := repo.SetState(assistant.ID, models.ASSISTANT_DELETED, "operator_delete")
	if err != nil {
		log.Errorf("[Ops] Delete of assistant %d failed: %v", assistantID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete_failed"})
	}
	if !deleted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_deleted"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := GetServices().Queue.EnqueueAssistantAction(ctx, assistant, models.ReconcileActionDelete, "operator_delete", 0); err != nil {
		log.Errorf("[Ops] Enqueue of delete for assistant %d failed: %v", assistantID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}

	log.Infof("[Ops] Assistant %d marked deleted, provider removal queued", assistantID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleReconciliationDead lists items that exhausted their retries.
func HandleReconciliationDead(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	repo := repository.GetGlobalFactory().GetReconciliationRepository()
	items, err := repo.ListByStatus(models.ReconcileStatusDead, limit)
	if err != nil {
		log.Errorf("[Ops] Dead item listing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "listing_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"items": items, "count": len(items)})
}

// HandleReconciliationRetry requeues one dead item for a fresh round of
// attempts.
func HandleReconciliationRetry(c *fiber.Ctx) error {
	publicID := c.Params("id")

	repo := repository.GetGlobalFactory().GetReconciliationRepository()
	item, err := repo.GetByPublicID(publicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "item_not_found"})
		}
		log.Errorf("[Ops] Item %s lookup failed: %v", publicID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	requeued, err := repo.Requeue(item.ID)
	if err != nil {
		log.Errorf("[Ops] Requeue of item %s failed: %v", publicID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "requeue_failed"})
	}
	if !requeued {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_dead", "status": item.Status})
	}

	log.Infof("[Ops] Item %s requeued", publicID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleReconciliationStats reports queue depth by status plus the webhook
// processing counters.
func HandleReconciliationStats(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetReconciliationRepository()
	counts, err := repo.CountByStatus()
	if err != nil {
		log.Errorf("[Ops] Queue stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_failed"})
	}

	webhooks, err := counter.Snapshot()
	if err != nil {
		log.Debugf("[Ops] Webhook counter snapshot failed: %v", err)
		webhooks = map[string]int64{}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"queue":    counts,
		"webhooks": webhooks,
	})
}
