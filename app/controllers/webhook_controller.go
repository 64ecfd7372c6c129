package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/metrics/counter"
	"github.com/mhertel/voxgate/internal/pkg/webhookevent"
)

// HandleVoiceWebhook ingests one voice-provider delivery. The provider
// retries on any non-2xx, so only errors where a retry can help (storage
// trouble) surface as 5xx; everything else is acknowledged.
func HandleVoiceWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	event, err := webhookevent.Parse(rawBody)
	if err != nil {
		log.Warnf("[Webhook] Rejected malformed delivery: %v", err)
		recordWebhookResult("invalid", counter.OutcomeIgnored)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	if event.Kind == webhookevent.KindOther {
		recordWebhookResult(event.RawType, counter.OutcomeIgnored)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := GetServices().Ledger.HandleEvent(ctx, event); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNotFound, apperrors.KindValidation:
			// Nothing a redelivery could fix; acknowledge and move on.
			log.Warnf("[Webhook] %s delivery not applicable: %v", event.Kind, err)
			recordWebhookResult(string(event.Kind), counter.OutcomeIgnored)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		default:
			log.Errorf("[Webhook] %s delivery failed: %v", event.Kind, err)
			recordWebhookResult(string(event.Kind), counter.OutcomeFailed)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
		}
	}

	recordWebhookResult(string(event.Kind), counter.OutcomeProcessed)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// recordWebhookResult updates the Redis counters; metrics never fail a
// webhook.
func recordWebhookResult(kind string, outcome string) {
	if err := counter.AddWebhookResult(kind, outcome); err != nil {
		log.Debugf("[Webhook] Counter update failed: %v", err)
	}
}
