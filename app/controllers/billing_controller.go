package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/billing"
	"github.com/mhertel/voxgate/internal/pkg/env"
)

// HandleBillingWebhook ingests one payment-provider delivery. Signature
// failures are rejected before any processing; duplicates are acknowledged
// without reprocessing.
func HandleBillingWebhook(c *fiber.Ctx) error {
	provider := normalizeBillingProvider(c.Params("provider"))
	if provider == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))
	secret := env.GetEnv("BILLING_WEBHOOK_SECRET", "")

	signatureValid := billing.VerifyWebhookSignature(rawBody, signature, secret)
	if !signatureValid {
		log.Warnf("[Billing] Rejected %s webhook with invalid signature", provider)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	event, err := billing.ParseSubscriptionEvent(provider, rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := GetServices().Billing.HandleEvent(ctx, event, rawBody, signatureValid); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindNotFound:
			// No local account for this customer; nothing to retry.
			log.Warnf("[Billing] %s event %s ignored: %v", provider, event.ProviderEventID, err)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		default:
			log.Errorf("[Billing] %s event %s failed: %v", provider, event.ProviderEventID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func normalizeBillingProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case models.BillingProviderStripe:
		return models.BillingProviderStripe
	case models.BillingProviderPaddle:
		return models.BillingProviderPaddle
	default:
		return ""
	}
}
