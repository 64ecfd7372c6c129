package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mhertel/voxgate/internal/pkg/apperrors"
	"github.com/mhertel/voxgate/internal/pkg/middleware"
	"github.com/mhertel/voxgate/internal/pkg/session"
)

type pinLoginRequest struct {
	Code string `json:"code"`
}

// HandlePinLogin verifies an access code and establishes a session for the
// self-service surface. Wrong and unknown codes are indistinguishable to
// the caller.
func HandlePinLogin(c *fiber.Ctx) error {
	var req pinLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	account, err := GetServices().PinGate.Authenticate(ctx, c.IP(), req.Code)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindRateLimited:
			retryAfter := apperrors.RetryAfter(err)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "locked",
				"message": "Too many failed attempts, try again later",
			})
		case apperrors.KindNotFound, apperrors.KindValidation:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_code"})
		default:
			log.Errorf("[Auth] Access code verification failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
		}
	}

	if err := session.SetSessionValue(c, session.AccountIDKey, strconv.FormatUint(uint64(account.ID), 10)); err != nil {
		log.Errorf("[Auth] Failed to persist session for account %d: %v", account.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"account": fiber.Map{"id": account.ID, "name": account.Name, "plan": account.Plan},
	})
}

// HandlePinLogout drops the caller's session.
func HandlePinLogout(c *fiber.Ctx) error {
	if err := session.DestroySession(c); err != nil {
		log.Debugf("[Auth] Logout without session: %v", err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleAccountSummary returns usage and quota standing for the
// authenticated account.
func HandleAccountSummary(c *fiber.Ctx) error {
	accountID, ok := c.Locals(middleware.AccountContextKey).(uint)
	if !ok || accountID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	account, err := GetServices().Meter.AccountByID(accountID)
	if err != nil {
		log.Errorf("[Auth] Account %d lookup failed: %v", accountID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"account_id":          account.ID,
		"name":                account.Name,
		"plan":                account.Plan,
		"subscription_status": account.SubscriptionStatus,
		"usage_minutes":       account.UsageMinutes,
		"minute_quota":        account.MinuteQuota,
		"over_quota":          account.OverQuota(),
		"cycle_start":         account.CycleStart,
		"cycle_end":           account.CycleEnd,
	})
}
