package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mhertel/voxgate/app/controllers"
	"github.com/mhertel/voxgate/internal/pkg/constants"
	"github.com/mhertel/voxgate/internal/pkg/middleware"
	"github.com/mhertel/voxgate/internal/pkg/session"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// init session store for access-code logins
	session.NewSessionStore()

	api := app.Group(constants.APIGroup)
	v1 := api.Group(constants.APIV1Group)

	// Provider webhooks are unauthenticated by transport; the voice
	// provider has no signing support and the billing route verifies its
	// own HMAC header. No rate limiter here: retry storms are legitimate.
	webhooks := v1.Group(constants.WebhooksGroup)
	webhooks.Post("/voice", controllers.HandleVoiceWebhook)
	webhooks.Post("/billing/:provider", controllers.HandleBillingWebhook)

	// Access-code login gets a coarse per-IP limiter in front of the
	// gate's own lockout accounting.
	auth := v1.Group(constants.AuthGroup, limiter.New(limiter.Config{Max: 30}))
	auth.Post("/pin", controllers.HandlePinLogin)
	auth.Post("/logout", controllers.HandlePinLogout)

	account := v1.Group(constants.AccountGroup, middleware.AccountAuthMiddleware())
	account.Get("/", controllers.HandleAccountSummary)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
