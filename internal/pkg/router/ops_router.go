package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mhertel/voxgate/app/controllers"
	"github.com/mhertel/voxgate/internal/pkg/constants"
	"github.com/mhertel/voxgate/internal/pkg/middleware"
)

type OpsRouter struct {
}

// InstallRouter mounts the internal operator surface. Everything here sits
// behind the shared ops key; it is not exposed to tenants.
func (h OpsRouter) InstallRouter(app *fiber.App) {
	ops := app.Group(constants.OpsGroup, middleware.OpsKeyAuthMiddleware())

	ops.Post("/accounts/:id/reevaluate", controllers.HandleAccountReevaluate)
	ops.Post("/accounts/:id/cycle-reset", controllers.HandleAccountCycleReset)

	ops.Post("/assistants/:id/delete", controllers.HandleAssistantDelete)

	ops.Get("/reconciliation/dead", controllers.HandleReconciliationDead)
	ops.Post("/reconciliation/:id/retry", controllers.HandleReconciliationRetry)
	ops.Get("/reconciliation/stats", controllers.HandleReconciliationStats)
}

func NewOpsRouter() *OpsRouter {
	return &OpsRouter{}
}
