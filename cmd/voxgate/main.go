package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mhertel/voxgate/app/controllers"
	"github.com/mhertel/voxgate/app/repository"
	"github.com/mhertel/voxgate/internal/pkg/archive"
	"github.com/mhertel/voxgate/internal/pkg/billing"
	"github.com/mhertel/voxgate/internal/pkg/cache"
	"github.com/mhertel/voxgate/internal/pkg/callledger"
	"github.com/mhertel/voxgate/internal/pkg/constants"
	"github.com/mhertel/voxgate/internal/pkg/database"
	"github.com/mhertel/voxgate/internal/pkg/env"
	"github.com/mhertel/voxgate/internal/pkg/middleware"
	"github.com/mhertel/voxgate/internal/pkg/pinauth"
	"github.com/mhertel/voxgate/internal/pkg/reconcile"
	"github.com/mhertel/voxgate/internal/pkg/router"
	"github.com/mhertel/voxgate/internal/pkg/usage"
	"github.com/mhertel/voxgate/internal/pkg/voiceprovider"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	repos := repository.GetGlobalFactory().GetRepositories()

	provider := voiceprovider.NewClientFromEnv()
	workers, _ := strconv.Atoi(env.GetEnv("RECONCILE_WORKERS", "2"))
	queue := reconcile.NewQueue(repos.Reconciliation, provider, workers)

	meter := usage.NewMeter(repos.Account, repos.Assistant, queue)
	gate := pinauth.NewGate(repos.Account)
	billingSvc := billing.NewService(repos.Account, repos.BillingEvent, meter)

	var archiver callledger.Archiver
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		log.Fatalf("[App] Invalid archive configuration: %v", err)
	}
	if archiveCfg.IsEnabled() {
		client, err := archive.NewClient(archiveCfg)
		if err != nil {
			log.Fatalf("[App] Archive setup failed: %v", err)
		}
		archiver = client
	}

	ledger := callledger.NewService(repos.Call, repos.Assistant, meter, archiver)

	controllers.InitControllers(&controllers.Services{
		Ledger:  ledger,
		Meter:   meter,
		Billing: billingSvc,
		PinGate: gate,
		Queue:   queue,
	})

	queue.Start()
	gate.Start()

	app := newApplication()

	// Graceful shutdown: finish in-flight reconciliation before exiting.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("[App] Shutting down...")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Errorf("[App] Server stopped: %v", err)
	}

	gate.Stop()
	queue.Stop()
}

func newApplication() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	app.Use(recover.New(), logger.New())

	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// fiber metrics, ops key protected
	app.Get(constants.MetricsRoute, middleware.OpsKeyAuthMiddleware(), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
