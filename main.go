package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mhenrichs/notisync/app/controllers"
	"github.com/mhenrichs/notisync/internal/pkg/cache"
	"github.com/mhenrichs/notisync/internal/pkg/config"
	"github.com/mhenrichs/notisync/internal/pkg/database"
	"github.com/mhenrichs/notisync/internal/pkg/env"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/mhenrichs/notisync/internal/pkg/router"
	"github.com/mhenrichs/notisync/internal/pkg/stripeapi"
	"github.com/mhenrichs/notisync/internal/pkg/sweep"
	"github.com/mhenrichs/notisync/internal/pkg/syncer"
)

func main() {
	app, manager := NewApplication()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		manager.Stop()
		_ = app.Shutdown()
	}()

	manager.Start()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *sweep.Manager) {
	env.SetupEnvFile()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	database.SetupDatabase()
	cache.SetupCache()

	stripeClient := stripeapi.New(cfg.StripeAPIKey)
	notionClient := notionapi.New(cfg.NotionSecret, cfg.NotionInvoicesDatabase, cfg.NotionClientsDatabase)
	repo := syncer.NewRepository(database.GetDB())
	dedup := syncer.NewEventDeduper(cache.GetClient(), cfg.EventRetention)
	service := syncer.NewService(stripeClient, notionClient, repo, dedup)
	manager := sweep.NewManager(service, stripeClient, notionClient, repo, cfg)

	controllers.InitializeWebhookController(service, cfg)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // 1 MiB, webhook payloads are small
	})
	app.Use(recover.New(), logger.New())

	if user := env.GetEnv("METRICS_USER", ""); user != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{user: env.GetEnv("METRICS_PASSWORD", "")},
		}), monitor.New())
	}

	router.InstallRouter(app)

	return app, manager
}
