package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/mhenrichs/notisync/internal/pkg/config"
	"github.com/mhenrichs/notisync/internal/pkg/stripeapi"
	"github.com/mhenrichs/notisync/internal/pkg/syncer"
)

var (
	syncService   *syncer.Service
	webhookSecret string
)

// InitializeWebhookController wires the sync service and webhook secret into
// the package-level handlers. Must run before the router installs routes.
func InitializeWebhookController(service *syncer.Service, cfg *config.Config) {
	syncService = service
	webhookSecret = cfg.StripeWebhookSecret
}

// HandleStripeWebhook receives Stripe invoice events. Only signature
// failures are rejected; processing errors are answered with 200 so Stripe
// does not retry an event the sweep will repair anyway.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	event, err := stripeapi.ParseWebhookEvent(rawBody, signature, webhookSecret)
	if err != nil {
		log.Warnf("[Webhook] Rejected request: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := syncService.HandleStripeEvent(ctx, event)
	switch {
	case err != nil:
		log.Errorf("[Webhook] Processing failed: %v", err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": false, "deferred": true})
	case result.Duplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case result.Ignored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": string(result.Outcome)})
	}
}

// HandleHealth is the liveness endpoint.
func HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
