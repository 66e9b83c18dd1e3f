package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/mhenrichs/notisync/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max: 120,
	}))

	webhooks := api.Group("/webhooks")
	webhooks.Post("/stripe", controllers.HandleStripeWebhook)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
