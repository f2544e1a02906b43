// handlers/webhook.go
package handlers

import (
	"bounty-reward-system/middleware"
	"bounty-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWebhookRoutes(app *fiber.App, webhookService *services.WebhookService) {
	// GitHub authenticates with its HMAC signature, not the service token.
	app.Post("/webhooks/github", middleware.WebhookSignatureMiddleware(), webhookService.HandleGithubWebhook)
}
