// middleware/webhook_signature.go
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
)

// WebhookSignatureMiddleware verifies the X-Hub-Signature-256 HMAC that
// GitHub attaches to every delivery. The webhook source is untrusted and
// replayable; an unsigned or mis-signed delivery never reaches the
// settlement engine.
func WebhookSignatureMiddleware() fiber.Handler {
	secret := os.Getenv("GITHUB_WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("❌ GITHUB_WEBHOOK_SECRET is not set, webhook deliveries cannot be authenticated")
	}

	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Hub-Signature-256")
		if signature == "" {
			log.Printf("🚫 [WEBHOOK_SIG] Missing X-Hub-Signature-256 for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "webhook signature missing",
			})
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(c.Body())
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(expected), []byte(signature)) {
			log.Printf("❌ [WEBHOOK_SIG] Invalid signature for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid webhook signature",
			})
		}

		return c.Next()
	}
}
