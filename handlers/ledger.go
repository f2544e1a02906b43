// handlers/ledger.go
package handlers

import (
	"bounty-reward-system/middleware"
	"bounty-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLedgerRoutes(app *fiber.App, ledgerService *services.LedgerService) {
	// Read-only surface the UI and operator console consume.
	secured := app.Group("/", middleware.ServiceAuthMiddleware())

	secured.Get("/leaderboard", ledgerService.GetLeaderboard)
	secured.Get("/users/:username/contributions", ledgerService.GetUserContributions)
	secured.Get("/issues/:githubIssueId", ledgerService.GetIssueStatus)
	secured.Get("/treasury/status", ledgerService.GetTreasuryStatus)
	secured.Get("/reconciliation", ledgerService.ListReconciliationEntries)
}
