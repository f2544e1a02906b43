// services/ledger_service.go
package services

import (
	"errors"
	"log"
	"strconv"

	"bounty-reward-system/chain"
	"bounty-reward-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LedgerService serves the read-only query surface the UI layer consumes.
// No endpoint here mutates settlement state.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// GetLeaderboard returns contributors ranked by completed payout count.
func (s *LedgerService) GetLeaderboard(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	type leaderboardRow struct {
		GithubUsername string `json:"github_username"`
		Contributions  int64  `json:"contributions"`
	}

	var rows []leaderboardRow
	if err := s.DB.Model(&models.Contribution{}).
		Select("users.github_username AS github_username, COUNT(contributions.id) AS contributions").
		Joins("JOIN users ON users.id = contributions.contributor_id").
		Group("users.github_username").
		Order("contributions DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		log.Printf("[LEDGER] leaderboard query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch leaderboard"})
	}
	return c.JSON(rows)
}

// GetUserContributions lists a contributor's completed payouts, newest first.
func (s *LedgerService) GetUserContributions(c *fiber.Ctx) error {
	username := c.Params("username")

	var user models.User
	if err := s.DB.Where("github_username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var contributions []models.Contribution
	if err := s.DB.Where("contributor_id = ?", user.ID).
		Order("completed_at DESC").
		Find(&contributions).Error; err != nil {
		log.Printf("[LEDGER] contributions query failed for %s: %v", username, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch contributions"})
	}
	return c.JSON(contributions)
}

// GetIssueStatus returns an issue's reward state by its GitHub id.
func (s *LedgerService) GetIssueStatus(c *fiber.Ctx) error {
	githubIssueID, err := strconv.ParseInt(c.Params("githubIssueId"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid issue id"})
	}

	var issue models.Issue
	if err := s.DB.Where("github_issue_id = ?", githubIssueID).First(&issue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "issue not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(issue)
}

// GetTreasuryStatus returns the latest treasury snapshot with its USD
// reference value.
func (s *LedgerService) GetTreasuryStatus(c *fiber.Ctx) error {
	var snapshot models.TreasurySnapshot
	if err := s.DB.Order("checked_at DESC").First(&snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no treasury snapshot yet"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fiber.Map{
		"address":         snapshot.Address,
		"sol_balance":     snapshot.SolBalance,
		"token_balance":   snapshot.TokenBalance,
		"token_usd_value": snapshot.TokenUSDValue,
		"token_price_usd": chain.EosPriceUSD,
		"below_floor":     snapshot.BelowFloor,
		"checked_at":      snapshot.CheckedAt,
	})
}

// ListReconciliationEntries lists flagged settlements, unresolved first,
// for the operator console.
func (s *LedgerService) ListReconciliationEntries(c *fiber.Ctx) error {
	var entries []models.ReconciliationEntry
	if err := s.DB.Order("resolved ASC, created_at DESC").Find(&entries).Error; err != nil {
		log.Printf("[LEDGER] reconciliation query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch reconciliation entries"})
	}
	return c.JSON(entries)
}
