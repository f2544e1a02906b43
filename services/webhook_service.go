// services/webhook_service.go
package services

import (
	"errors"
	"log"
	"regexp"
	"strconv"

	"bounty-reward-system/chain"

	"github.com/gofiber/fiber/v2"
)

// Grammar for closing references in a PR body: one of the keywords
// closes/fixes/resolves, whitespace, then #<number>. Case-insensitive,
// first match wins. Output is untrusted input to settlement
// preconditions, never authority that the issue is actually open.
var closingRefPattern = regexp.MustCompile(`(?i)\b(?:closes|fixes|resolves)\s+#(\d+)`)

// ParseClosingIssueID extracts the first closing issue reference from a
// PR body. ok is false when the body carries no reference.
func ParseClosingIssueID(body string) (issueID int64, ok bool) {
	m := closingRefPattern.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// WebhookService turns inbound GitHub deliveries into settlement calls.
type WebhookService struct {
	Settlement *SettlementService
}

func NewWebhookService(settlement *SettlementService) *WebhookService {
	return &WebhookService{Settlement: settlement}
}

// githubPullRequestEvent is the slice of the webhook payload we read.
type githubPullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest *struct {
		Merged bool   `json:"merged"`
		Body   string `json:"body"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
}

// HandleGithubWebhook processes one delivery. Only a merged pull_request
// closure with a closing reference triggers settlement; everything else
// is acknowledged and dropped, since GitHub retries non-200 responses.
func (s *WebhookService) HandleGithubWebhook(c *fiber.Ctx) error {
	if c.Get("X-GitHub-Event") != "pull_request" {
		return c.JSON(fiber.Map{"message": "Event received, but no action taken."})
	}

	var payload githubPullRequestEvent
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook payload"})
	}

	if payload.Action != "closed" || payload.PullRequest == nil || !payload.PullRequest.Merged {
		return c.JSON(fiber.Map{"message": "Event received, but no action taken."})
	}

	username := payload.PullRequest.User.Login
	issueID, ok := ParseClosingIssueID(payload.PullRequest.Body)
	if !ok || username == "" {
		return c.JSON(fiber.Map{"message": "Event received, but no action taken."})
	}

	log.Printf("[WEBHOOK] PR merged by %s, settling issue #%d", username, issueID)

	contribution, err := s.Settlement.SettleReward(c.Context(), issueID, username)
	if err != nil {
		return s.respondSettlementError(c, issueID, err)
	}

	return c.JSON(fiber.Map{"message": "Contributor rewarded!", "contribution": contribution})
}

// respondSettlementError maps the settlement error taxonomy onto HTTP:
// duplicates read as success, input/policy rejections are 400s the sender
// may or may not retry, infrastructure and ambiguous failures are 500s
// logged with full context.
func (s *WebhookService) respondSettlementError(c *fiber.Ctx, issueID int64, err error) error {
	var securityErr *SecurityCheckError
	var suspicionErr *SuspiciousActivityError
	var transferErr *chain.TransferError
	var commitErr *CommitError

	switch {
	case errors.Is(err, ErrAlreadyRewarded):
		// Duplicate delivery; the issue is rewarded either way.
		log.Printf("[WEBHOOK] duplicate delivery for issue #%d: %v", issueID, err)
		return c.JSON(fiber.Map{"message": "Issue already rewarded."})

	case errors.Is(err, ErrIssueNotFound),
		errors.Is(err, ErrUserNotRegistered),
		errors.Is(err, ErrIssueNotOpen),
		errors.Is(err, ErrNoWalletLinked),
		errors.Is(err, ErrNoRewardSet):
		log.Printf("[WEBHOOK] settlement rejected for issue #%d: %v", issueID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})

	case errors.As(err, &securityErr), errors.As(err, &suspicionErr):
		log.Printf("[WEBHOOK] ⚠️ policy rejection for issue #%d: %v", issueID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, ErrTransactionUnverified), errors.As(err, &commitErr):
		log.Printf("[WEBHOOK] ❌ issue #%d needs manual reconciliation: %v", issueID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement requires manual review"})

	case errors.As(err, &transferErr):
		log.Printf("[WEBHOOK] ❌ chain transfer failed for issue #%d: %v", issueID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "chain transfer failed"})

	default:
		log.Printf("[WEBHOOK] ❌ settlement error for issue #%d: %v", issueID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
