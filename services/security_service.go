// services/security_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"bounty-reward-system/chain"
	"bounty-reward-system/models"

	"gorm.io/gorm"
)

// SecurityLimits are the tunable bounds the gate enforces. Bounds are
// per token kind; generic SPL rewards share the custom-token bounds.
type SecurityLimits struct {
	RewardRequestsPerHour int

	MinRewardSOL float64
	MaxRewardSOL float64
	MinRewardEOS float64
	MaxRewardEOS float64

	// Safety floors the treasury must keep even after this payout, so a
	// burst of settlements cannot drain it to zero.
	TreasuryFloorSOL float64
	TreasuryFloorEOS float64
	TreasuryFloorSPL float64
}

func DefaultSecurityLimits() SecurityLimits {
	return SecurityLimits{
		RewardRequestsPerHour: 10,
		MinRewardSOL:          0.001,
		MaxRewardSOL:          10,
		MinRewardEOS:          1,
		MaxRewardEOS:          1000,
		TreasuryFloorSOL:      0.1,
		TreasuryFloorEOS:      10,
		TreasuryFloorSPL:      100,
	}
}

// SecurityService is the gate every settlement passes before a single
// lamport moves: rate limiting, amount bounds, treasury solvency, and
// the suspicious-activity heuristics. Pure decision function over ledger
// reads plus one balance query; no writes.
type SecurityService struct {
	DB     *gorm.DB
	Chain  ChainGateway
	Limits SecurityLimits

	now func() time.Time
}

func NewSecurityService(db *gorm.DB, gateway ChainGateway, limits SecurityLimits) *SecurityService {
	return &SecurityService{DB: db, Chain: gateway, Limits: limits, now: time.Now}
}

// SecurityCheckInput describes the proposed transfer. TransactionSignature
// stays empty for outbound payouts; it exists for the inbound-deposit
// verification path.
type SecurityCheckInput struct {
	UserID        string
	WalletAddress string
	RewardAmount  float64
	Token         chain.TokenKind
	TokenMint     string
}

// SecurityCheckResult reports pass/fail plus every failure reason.
type SecurityCheckResult struct {
	Passed   bool
	Failures []string
}

// PerformChecks runs all checks and accumulates failures instead of
// short-circuiting. A non-nil error means a check could not run at all
// (infrastructure trouble) and the settlement is safe to retry.
func (s *SecurityService) PerformChecks(ctx context.Context, in SecurityCheckInput) (SecurityCheckResult, error) {
	var failures []string

	allowed, remaining, err := s.checkRateLimit(ctx, in.UserID)
	if err != nil {
		return SecurityCheckResult{}, fmt.Errorf("checking rate limit: %w", err)
	}
	if !allowed {
		failures = append(failures, fmt.Sprintf("rate limit exceeded, remaining: %d", remaining))
	}

	if reason := s.validateRewardAmount(in.RewardAmount, in.Token); reason != "" {
		failures = append(failures, reason)
	}

	hasFunds, balance, err := s.verifyTreasuryFunds(ctx, in.Token, in.TokenMint)
	if err != nil {
		return SecurityCheckResult{}, fmt.Errorf("verifying treasury funds: %w", err)
	}
	if !hasFunds {
		failures = append(failures, fmt.Sprintf("insufficient treasury balance: %g %s", balance, in.Token))
	}

	passed := len(failures) == 0
	if passed {
		log.Printf("[SECURITY] checks passed for user %s (%g %s)", in.UserID, in.RewardAmount, in.Token)
	} else {
		log.Printf("[SECURITY] ⚠️ checks FAILED for user %s (%g %s): %v", in.UserID, in.RewardAmount, in.Token, failures)
	}
	return SecurityCheckResult{Passed: passed, Failures: failures}, nil
}

// checkRateLimit counts the contributor's completed payouts in the
// trailing hour against the configured ceiling.
func (s *SecurityService) checkRateLimit(ctx context.Context, userID string) (allowed bool, remaining int, err error) {
	oneHourAgo := s.now().Add(-1 * time.Hour)

	var recent int64
	err = s.DB.WithContext(ctx).Model(&models.Contribution{}).
		Where("contributor_id = ? AND completed_at >= ?", userID, oneHourAgo).
		Count(&recent).Error
	if err != nil {
		return false, 0, err
	}

	limit := int64(s.Limits.RewardRequestsPerHour)
	remaining = int(max(0, limit-recent))
	return recent < limit, remaining, nil
}

// validateRewardAmount returns a failure reason or "" when the amount is
// inside the bounds for its token kind. Bounds are inclusive.
func (s *SecurityService) validateRewardAmount(amount float64, kind chain.TokenKind) string {
	switch kind {
	case chain.TokenSOL:
		if amount < s.Limits.MinRewardSOL {
			return fmt.Sprintf("minimum reward amount is %g SOL", s.Limits.MinRewardSOL)
		}
		if amount > s.Limits.MaxRewardSOL {
			return fmt.Sprintf("maximum reward amount is %g SOL", s.Limits.MaxRewardSOL)
		}
	case chain.TokenEOS, chain.TokenSPL:
		if amount < s.Limits.MinRewardEOS {
			return fmt.Sprintf("minimum reward amount is %g %s", s.Limits.MinRewardEOS, kind)
		}
		if amount > s.Limits.MaxRewardEOS {
			return fmt.Sprintf("maximum reward amount is %g %s", s.Limits.MaxRewardEOS, kind)
		}
	default:
		return fmt.Sprintf("unsupported token kind %q", kind)
	}
	return ""
}

// verifyTreasuryFunds checks the treasury's live balance of the relevant
// token against its safety floor.
func (s *SecurityService) verifyTreasuryFunds(ctx context.Context, kind chain.TokenKind, mint string) (hasFunds bool, balance float64, err error) {
	treasury := s.Chain.TreasuryAddress()

	var floor float64
	switch kind {
	case chain.TokenSOL:
		balance, err = s.Chain.GetNativeBalance(ctx, treasury)
		floor = s.Limits.TreasuryFloorSOL
	case chain.TokenEOS:
		balance, err = s.Chain.GetTokenBalance(ctx, treasury, chain.EosTokenMint)
		floor = s.Limits.TreasuryFloorEOS
	case chain.TokenSPL:
		if mint == "" {
			return false, 0, fmt.Errorf("token mint required for SPL treasury check")
		}
		balance, err = s.Chain.GetTokenBalance(ctx, treasury, mint)
		floor = s.Limits.TreasuryFloorSPL
	default:
		return false, 0, fmt.Errorf("unsupported token kind %q", kind)
	}
	if err != nil {
		return false, 0, err
	}
	return balance >= floor, balance, nil
}

// SuspicionResult lists every abuse pattern the contributor matched.
type SuspicionResult struct {
	Suspicious bool
	Patterns   []string
}

// DetectSuspiciousActivity runs the recent-activity heuristics for a
// contributor. Evaluated after PerformChecks passes, as a separate call,
// so its rejections are distinguishable in logs and responses.
func (s *SecurityService) DetectSuspiciousActivity(ctx context.Context, userID string) (SuspicionResult, error) {
	var patterns []string

	fiveMinutesAgo := s.now().Add(-5 * time.Minute)
	var recentClaims int64
	if err := s.DB.WithContext(ctx).Model(&models.Contribution{}).
		Where("contributor_id = ? AND completed_at >= ?", userID, fiveMinutesAgo).
		Count(&recentClaims).Error; err != nil {
		return SuspicionResult{}, fmt.Errorf("counting recent claims: %w", err)
	}
	if recentClaims > 3 {
		patterns = append(patterns, "rapid successive reward claims")
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err == nil {
		accountAge := s.now().Sub(user.CreatedAt)
		if accountAge < 24*time.Hour {
			var total int64
			if err := s.DB.WithContext(ctx).Model(&models.Contribution{}).
				Where("contributor_id = ?", userID).
				Count(&total).Error; err != nil {
				return SuspicionResult{}, fmt.Errorf("counting total claims: %w", err)
			}
			if total >= 1 {
				patterns = append(patterns, "new account with immediate reward claims")
			}
		}
	}

	if len(patterns) > 0 {
		log.Printf("[SECURITY] ⚠️ suspicious activity for user %s: %v", userID, patterns)
	}
	return SuspicionResult{Suspicious: len(patterns) > 0, Patterns: patterns}, nil
}
