// services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bounty-reward-system/chain"
	"bounty-reward-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChainGateway is the on-chain capability settlement depends on. The
// production implementation is chain.Gateway; tests substitute a fake.
type ChainGateway interface {
	TreasuryAddress() string
	IsValidAddress(address string) bool
	TransferNative(ctx context.Context, recipient string, amount float64) (string, error)
	TransferToken(ctx context.Context, recipient, mint string, amount float64, decimals uint8) (string, error)
	ConfirmTransaction(ctx context.Context, signature string) (bool, error)
	GetNativeBalance(ctx context.Context, address string) (float64, error)
	GetTokenBalance(ctx context.Context, address, mint string) (float64, error)
}

// SettlementService runs the end-to-end reward flow for one merged PR:
// preconditions, security gate, on-chain transfer, confirmation, atomic
// ledger commit. It holds no state across invocations; every webhook
// delivery is an independent attempt and the unique constraint on
// contributions.issue_id is what makes redelivery idempotent.
type SettlementService struct {
	DB       *gorm.DB
	Chain    ChainGateway
	Security *SecurityService

	mu       sync.Mutex
	inFlight map[int64]*issueLock
}

// issueLock is refcounted so inFlight entries can be dropped once the
// last settlement for an issue releases them.
type issueLock struct {
	mu   sync.Mutex
	refs int
}

func NewSettlementService(db *gorm.DB, gateway ChainGateway, security *SecurityService) *SettlementService {
	return &SettlementService{
		DB:       db,
		Chain:    gateway,
		Security: security,
		inFlight: make(map[int64]*issueLock),
	}
}

// SettleReward pays out the bounty on a GitHub issue to the contributor
// whose PR closed it. Called once per webhook delivery.
//
// Abort paths before the transfer have no side effects. After the
// transfer there is no cancellation: failures from that point are
// recorded for manual reconciliation, never blindly retried.
func (s *SettlementService) SettleReward(ctx context.Context, githubIssueID int64, githubUsername string) (*models.Contribution, error) {
	// Advisory only: narrows the duplicate-send window within this
	// instance. Correctness comes from the storage constraint.
	unlock := s.lockIssue(githubIssueID)
	defer unlock()

	var issue models.Issue
	if err := s.DB.WithContext(ctx).Where("github_issue_id = ?", githubIssueID).First(&issue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("issue #%d: %w", githubIssueID, ErrIssueNotFound)
		}
		return nil, fmt.Errorf("loading issue #%d: %w", githubIssueID, err)
	}

	var user models.User
	if err := s.DB.WithContext(ctx).Where("github_username = ?", githubUsername).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %q: %w", githubUsername, ErrUserNotRegistered)
		}
		return nil, fmt.Errorf("loading user %q: %w", githubUsername, err)
	}

	switch issue.Status {
	case models.IssueStatusOpen:
	case models.IssueStatusRewarded:
		return nil, fmt.Errorf("issue #%d: %w", githubIssueID, ErrAlreadyRewarded)
	default:
		return nil, fmt.Errorf("issue #%d: %w", githubIssueID, ErrIssueNotOpen)
	}

	if user.WalletAddress == nil || !s.Chain.IsValidAddress(*user.WalletAddress) {
		return nil, fmt.Errorf("user %q: %w", githubUsername, ErrNoWalletLinked)
	}

	if issue.RewardAmount <= 0 {
		return nil, fmt.Errorf("issue #%d: %w", githubIssueID, ErrNoRewardSet)
	}

	kind := chain.TokenKind(issue.TokenType)
	if kind == "" {
		kind = chain.TokenEOS
	}

	check, err := s.Security.PerformChecks(ctx, SecurityCheckInput{
		UserID:        user.ID,
		WalletAddress: *user.WalletAddress,
		RewardAmount:  issue.RewardAmount,
		Token:         kind,
		TokenMint:     issueMint(&issue),
	})
	if err != nil {
		return nil, fmt.Errorf("running security checks: %w", err)
	}
	if !check.Passed {
		return nil, &SecurityCheckError{Failures: check.Failures}
	}

	suspicion, err := s.Security.DetectSuspiciousActivity(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("detecting suspicious activity: %w", err)
	}
	if suspicion.Suspicious {
		return nil, &SuspiciousActivityError{Patterns: suspicion.Patterns}
	}

	signature, err := s.sendReward(ctx, &issue, *user.WalletAddress, kind)
	if err != nil {
		var unconfirmed *chain.UnconfirmedTransferError
		if errors.As(err, &unconfirmed) {
			// The transaction left for the cluster and may still land;
			// a redelivery must not blindly send again.
			s.flagForReconciliation(&issue, user.ID, unconfirmed.Signature, models.ReconcileSubmittedUnconfirmed,
				fmt.Sprintf("transfer submitted but confirmation wait gave up: %s", unconfirmed.Cause))
			return nil, fmt.Errorf("signature %s: %w", unconfirmed.Signature, ErrTransactionUnverified)
		}
		// Failed before submission: no ledger write, the issue stays
		// OPEN and eligible for a manual retry.
		return nil, err
	}

	confirmed, err := s.Chain.ConfirmTransaction(ctx, signature)
	if err != nil || !confirmed {
		detail := "transfer submitted but confirmation lookup found nothing"
		if err != nil {
			detail = fmt.Sprintf("confirmation lookup failed: %v", err)
		}
		s.flagForReconciliation(&issue, user.ID, signature, models.ReconcileUnverifiedTransfer, detail)
		return nil, fmt.Errorf("signature %s: %w", signature, ErrTransactionUnverified)
	}

	contribution, err := s.commit(ctx, &issue, &user, signature)
	if err != nil {
		return nil, err
	}

	log.Printf("[SETTLE] ✅ rewarded %s for issue #%d (%s), signature %s",
		githubUsername, githubIssueID, chain.FormatEosAmount(issue.RewardAmount), signature)
	return contribution, nil
}

// sendReward dispatches on token kind and moves the funds.
func (s *SettlementService) sendReward(ctx context.Context, issue *models.Issue, recipient string, kind chain.TokenKind) (string, error) {
	log.Printf("[SETTLE] sending %s for issue #%d to %s", chain.FormatEosAmount(issue.RewardAmount), issue.GithubIssueID, recipient)

	switch kind {
	case chain.TokenSOL:
		return s.Chain.TransferNative(ctx, recipient, issue.RewardAmount)
	case chain.TokenEOS:
		return s.Chain.TransferToken(ctx, recipient, chain.EosTokenMint, issue.RewardAmount, chain.EosDecimals)
	case chain.TokenSPL:
		mint := issueMint(issue)
		if mint == "" {
			return "", &chain.TransferError{Cause: fmt.Sprintf("issue #%d has no token mint configured", issue.GithubIssueID)}
		}
		return s.Chain.TransferToken(ctx, recipient, mint, issue.RewardAmount, chain.EosDecimals)
	default:
		return "", &chain.TransferError{Cause: fmt.Sprintf("unsupported token type %q", kind)}
	}
}

// commit inserts the Contribution and flips the issue to REWARDED inside
// one transaction. A duplicate-key failure means a concurrent settlement
// already committed for this issue; the funds this attempt sent are not
// reversible, so the entry goes to the reconciliation ledger.
func (s *SettlementService) commit(ctx context.Context, issue *models.Issue, user *models.User, signature string) (*models.Contribution, error) {
	contribution := &models.Contribution{
		ID:                   uuid.NewString(),
		IssueID:              issue.ID,
		ContributorID:        user.ID,
		TransactionSignature: signature,
		CompletedAt:          time.Now().UTC(),
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(contribution).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Issue{}).
			Where("id = ? AND status = ?", issue.ID, models.IssueStatusOpen).
			Update("status", models.IssueStatusRewarded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent settlement flipped the status first.
			return gorm.ErrDuplicatedKey
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Printf("[SETTLE] duplicate settlement for issue #%d; signature %s was sent without a ledger row", issue.GithubIssueID, signature)
			s.flagForReconciliation(issue, user.ID, signature, models.ReconcileDuplicateSettlement,
				"concurrent settlement committed first; this attempt's transfer needs manual review")
			return nil, fmt.Errorf("issue #%d: %w", issue.GithubIssueID, ErrAlreadyRewarded)
		}
		s.flagForReconciliation(issue, user.ID, signature, models.ReconcileCommitFailed, err.Error())
		return nil, &CommitError{Signature: signature, Err: err}
	}
	return contribution, nil
}

// flagForReconciliation records that funds may have moved without a
// matching Contribution. Best effort: a failure here is logged loudly
// but cannot change the settlement outcome.
func (s *SettlementService) flagForReconciliation(issue *models.Issue, userID, signature string, reason models.ReconciliationReason, detail string) {
	entry := &models.ReconciliationEntry{
		ID:                   uuid.NewString(),
		GithubIssueID:        issue.GithubIssueID,
		ContributorID:        userID,
		TransactionSignature: signature,
		Reason:               reason,
		Detail:               detail,
	}
	if err := s.DB.Create(entry).Error; err != nil {
		log.Printf("[RECONCILE] ❌ failed to record %s for issue #%d (signature %s): %v, RECONCILE BY HAND",
			reason, issue.GithubIssueID, signature, err)
		return
	}
	log.Printf("[RECONCILE] ⚠️ issue #%d flagged: %s (signature %s)", issue.GithubIssueID, reason, signature)
}

func (s *SettlementService) lockIssue(githubIssueID int64) func() {
	s.mu.Lock()
	l, ok := s.inFlight[githubIssueID]
	if !ok {
		l = &issueLock{}
		s.inFlight[githubIssueID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.inFlight, githubIssueID)
		}
		s.mu.Unlock()
	}
}

func issueMint(issue *models.Issue) string {
	if issue.TokenMint != nil {
		return *issue.TokenMint
	}
	return ""
}
