package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bounty-reward-system/chain"
	"bounty-reward-system/models"

	"gorm.io/gorm"
)

func TestSettleReward_EndToEnd(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	alice := seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	contribution, err := svc.SettleReward(context.Background(), 42, "alice")
	if err != nil {
		t.Fatalf("SettleReward() error = %v", err)
	}

	if contribution.IssueID != issue.ID {
		t.Errorf("contribution.IssueID = %s, want %s", contribution.IssueID, issue.ID)
	}
	if contribution.ContributorID != alice.ID {
		t.Errorf("contribution.ContributorID = %s, want %s", contribution.ContributorID, alice.ID)
	}
	if contribution.TransactionSignature != fake.signature {
		t.Errorf("contribution.TransactionSignature = %s, want %s", contribution.TransactionSignature, fake.signature)
	}

	if fake.transferTokenCalls != 1 {
		t.Errorf("transferTokenCalls = %d, want 1", fake.transferTokenCalls)
	}
	if fake.lastMint != chain.EosTokenMint {
		t.Errorf("lastMint = %s, want %s", fake.lastMint, chain.EosTokenMint)
	}
	if fake.lastAmount != 25 {
		t.Errorf("lastAmount = %v, want 25", fake.lastAmount)
	}
	if fake.confirmCalls != 1 {
		t.Errorf("confirmCalls = %d, want 1", fake.confirmCalls)
	}

	if got := reloadIssue(t, db, issue.ID).Status; got != models.IssueStatusRewarded {
		t.Errorf("issue status = %s, want %s", got, models.IssueStatusRewarded)
	}
	if n := contributionCount(t, db, issue.ID); n != 1 {
		t.Errorf("contribution count = %d, want 1", n)
	}
}

func TestSettleReward_RedeliveryIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	if _, err := svc.SettleReward(context.Background(), 42, "alice"); err != nil {
		t.Fatalf("first SettleReward() error = %v", err)
	}
	transfersAfterFirst := fake.transferTokenCalls

	_, err := svc.SettleReward(context.Background(), 42, "alice")
	if !errors.Is(err, ErrAlreadyRewarded) {
		t.Fatalf("second SettleReward() error = %v, want ErrAlreadyRewarded", err)
	}

	if fake.transferTokenCalls != transfersAfterFirst {
		t.Errorf("redelivery triggered %d extra transfer(s)", fake.transferTokenCalls-transfersAfterFirst)
	}
	if n := contributionCount(t, db, issue.ID); n != 1 {
		t.Errorf("contribution count = %d, want 1", n)
	}
}

func TestSettleReward_PreconditionFailures(t *testing.T) {
	wallet := "AliceWa11et1111111111111111111111111111111"

	tests := []struct {
		name    string
		setup   func(t *testing.T, db *gorm.DB, fake *fakeChainGateway)
		issueID int64
		user    string
		wantErr error
	}{
		{
			name: "issue not found",
			setup: func(t *testing.T, db *gorm.DB, fake *fakeChainGateway) {
				seedUser(t, db, "alice", strPtr(wallet), time.Now().Add(-48*time.Hour))
			},
			issueID: 99,
			user:    "alice",
			wantErr: ErrIssueNotFound,
		},
		{
			name: "user not registered",
			setup: func(t *testing.T, db *gorm.DB, fake *fakeChainGateway) {
				seedIssue(t, db, 42, 25)
			},
			issueID: 42,
			user:    "ghost",
			wantErr: ErrUserNotRegistered,
		},
		{
			name: "issue already rewarded",
			setup: func(t *testing.T, db *gorm.DB, fake *fakeChainGateway) {
				issue := seedIssue(t, db, 42, 25)
				db.Model(issue).Update("status", models.IssueStatusRewarded)
				seedUser(t, db, "alice", strPtr(wallet), time.Now().Add(-48*time.Hour))
			},
			issueID: 42,
			user:    "alice",
			wantErr: ErrAlreadyRewarded,
		},
		{
			name: "no wallet linked",
			setup: func(t *testing.T, db *gorm.DB, fake *fakeChainGateway) {
				seedIssue(t, db, 42, 25)
				seedUser(t, db, "alice", nil, time.Now().Add(-48*time.Hour))
			},
			issueID: 42,
			user:    "alice",
			wantErr: ErrNoWalletLinked,
		},
		{
			name: "wallet address malformed",
			setup: func(t *testing.T, db *gorm.DB, fake *fakeChainGateway) {
				seedIssue(t, db, 42, 25)
				seedUser(t, db, "alice", strPtr("bogus"), time.Now().Add(-48*time.Hour))
				fake.invalidAddresses["bogus"] = true
			},
			issueID: 42,
			user:    "alice",
			wantErr: ErrNoWalletLinked,
		},
		{
			name: "no reward set",
			setup: func(t *testing.T, db *gorm.DB, fake *fakeChainGateway) {
				seedIssue(t, db, 7, 0)
				seedUser(t, db, "alice", strPtr(wallet), time.Now().Add(-48*time.Hour))
			},
			issueID: 7,
			user:    "alice",
			wantErr: ErrNoRewardSet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			fake := newFakeChainGateway()
			svc := newTestSettlement(db, fake)
			tt.setup(t, db, fake)

			_, err := svc.SettleReward(context.Background(), tt.issueID, tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SettleReward() error = %v, want %v", err, tt.wantErr)
			}

			// Precondition failures must have zero side effects.
			if fake.chainCalls() != 0 {
				t.Errorf("chain calls = %d, want 0", fake.chainCalls())
			}
			var contributions int64
			db.Model(&models.Contribution{}).Count(&contributions)
			if contributions != 0 {
				t.Errorf("contribution rows = %d, want 0", contributions)
			}
		})
	}
}

func TestSettleReward_SecurityRejection(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 5000) // above the EOS ceiling
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	_, err := svc.SettleReward(context.Background(), 42, "alice")

	var securityErr *SecurityCheckError
	if !errors.As(err, &securityErr) {
		t.Fatalf("SettleReward() error = %v, want SecurityCheckError", err)
	}
	if len(securityErr.Failures) == 0 {
		t.Error("SecurityCheckError carries no failure reasons")
	}

	if fake.transferTokenCalls+fake.transferNativeCalls != 0 {
		t.Errorf("transfer calls = %d, want 0", fake.transferTokenCalls+fake.transferNativeCalls)
	}
	if got := reloadIssue(t, db, issue.ID).Status; got != models.IssueStatusOpen {
		t.Errorf("issue status = %s, want OPEN", got)
	}
}

func TestSettleReward_SuspiciousActivity(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	seedIssue(t, db, 42, 25)
	// Brand-new account that already collected a payout.
	alice := seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-1*time.Hour))
	seedContribution(t, db, alice.ID, time.Now().Add(-6*time.Hour))

	_, err := svc.SettleReward(context.Background(), 42, "alice")

	var suspicionErr *SuspiciousActivityError
	if !errors.As(err, &suspicionErr) {
		t.Fatalf("SettleReward() error = %v, want SuspiciousActivityError", err)
	}
	if fake.transferTokenCalls+fake.transferNativeCalls != 0 {
		t.Errorf("transfer calls = %d, want 0", fake.transferTokenCalls+fake.transferNativeCalls)
	}
}

func TestSettleReward_PreSubmissionFailureLeavesIssueOpen(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	fake.transferErr = &chain.TransferError{Cause: "fetching recent blockhash"}
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	_, err := svc.SettleReward(context.Background(), 42, "alice")

	var transferErr *chain.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("SettleReward() error = %v, want TransferError", err)
	}

	// Nothing left for the cluster: the issue stays OPEN for a retry and
	// there is nothing to reconcile.
	if got := reloadIssue(t, db, issue.ID).Status; got != models.IssueStatusOpen {
		t.Errorf("issue status = %s, want OPEN", got)
	}
	if n := contributionCount(t, db, issue.ID); n != 0 {
		t.Errorf("contribution count = %d, want 0", n)
	}
	if fake.confirmCalls != 0 {
		t.Errorf("confirmCalls = %d, want 0", fake.confirmCalls)
	}
	var flags int64
	db.Model(&models.ReconciliationEntry{}).Count(&flags)
	if flags != 0 {
		t.Errorf("reconciliation entries = %d, want 0", flags)
	}
}

func TestSettleReward_SubmittedUnconfirmedIsFlagged(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	fake.transferErr = &chain.UnconfirmedTransferError{
		Signature: "5submittedSig111111111111111111111111111111111111111111111111111",
		Cause:     "not confirmed within 30s",
	}
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	_, err := svc.SettleReward(context.Background(), 42, "alice")
	if !errors.Is(err, ErrTransactionUnverified) {
		t.Fatalf("SettleReward() error = %v, want ErrTransactionUnverified", err)
	}

	// The transaction may still land, so the issue stays OPEN but an
	// operator flag with the signature must exist before any redelivery.
	if got := reloadIssue(t, db, issue.ID).Status; got != models.IssueStatusOpen {
		t.Errorf("issue status = %s, want OPEN", got)
	}
	if n := contributionCount(t, db, issue.ID); n != 0 {
		t.Errorf("contribution count = %d, want 0", n)
	}

	var entry models.ReconciliationEntry
	if err := db.First(&entry, "github_issue_id = ?", int64(42)).Error; err != nil {
		t.Fatalf("expected a reconciliation entry: %v", err)
	}
	if entry.Reason != models.ReconcileSubmittedUnconfirmed {
		t.Errorf("entry.Reason = %s, want %s", entry.Reason, models.ReconcileSubmittedUnconfirmed)
	}
	if entry.TransactionSignature != "5submittedSig111111111111111111111111111111111111111111111111111" {
		t.Errorf("entry.TransactionSignature = %s, want the submitted signature", entry.TransactionSignature)
	}
}

func TestSettleReward_UnverifiedTransferIsFlagged(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	fake.confirmResult = false
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	_, err := svc.SettleReward(context.Background(), 42, "alice")
	if !errors.Is(err, ErrTransactionUnverified) {
		t.Fatalf("SettleReward() error = %v, want ErrTransactionUnverified", err)
	}

	if n := contributionCount(t, db, issue.ID); n != 0 {
		t.Errorf("contribution count = %d, want 0", n)
	}

	var entry models.ReconciliationEntry
	if err := db.First(&entry, "github_issue_id = ?", int64(42)).Error; err != nil {
		t.Fatalf("expected a reconciliation entry: %v", err)
	}
	if entry.Reason != models.ReconcileUnverifiedTransfer {
		t.Errorf("entry.Reason = %s, want %s", entry.Reason, models.ReconcileUnverifiedTransfer)
	}
	if entry.TransactionSignature != fake.signature {
		t.Errorf("entry.TransactionSignature = %s, want %s", entry.TransactionSignature, fake.signature)
	}
}

func TestSettleReward_DuplicateCommitRace(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	// A concurrent settlement committed its Contribution row already;
	// the status update hadn't been observed by this attempt.
	rival := &models.Contribution{
		ID:                   "00000000-0000-0000-0000-000000000001",
		IssueID:              issue.ID,
		ContributorID:        "someone-else",
		TransactionSignature: "rivalSignature",
		CompletedAt:          time.Now().UTC(),
	}
	if err := db.Create(rival).Error; err != nil {
		t.Fatalf("seeding rival contribution: %v", err)
	}

	_, err := svc.SettleReward(context.Background(), 42, "alice")
	if !errors.Is(err, ErrAlreadyRewarded) {
		t.Fatalf("SettleReward() error = %v, want ErrAlreadyRewarded", err)
	}

	// Exactly one Contribution survives; the duplicate send is flagged.
	if n := contributionCount(t, db, issue.ID); n != 1 {
		t.Errorf("contribution count = %d, want 1", n)
	}
	var entry models.ReconciliationEntry
	if err := db.First(&entry, "github_issue_id = ?", int64(42)).Error; err != nil {
		t.Fatalf("expected a reconciliation entry: %v", err)
	}
	if entry.Reason != models.ReconcileDuplicateSettlement {
		t.Errorf("entry.Reason = %s, want %s", entry.Reason, models.ReconcileDuplicateSettlement)
	}
}

func TestSettleReward_CommitFailureAfterConfirmedTransfer(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 25)
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	// Make the status update blow up inside the commit transaction.
	if err := db.Callback().Update().Before("gorm:update").Register("inject_commit_failure", func(tx *gorm.DB) {
		tx.AddError(errors.New("injected update failure"))
	}); err != nil {
		t.Fatalf("registering callback: %v", err)
	}

	_, err := svc.SettleReward(context.Background(), 42, "alice")

	var commitErr *CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("SettleReward() error = %v, want CommitError", err)
	}
	if commitErr.Signature != fake.signature {
		t.Errorf("CommitError.Signature = %s, want %s", commitErr.Signature, fake.signature)
	}

	// The transaction rolled back whole: no Contribution, no REWARDED
	// status without a matching row, and the payout is flagged.
	if n := contributionCount(t, db, issue.ID); n != 0 {
		t.Errorf("contribution count = %d, want 0", n)
	}
	if got := reloadIssue(t, db, issue.ID).Status; got != models.IssueStatusOpen {
		t.Errorf("issue status = %s, want OPEN", got)
	}
	var entry models.ReconciliationEntry
	if err := db.First(&entry, "github_issue_id = ?", int64(42)).Error; err != nil {
		t.Fatalf("expected a reconciliation entry: %v", err)
	}
	if entry.Reason != models.ReconcileCommitFailed {
		t.Errorf("entry.Reason = %s, want %s", entry.Reason, models.ReconcileCommitFailed)
	}
}

func TestLockIssueReleasesEntries(t *testing.T) {
	svc := newTestSettlement(openTestDB(t), newFakeChainGateway())

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := int64(1); id <= 25; id++ {
				unlock := svc.lockIssue(id)
				unlock()
			}
		}()
	}
	wg.Wait()

	svc.mu.Lock()
	remaining := len(svc.inFlight)
	svc.mu.Unlock()
	if remaining != 0 {
		t.Errorf("inFlight entries = %d, want 0 after all locks released", remaining)
	}
}

func TestSettleReward_NativeTokenDispatch(t *testing.T) {
	db := openTestDB(t)
	fake := newFakeChainGateway()
	svc := newTestSettlement(db, fake)

	issue := seedIssue(t, db, 42, 0.5)
	db.Model(issue).Update("token_type", "SOL")
	seedUser(t, db, "alice", strPtr("AliceWa11et1111111111111111111111111111111"), time.Now().Add(-48*time.Hour))

	if _, err := svc.SettleReward(context.Background(), 42, "alice"); err != nil {
		t.Fatalf("SettleReward() error = %v", err)
	}
	if fake.transferNativeCalls != 1 {
		t.Errorf("transferNativeCalls = %d, want 1", fake.transferNativeCalls)
	}
	if fake.transferTokenCalls != 0 {
		t.Errorf("transferTokenCalls = %d, want 0", fake.transferTokenCalls)
	}
	if fake.lastAmount != 0.5 {
		t.Errorf("lastAmount = %v, want 0.5", fake.lastAmount)
	}
}
