package services

import (
	"context"
	"testing"
	"time"

	"bounty-reward-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB runs the real GORM schema against in-memory sqlite.
// TranslateError matches production so duplicate keys surface as
// gorm.ErrDuplicatedKey.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Issue{},
		&models.Contribution{},
		&models.ReconciliationEntry{},
		&models.TreasurySnapshot{},
	); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// fakeChainGateway records every call so tests can assert that abort
// paths never touch the chain.
type fakeChainGateway struct {
	treasury         string
	signature        string
	invalidAddresses map[string]bool

	transferErr   error
	confirmResult bool
	confirmErr    error
	nativeBalance float64
	tokenBalance  float64

	transferNativeCalls int
	transferTokenCalls  int
	confirmCalls        int
	balanceCalls        int

	lastRecipient string
	lastMint      string
	lastAmount    float64
}

func newFakeChainGateway() *fakeChainGateway {
	return &fakeChainGateway{
		treasury:         "TreasuryWa11et1111111111111111111111111111",
		signature:        "5fakeSignature11111111111111111111111111111111111111111111111111",
		invalidAddresses: map[string]bool{},
		confirmResult:    true,
		nativeBalance:    100,
		tokenBalance:     100_000,
	}
}

func (f *fakeChainGateway) TreasuryAddress() string { return f.treasury }

func (f *fakeChainGateway) IsValidAddress(address string) bool {
	return address != "" && !f.invalidAddresses[address]
}

func (f *fakeChainGateway) TransferNative(ctx context.Context, recipient string, amount float64) (string, error) {
	f.transferNativeCalls++
	f.lastRecipient = recipient
	f.lastAmount = amount
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return f.signature, nil
}

func (f *fakeChainGateway) TransferToken(ctx context.Context, recipient, mint string, amount float64, decimals uint8) (string, error) {
	f.transferTokenCalls++
	f.lastRecipient = recipient
	f.lastMint = mint
	f.lastAmount = amount
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return f.signature, nil
}

func (f *fakeChainGateway) ConfirmTransaction(ctx context.Context, signature string) (bool, error) {
	f.confirmCalls++
	if f.confirmErr != nil {
		return false, f.confirmErr
	}
	return f.confirmResult, nil
}

func (f *fakeChainGateway) GetNativeBalance(ctx context.Context, address string) (float64, error) {
	f.balanceCalls++
	return f.nativeBalance, nil
}

func (f *fakeChainGateway) GetTokenBalance(ctx context.Context, address, mint string) (float64, error) {
	f.balanceCalls++
	return f.tokenBalance, nil
}

// chainCalls counts every network-touching call; address validation is
// offline and excluded.
func (f *fakeChainGateway) chainCalls() int {
	return f.transferNativeCalls + f.transferTokenCalls + f.confirmCalls + f.balanceCalls
}

func newTestSettlement(db *gorm.DB, fake *fakeChainGateway) *SettlementService {
	security := NewSecurityService(db, fake, DefaultSecurityLimits())
	return NewSettlementService(db, fake, security)
}

func strPtr(s string) *string { return &s }

func seedIssue(t *testing.T, db *gorm.DB, githubIssueID int64, amount float64) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		ID:            uuid.NewString(),
		GithubIssueID: githubIssueID,
		Number:        githubIssueID,
		Title:         "test issue",
		RepoFullName:  "acme/widgets",
		RewardAmount:  amount,
		TokenType:     "EOS",
		Status:        models.IssueStatusOpen,
	}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("seeding issue: %v", err)
	}
	return issue
}

func seedUser(t *testing.T, db *gorm.DB, username string, wallet *string, createdAt time.Time) *models.User {
	t.Helper()
	user := &models.User{
		ID:             uuid.NewString(),
		GithubUsername: &username,
		WalletAddress:  wallet,
		CreatedAt:      createdAt,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user
}

func seedContribution(t *testing.T, db *gorm.DB, contributorID string, completedAt time.Time) *models.Contribution {
	t.Helper()
	c := &models.Contribution{
		ID:                   uuid.NewString(),
		IssueID:              uuid.NewString(),
		ContributorID:        contributorID,
		TransactionSignature: uuid.NewString(),
		CompletedAt:          completedAt,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seeding contribution: %v", err)
	}
	return c
}

func contributionCount(t *testing.T, db *gorm.DB, issueID string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Contribution{}).Where("issue_id = ?", issueID).Count(&n).Error; err != nil {
		t.Fatalf("counting contributions: %v", err)
	}
	return n
}

func reloadIssue(t *testing.T, db *gorm.DB, id string) *models.Issue {
	t.Helper()
	var issue models.Issue
	if err := db.First(&issue, "id = ?", id).Error; err != nil {
		t.Fatalf("reloading issue: %v", err)
	}
	return &issue
}
