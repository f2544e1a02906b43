package models

import "time"

// IssueStatus is the reward lifecycle state of an issue.
type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "OPEN"
	IssueStatusRewarded IssueStatus = "REWARDED"
)

// Issue is a GitHub issue a maintainer attached a token bounty to.
// RewardAmount is in human-readable token units. TokenType selects the
// transfer primitive ("EOS" by default); TokenMint is only consulted for
// generic SPL rewards.
type Issue struct {
	ID            string      `gorm:"primaryKey;type:uuid" json:"id"`
	GithubIssueID int64       `gorm:"uniqueIndex;not null" json:"github_issue_id"`
	Number        int64       `json:"number"`
	Title         string      `json:"title"`
	RepoFullName  string      `gorm:"index" json:"repo_full_name"`
	RewardAmount  float64     `gorm:"not null;default:0" json:"reward_amount"`
	TokenType     string      `gorm:"type:varchar(16);not null;default:'EOS'" json:"token_type"`
	TokenMint     *string     `gorm:"type:varchar(64)" json:"token_mint,omitempty"`
	Status        IssueStatus `gorm:"type:varchar(16);not null;default:'OPEN';index" json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
