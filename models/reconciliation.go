package models

import "time"

// ReconciliationReason classifies why an operator needs to look at a
// settlement attempt.
type ReconciliationReason string

const (
	// Transfer submitted to the cluster but the confirmation wait timed
	// out or was canceled; the transaction may still land.
	ReconcileSubmittedUnconfirmed ReconciliationReason = "submitted_unconfirmed"
	// Transfer confirmed as submitted, but the post-transfer verification
	// lookup could not find it.
	ReconcileUnverifiedTransfer ReconciliationReason = "unverified_transfer"
	// Transfer confirmed on chain but the ledger commit failed.
	ReconcileCommitFailed ReconciliationReason = "commit_failed"
	// A concurrent settlement won the commit race after this attempt
	// already sent funds.
	ReconcileDuplicateSettlement ReconciliationReason = "duplicate_settlement"
)

// ReconciliationEntry flags a settlement where funds may have left the
// treasury without a matching Contribution row. Append-only; operators
// mark entries resolved after manual review.
type ReconciliationEntry struct {
	ID                   string               `gorm:"primaryKey;type:uuid" json:"id"`
	GithubIssueID        int64                `gorm:"index;not null" json:"github_issue_id"`
	ContributorID        string               `json:"contributor_id"`
	TransactionSignature string               `json:"transaction_signature"`
	Reason               ReconciliationReason `gorm:"type:varchar(32);not null" json:"reason"`
	Detail               string               `gorm:"type:text" json:"detail"`
	Resolved             bool                 `gorm:"not null;default:false;index" json:"resolved"`
	CreatedAt            time.Time            `json:"created_at"`
}
