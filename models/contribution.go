package models

import "time"

// Contribution is the append-only record of one completed payout.
// The unique index on IssueID is the duplicate-payment guard: webhook
// deliveries can be replayed, so the constraint lives in the database,
// not in application logic. Rows are never updated or deleted.
type Contribution struct {
	ID                   string    `gorm:"primaryKey;type:uuid" json:"id"`
	IssueID              string    `gorm:"uniqueIndex;not null" json:"issue_id"`
	ContributorID        string    `gorm:"index;not null" json:"contributor_id"`
	TransactionSignature string    `gorm:"uniqueIndex;not null" json:"transaction_signature"`
	CompletedAt          time.Time `gorm:"index;not null" json:"completed_at"`
}
