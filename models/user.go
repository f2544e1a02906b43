package models

import "time"

// User is a local mirror of a registered contributor from the profile
// service. Settlement only ever reads this table; writes come from the
// user sync worker and the profile service's wallet-link flow.
type User struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	GithubUsername *string   `gorm:"uniqueIndex" json:"github_username,omitempty"`
	WalletAddress  *string   `gorm:"type:varchar(64)" json:"wallet_address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
