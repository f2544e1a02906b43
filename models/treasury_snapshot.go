// models/treasury_snapshot.go
package models

import "time"

// TreasurySnapshot is a point-in-time balance reading of the custody
// wallet, written by the treasury monitor worker. The latest row backs
// the /treasury/status endpoint and the low-balance warning log.
type TreasurySnapshot struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	Address       string    `gorm:"type:varchar(64);not null;index" json:"address"`
	SolBalance    float64   `gorm:"not null" json:"sol_balance"`
	TokenBalance  float64   `gorm:"not null" json:"token_balance"`
	TokenUSDValue float64   `gorm:"not null" json:"token_usd_value"`
	BelowFloor    bool      `gorm:"not null" json:"below_floor"`
	CheckedAt     time.Time `gorm:"not null;index" json:"checked_at"`
}
