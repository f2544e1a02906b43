// workers/treasury_monitor_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"bounty-reward-system/chain"
	"bounty-reward-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BalanceReader is the slice of the chain gateway the monitor needs.
type BalanceReader interface {
	TreasuryAddress() string
	GetNativeBalance(ctx context.Context, address string) (float64, error)
	GetTokenBalance(ctx context.Context, address, mint string) (float64, error)
}

// TreasuryMonitor records periodic balance snapshots of the custody
// wallet so operators see solvency trends, not just the live number the
// security gate reads.
type TreasuryMonitor struct {
	DB    *gorm.DB
	Chain BalanceReader

	FloorSOL float64
	FloorEOS float64
}

func NewTreasuryMonitor(db *gorm.DB, reader BalanceReader, floorSOL, floorEOS float64) *TreasuryMonitor {
	return &TreasuryMonitor{
		DB:       db,
		Chain:    reader,
		FloorSOL: floorSOL,
		FloorEOS: floorEOS,
	}
}

// PollTreasury snapshots on a fixed interval until ctx is canceled.
func PollTreasury(ctx context.Context, m *TreasuryMonitor, pollInterval time.Duration) {
	log.Println("Starting treasury balance polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Treasury polling stopped.")
			return
		case <-ticker.C:
			if _, err := m.Snapshot(ctx); err != nil {
				log.Printf("❌ Treasury snapshot failed: %v", err)
			}
		}
	}
}

// Snapshot reads both balances, persists a row, and warns when either
// falls below its safety floor.
func (m *TreasuryMonitor) Snapshot(ctx context.Context) (*models.TreasurySnapshot, error) {
	address := m.Chain.TreasuryAddress()

	sol, err := m.Chain.GetNativeBalance(ctx, address)
	if err != nil {
		return nil, err
	}
	eos, err := m.Chain.GetTokenBalance(ctx, address, chain.EosTokenMint)
	if err != nil {
		return nil, err
	}

	snapshot := &models.TreasurySnapshot{
		ID:            uuid.NewString(),
		Address:       address,
		SolBalance:    sol,
		TokenBalance:  eos,
		TokenUSDValue: eos * chain.EosPriceUSD,
		BelowFloor:    sol < m.FloorSOL || eos < m.FloorEOS,
		CheckedAt:     time.Now().UTC(),
	}
	if err := m.DB.WithContext(ctx).Create(snapshot).Error; err != nil {
		return nil, err
	}

	if snapshot.BelowFloor {
		log.Printf("[TREASURY] ⚠️ balance below floor: %g SOL (floor %g), %s (floor %g EOS)",
			sol, m.FloorSOL, chain.FormatEosAmount(eos), m.FloorEOS)
	}
	return snapshot, nil
}
