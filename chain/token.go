package chain

import (
	"fmt"
	"math"
)

// TokenKind selects the transfer primitive for a reward.
type TokenKind string

const (
	TokenSOL TokenKind = "SOL" // native coin
	TokenEOS TokenKind = "EOS" // the platform reward token
	TokenSPL TokenKind = "SPL" // arbitrary SPL token, mint supplied per issue
)

// EOS reward token configuration. The price is an off-chain reference
// value for display only; it never enters on-chain logic.
const (
	EosTokenMint = "FVWUJ8Ut6kT2fSM6bHkGGTJ32FmjQ2VGvyLwSzBAknA8"
	EosDecimals  = 6
	EosPriceUSD  = 0.05
)

const SolDecimals = 9

// FormatEosAmount renders a human-readable amount with its USD reference value.
func FormatEosAmount(amount float64) string {
	return fmt.Sprintf("%g EOS ($%.2f)", amount, amount*EosPriceUSD)
}

// ToBaseUnits converts a human-readable amount to integer base units.
// Truncates rather than rounds so a settlement can never overspend by a
// fraction of a unit.
func ToBaseUnits(amount float64, decimals uint8) uint64 {
	return uint64(math.Floor(amount * math.Pow10(int(decimals))))
}

// FromBaseUnits converts integer base units back to human units.
func FromBaseUnits(units uint64, decimals uint8) float64 {
	return float64(units) / math.Pow10(int(decimals))
}
