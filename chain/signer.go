package chain

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// TreasurySigner holds the custody key that signs every outbound payout.
// It is injected into the gateway at construction so tests can substitute
// a throwaway key and devnet/mainnet deployments can coexist.
type TreasurySigner struct {
	key solana.PrivateKey
}

// NewTreasurySigner parses the treasury private key. Both encodings seen
// in the wild are accepted: base58, or the JSON byte array that solana-keygen
// writes.
func NewTreasurySigner(raw string) (*TreasurySigner, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("treasury private key is empty")
	}

	if strings.HasPrefix(raw, "[") {
		var values []int
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("parsing treasury key byte array: %w", err)
		}
		if len(values) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("treasury key byte array has %d bytes, want %d", len(values), ed25519.PrivateKeySize)
		}
		bytes := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("treasury key byte array has out-of-range value %d at index %d", v, i)
			}
			bytes[i] = byte(v)
		}
		return &TreasurySigner{key: solana.PrivateKey(bytes)}, nil
	}

	key, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base58 treasury key: %w", err)
	}
	return &TreasurySigner{key: key}, nil
}

// PublicKey returns the treasury wallet address.
func (s *TreasurySigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// SignTransaction signs tx with the treasury key.
func (s *TreasurySigner) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}
