// chain/gateway.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	confirmationWait = 30 * time.Second
	confirmationPoll = 2 * time.Second
)

// Gateway is a stateless façade over the Solana RPC endpoint. It builds,
// signs and submits treasury transfers and answers balance queries.
// Submissions from the treasury signer are serialized: concurrent
// settlements otherwise race on the same recent blockhash and the second
// transaction can be rejected as a duplicate.
type Gateway struct {
	rpc    *rpc.Client
	signer *TreasurySigner

	confirmWait time.Duration

	submitMu sync.Mutex
}

// NewGateway connects the gateway to an RPC endpoint. The same code runs
// against devnet or mainnet; only the endpoint and key differ.
func NewGateway(rpcURL string, signer *TreasurySigner) *Gateway {
	return &Gateway{
		rpc:         rpc.New(rpcURL),
		signer:      signer,
		confirmWait: confirmationWait,
	}
}

// TreasuryAddress returns the custody wallet address as base58.
func (g *Gateway) TreasuryAddress() string {
	return g.signer.PublicKey().String()
}

// IsValidAddress reports whether address parses as a Solana public key.
// No network call.
func (g *Gateway) IsValidAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// TransferNative sends amount SOL from the treasury to recipient and
// waits for confirmation. amount is in human units.
func (g *Gateway) TransferNative(ctx context.Context, recipient string, amount float64) (string, error) {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", &TransferError{Cause: fmt.Sprintf("invalid recipient address %q", recipient), Err: err}
	}
	lamports := ToBaseUnits(amount, SolDecimals)

	ix := system.NewTransferInstruction(lamports, g.signer.PublicKey(), to).Build()
	sig, err := g.submit(ctx, []solana.Instruction{ix})
	if err != nil {
		return "", err
	}
	log.Printf("[CHAIN] SOL transfer successful: %s", sig)
	return sig.String(), nil
}

// TransferToken sends amount of the given SPL token from the treasury to
// recipient and waits for confirmation. If the recipient has no token
// account for the mint yet, one is created in the same transaction with
// the treasury paying the rent.
func (g *Gateway) TransferToken(ctx context.Context, recipient, mint string, amount float64, decimals uint8) (string, error) {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", &TransferError{Cause: fmt.Sprintf("invalid recipient address %q", recipient), Err: err}
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", &TransferError{Cause: fmt.Sprintf("invalid token mint %q", mint), Err: err}
	}

	treasury := g.signer.PublicKey()
	fromAccount, _, err := solana.FindAssociatedTokenAddress(treasury, mintKey)
	if err != nil {
		return "", &TransferError{Cause: "deriving treasury token account", Err: err}
	}
	toAccount, _, err := solana.FindAssociatedTokenAddress(to, mintKey)
	if err != nil {
		return "", &TransferError{Cause: "deriving recipient token account", Err: err}
	}

	var instructions []solana.Instruction
	if _, err := g.rpc.GetAccountInfo(ctx, toAccount); err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return "", &TransferError{Cause: "checking recipient token account", Err: err}
		}
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(treasury, to, mintKey).Build())
	}

	units := ToBaseUnits(amount, decimals)
	instructions = append(instructions,
		token.NewTransferInstruction(units, fromAccount, toAccount, treasury, nil).Build())

	sig, err := g.submit(ctx, instructions)
	if err != nil {
		return "", err
	}
	log.Printf("[CHAIN] token transfer successful: %s", sig)
	return sig.String(), nil
}

// submit signs the instruction set with the treasury key, sends it, and
// blocks until the transaction is confirmed or the wait window elapses.
func (g *Gateway) submit(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	g.submitMu.Lock()
	defer g.submitMu.Unlock()

	recent, err := g.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, &TransferError{Cause: "fetching recent blockhash", Err: err}
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(g.signer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, &TransferError{Cause: "building transaction", Err: err}
	}
	if err := g.signer.SignTransaction(tx); err != nil {
		return solana.Signature{}, &TransferError{Cause: "signing transaction", Err: err}
	}

	sig, err := g.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, &TransferError{Cause: "submitting transaction", Err: err}
	}

	if err := g.awaitConfirmation(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

func (g *Gateway) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(g.confirmWait)
	for {
		res, err := g.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return &TransferError{Cause: fmt.Sprintf("transaction %s failed on chain: %v", sig, status.Err)}
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		// Past this point the transaction is already with the cluster, so
		// giving up on the wait is not a clean failure.
		if time.Now().After(deadline) {
			return &UnconfirmedTransferError{
				Signature: sig.String(),
				Cause:     fmt.Sprintf("not confirmed within %s", g.confirmWait),
			}
		}
		select {
		case <-ctx.Done():
			return &UnconfirmedTransferError{
				Signature: sig.String(),
				Cause:     "confirmation wait canceled",
				Err:       ctx.Err(),
			}
		case <-time.After(confirmationPoll):
		}
	}
}

// ConfirmTransaction reports whether the transaction behind signature is
// visible at confirmed commitment. Used as the post-transfer verification
// step; false with a nil error means "not found", which settlement treats
// as a manual-intervention case.
func (g *Gateway) ConfirmTransaction(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("invalid transaction signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	out, err := g.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("querying transaction %s: %w", signature, err)
	}
	return out != nil, nil
}

// GetNativeBalance returns the SOL balance of address in human units.
func (g *Gateway) GetNativeBalance(ctx context.Context, address string) (float64, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	res, err := g.rpc.GetBalance(ctx, key, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("querying SOL balance: %w", err)
	}
	return FromBaseUnits(res.Value, SolDecimals), nil
}

// GetTokenBalance returns address's balance of the given SPL token in
// human units. A missing token account reads as zero, not an error.
func (g *Gateway) GetTokenBalance(ctx context.Context, address, mint string) (float64, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid token mint %q: %w", mint, err)
	}

	account, _, err := solana.FindAssociatedTokenAddress(owner, mintKey)
	if err != nil {
		return 0, fmt.Errorf("deriving token account: %w", err)
	}

	res, err := g.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		// The node reports a never-funded token account as an invalid
		// param, not a clean not-found.
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("querying token balance: %w", err)
	}
	if res.Value == nil {
		return 0, nil
	}
	if res.Value.UiAmount != nil {
		return *res.Value.UiAmount, nil
	}
	units, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing token balance %q: %w", res.Value.Amount, err)
	}
	return FromBaseUnits(units, res.Value.Decimals), nil
}
