// services/settlement_errors.go
package services

import (
	"errors"
	"fmt"
	"strings"
)

// Precondition failures. All of them fire before any chain call or ledger
// write, so a webhook redelivery can safely retry.
var (
	ErrIssueNotFound     = errors.New("issue not found in our database")
	ErrUserNotRegistered = errors.New("user is not registered in our app")
	ErrIssueNotOpen      = errors.New("issue is not open for rewards")
	ErrNoWalletLinked    = errors.New("user has no valid wallet address linked")
	ErrNoRewardSet       = errors.New("issue has no token reward set")
)

// ErrAlreadyRewarded means another settlement committed first. The issue
// IS rewarded; callers treat this as a duplicate delivery, not a failure.
var ErrAlreadyRewarded = errors.New("issue has already been rewarded")

// ErrTransactionUnverified means a transfer was submitted but could not
// be verified on chain. Funds may have left the treasury; manual
// reconciliation required, never a blind retry.
var ErrTransactionUnverified = errors.New("transaction could not be verified on chain")

// SecurityCheckError carries every failed check, not just the first one,
// so operators see the complete picture.
type SecurityCheckError struct {
	Failures []string
}

func (e *SecurityCheckError) Error() string {
	return "security checks failed: " + strings.Join(e.Failures, ", ")
}

// SuspiciousActivityError flags a contributor whose recent activity
// matched one or more abuse patterns.
type SuspiciousActivityError struct {
	Patterns []string
}

func (e *SuspiciousActivityError) Error() string {
	return "suspicious activity detected: " + strings.Join(e.Patterns, ", ")
}

// CommitError means the transfer is confirmed on chain but the ledger
// commit failed. The payout happened without a durable record; the
// signature is preserved for manual reconciliation.
type CommitError struct {
	Signature string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("ledger commit failed after confirmed transfer %s: %v", e.Signature, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
