package chain

import "fmt"

// TransferError covers every failure between building a transfer and
// seeing it confirmed: RPC timeouts, insufficient fee balance, invalid
// accounts, on-chain execution errors. Callers only need the cause string
// for logging; they never branch on sub-causes.
type TransferError struct {
	Cause string
	Err   error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain transfer failed: %s: %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("chain transfer failed: %s", e.Cause)
}

func (e *TransferError) Unwrap() error { return e.Err }

// UnconfirmedTransferError means the transaction was handed to the
// cluster but its fate is unknown: the confirmation wait timed out or was
// canceled after submission. The funds may still land, so callers must
// treat this as "possibly paid", never as a clean failure. Signature is
// always set.
type UnconfirmedTransferError struct {
	Signature string
	Cause     string
	Err       error
}

func (e *UnconfirmedTransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s submitted but unconfirmed: %s: %v", e.Signature, e.Cause, e.Err)
	}
	return fmt.Sprintf("transfer %s submitted but unconfirmed: %s", e.Signature, e.Cause)
}

func (e *UnconfirmedTransferError) Unwrap() error { return e.Err }
