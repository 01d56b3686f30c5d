// Package amm holds the shared error taxonomy and per-pool locking used by
// the swap executor, the liquidity manager, and the reconciler.
package amm

import "errors"

// Pre-flight errors: returned before any chain-mutating call is issued.
var (
	ErrPoolNotFound         = errors.New("pool not found")
	ErrPoolInactive         = errors.New("pool is inactive")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrSlippageExceeded     = errors.New("slippage tolerance exceeded")
	ErrInsufficientPosition = errors.New("insufficient liquidity position")
)

// ErrSubmissionFailed wraps network or signing failures raised while
// submitting a transaction. No on-chain state was created; safe to retry.
var ErrSubmissionFailed = errors.New("transaction submission failed")

// Post-submission outcomes. ErrChainRevert is terminal; ErrPendingConfirmation
// is not a failure: the transaction may still confirm and the trade stays in
// pending_reconciliation until the reconciler observes a final outcome.
var (
	ErrChainRevert         = errors.New("transaction reverted on-chain")
	ErrPendingConfirmation = errors.New("transaction pending confirmation")
)
