package chain

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome classifies a monitored transaction.
type Outcome int

const (
	// OutcomeConfirmed: receipt observed with success status. Terminal.
	OutcomeConfirmed Outcome = iota + 1
	// OutcomeReverted: receipt observed with any non-success status. Terminal.
	OutcomeReverted
	// OutcomeTimedOut: no receipt before the deadline. NOT terminal and NOT a
	// failure: the transaction may still confirm later, so the caller must
	// treat this as "unknown, needs reconciliation" and must not resubmit the
	// conflicting mutation without checking first.
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeReverted:
		return "reverted"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Monitor polls the chain for a transaction receipt at a fixed interval,
// bounded by a timeout. Read-only; monitoring the same hash repeatedly is
// safe and yields the same terminal outcome.
type Monitor struct {
	client   Client
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Logger
}

// NewMonitor creates a monitor with the given poll interval and deadline.
func NewMonitor(client Client, interval, timeout time.Duration, log *logrus.Logger) *Monitor {
	if log == nil {
		log = logrus.New()
	}
	return &Monitor{client: client, interval: interval, timeout: timeout, log: log}
}

// Wait blocks until the transaction reaches a terminal outcome or the timeout
// elapses. The error is non-nil only for context cancellation; transient RPC
// failures are logged and retried on the next tick.
func (m *Monitor) Wait(ctx context.Context, txHash string) (Outcome, *Receipt, error) {
	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Check once up front so fast chains are not penalized a full interval.
	if outcome, receipt := m.check(ctx, txHash); outcome != 0 {
		return outcome, receipt, nil
	}

	for {
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-deadline.C:
			m.log.WithField("tx_hash", txHash).Warn("transaction confirmation timed out")
			return OutcomeTimedOut, nil, nil
		case <-ticker.C:
			if outcome, receipt := m.check(ctx, txHash); outcome != 0 {
				return outcome, receipt, nil
			}
		}
	}
}

func (m *Monitor) check(ctx context.Context, txHash string) (Outcome, *Receipt) {
	receipt, err := m.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if !errors.Is(err, ErrReceiptNotFound) {
			m.log.WithError(err).WithField("tx_hash", txHash).Warn("receipt poll failed")
		}
		return 0, nil
	}
	if receipt.Succeeded() {
		return OutcomeConfirmed, receipt
	}
	return OutcomeReverted, receipt
}
