// Package reconcile resolves trades left in pending_reconciliation: a
// timed-out transaction is unknown, not failed, so this worker re-checks the
// chain until a terminal outcome is observed and applies the mirror update
// exactly once through the owning component's finalizer.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aqarchain/liquidity-ledger/internal/chain"
	"github.com/aqarchain/liquidity-ledger/internal/models"
	"github.com/aqarchain/liquidity-ledger/internal/trade"
)

// Finalizer applies a terminal on-chain outcome to the mirror for one trade.
// Implemented by the swap executor (BUY/SELL) and the liquidity manager
// (ADD_LIQUIDITY/REMOVE_LIQUIDITY).
type Finalizer interface {
	Finalize(ctx context.Context, t *models.Trade, receipt *chain.Receipt) error
}

// Reconciler periodically sweeps stale pending trades.
type Reconciler struct {
	trades    trade.Repository
	chain     chain.Client
	swaps     Finalizer
	liquidity Finalizer
	interval  time.Duration
	minAge    time.Duration
	batchSize int
	log       *logrus.Logger
}

// New creates a reconciler sweeping every interval, considering only trades
// older than minAge so it never races a swap still being monitored inline.
func New(
	trades trade.Repository,
	chainClient chain.Client,
	swaps Finalizer,
	liquidity Finalizer,
	interval, minAge time.Duration,
	log *logrus.Logger,
) *Reconciler {
	if log == nil {
		log = logrus.New()
	}
	return &Reconciler{
		trades:    trades,
		chain:     chainClient,
		swaps:     swaps,
		liquidity: liquidity,
		interval:  interval,
		minAge:    minAge,
		batchSize: 50,
		log:       log,
	}
}

// Run sweeps until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval).Info("starting trade reconciler")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.WithError(err).Error("reconciliation sweep failed")
			}
		}
	}
}

// Sweep resolves one batch of stale pending trades. Trades whose receipt is
// still missing stay pending for the next sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.minAge)
	pending, err := r.trades.ListPendingReconciliation(cutoff, r.batchSize)
	if err != nil {
		return err
	}

	for _, t := range pending {
		if err := r.resolve(ctx, t); err != nil {
			r.log.WithError(err).WithField("tx_hash", t.TxHash).Warn("failed to reconcile trade")
		}
	}
	return nil
}

func (r *Reconciler) resolve(ctx context.Context, t *models.Trade) error {
	receipt, err := r.chain.TransactionReceipt(ctx, t.TxHash)
	if err != nil {
		if errors.Is(err, chain.ErrReceiptNotFound) {
			return nil // still unconfirmed, check again next sweep
		}
		return err
	}

	logger := r.log.WithFields(logrus.Fields{
		"tx_hash":   t.TxHash,
		"pool_id":   t.PoolID,
		"type":      string(t.Type),
		"succeeded": receipt.Succeeded(),
	})

	var finalizer Finalizer
	switch t.Type {
	case models.TradeTypeBuy, models.TradeTypeSell:
		finalizer = r.swaps
	case models.TradeTypeAddLiquidity, models.TradeTypeRemoveLiquidity:
		finalizer = r.liquidity
	default:
		logger.Error("unknown trade type, skipping")
		return nil
	}

	if err := finalizer.Finalize(ctx, t, receipt); err != nil {
		return err
	}
	logger.Info("trade reconciled")
	return nil
}
