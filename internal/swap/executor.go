// Package swap orchestrates single swaps end-to-end: quote, pre-flight
// checks, on-chain submission, confirmation, and the off-chain mirror update.
//
// The mirror is updated strictly after on-chain confirmation, never before
// and never concurrently with submission. An optimistic UI-style update ahead
// of confirmation is a correctness bug this design forbids.
package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aqarchain/liquidity-ledger/internal/amm"
	"github.com/aqarchain/liquidity-ledger/internal/cache"
	"github.com/aqarchain/liquidity-ledger/internal/chain"
	"github.com/aqarchain/liquidity-ledger/internal/models"
	"github.com/aqarchain/liquidity-ledger/internal/pool"
	"github.com/aqarchain/liquidity-ledger/internal/quote"
	"github.com/aqarchain/liquidity-ledger/internal/trade"
)

// mirror writes retry on version conflicts; the chain effect already
// happened, so giving up leaves the trade in pending_reconciliation.
const maxMirrorRetries = 5

// Result of an executed or attempted swap. When the trade's status is
// pending_reconciliation the swap is not failed: the caller polls the trade
// by tx hash until the reconciler resolves it.
type Result struct {
	Trade *models.Trade `json:"trade"`
	Quote *quote.Quote  `json:"quote"`
}

// Executor runs the two-phase, blockchain-first swap protocol.
type Executor struct {
	db        *gorm.DB
	pools     pool.Repository
	trades    trade.Repository
	chain     chain.Client
	verifier  *chain.BalanceVerifier
	monitor   *chain.Monitor
	locks     *amm.KeyedMutex
	poolCache *cache.PoolCache // nil disables invalidation
	log       *logrus.Logger
}

// NewExecutor creates a swap executor. poolCache may be nil.
func NewExecutor(
	db *gorm.DB,
	pools pool.Repository,
	trades trade.Repository,
	chainClient chain.Client,
	verifier *chain.BalanceVerifier,
	monitor *chain.Monitor,
	locks *amm.KeyedMutex,
	poolCache *cache.PoolCache,
	log *logrus.Logger,
) *Executor {
	if log == nil {
		log = logrus.New()
	}
	return &Executor{
		db:        db,
		pools:     pools,
		trades:    trades,
		chain:     chainClient,
		verifier:  verifier,
		monitor:   monitor,
		locks:     locks,
		poolCache: poolCache,
		log:       log,
	}
}

// GetQuote prices a hypothetical trade against the current mirror snapshot.
// Pure preview: no locks, no chain interaction.
func (e *Executor) GetQuote(ctx context.Context, poolID string, dir quote.Direction, amountIn decimal.Decimal) (*quote.Quote, error) {
	p, err := e.loadActivePool(poolID)
	if err != nil {
		return nil, err
	}
	return quote.Compute(snapshotOf(p), dir, amountIn.BigInt())
}

// GetTrade returns the trade recorded under txHash, or nil if unknown.
func (e *Executor) GetTrade(ctx context.Context, txHash string) (*models.Trade, error) {
	return e.trades.GetByTxHash(txHash)
}

// ExecuteSwap runs one swap under the pool's lock:
//
//  1. quote against the current snapshot, rejecting on slippage
//  2. verify the on-chain balance of the input asset
//  3. submit the swap transaction
//  4. monitor for confirmation, bounded by the monitor's timeout
//  5. on confirmation only, atomically mirror reserves, stats and trade status
//
// Steps 1-2 reject without any chain mutation. A submission failure creates
// no trade record. A revert records a failed trade and leaves reserves
// untouched. A timeout records pending_reconciliation and leaves reserves
// untouched until the reconciler observes a terminal outcome.
func (e *Executor) ExecuteSwap(ctx context.Context, poolID, userAddress string, dir quote.Direction, amountIn, minAmountOut decimal.Decimal) (*Result, error) {
	unlock := e.locks.Lock(poolID)
	defer unlock()

	p, err := e.loadActivePool(poolID)
	if err != nil {
		return nil, err
	}

	q, err := quote.Compute(snapshotOf(p), dir, amountIn.BigInt())
	if err != nil {
		return nil, err
	}
	if q.AmountOut.Cmp(minAmountOut.BigInt()) < 0 {
		return nil, fmt.Errorf("%w: quoted %s below minimum %s",
			amm.ErrSlippageExceeded, q.AmountOut, minAmountOut)
	}

	if dir == quote.DirectionSell {
		err = e.verifier.VerifyToken(ctx, userAddress, p.PropertyID, q.AmountIn)
	} else {
		err = e.verifier.VerifyStablecoin(ctx, userAddress, q.AmountIn)
	}
	if err != nil {
		return nil, err
	}

	var txHash string
	if dir == quote.DirectionSell {
		txHash, err = e.chain.SwapTokensForEGP(ctx, p.PropertyID, q.AmountIn, minAmountOut.BigInt())
	} else {
		txHash, err = e.chain.SwapEGPForTokens(ctx, p.PropertyID, q.AmountIn, minAmountOut.BigInt())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", amm.ErrSubmissionFailed, err)
	}

	t := tradeFromQuote(poolID, userAddress, txHash, q)
	if err := e.trades.Create(t); err != nil {
		// The transaction is in flight but untracked; this is the one write
		// that must not fail silently.
		e.log.WithError(err).WithField("tx_hash", txHash).Error("failed to record submitted trade")
		return nil, fmt.Errorf("record trade: %w", err)
	}

	logger := e.log.WithFields(logrus.Fields{
		"pool_id":   poolID,
		"tx_hash":   txHash,
		"direction": string(dir),
	})

	outcome, receipt, err := e.monitor.Wait(ctx, txHash)
	if err != nil {
		// Context cancelled mid-monitoring. The transaction cannot be
		// cancelled; park the trade for reconciliation.
		e.park(t)
		return &Result{Trade: t, Quote: q}, fmt.Errorf("monitoring interrupted: %w", err)
	}

	switch outcome {
	case chain.OutcomeReverted:
		if terr := e.trades.Transition(txHash, []models.TradeStatus{models.TradeStatusPending}, models.TradeStatusFailed); terr != nil {
			logger.WithError(terr).Error("failed to mark reverted trade")
		}
		t.Status = models.TradeStatusFailed
		t.BlockNumber = receipt.BlockNumber
		return &Result{Trade: t, Quote: q}, amm.ErrChainRevert

	case chain.OutcomeTimedOut:
		logger.Warn("swap confirmation timed out, parked for reconciliation")
		e.park(t)
		return &Result{Trade: t, Quote: q}, nil
	}

	if err := e.applyMirror(ctx, t, receipt); err != nil {
		logger.WithError(err).Error("mirror update failed after confirmation")
		e.park(t)
		return &Result{Trade: t, Quote: q}, nil
	}

	logger.WithField("block", receipt.BlockNumber).Info("swap completed")
	return &Result{Trade: t, Quote: q}, nil
}

// Finalize resolves a reconciled trade whose terminal on-chain outcome is now
// known. Safe to call repeatedly: the guarded status transition applies the
// mirror update at most once.
func (e *Executor) Finalize(ctx context.Context, t *models.Trade, receipt *chain.Receipt) error {
	unlock := e.locks.Lock(t.PoolID)
	defer unlock()

	if !receipt.Succeeded() {
		err := e.trades.Transition(t.TxHash,
			[]models.TradeStatus{models.TradeStatusPendingReconciliation}, models.TradeStatusFailed)
		if errors.Is(err, trade.ErrStatusConflict) {
			return nil // already resolved
		}
		return err
	}
	return e.applyMirror(ctx, t, receipt)
}

// park moves a submitted trade into pending_reconciliation.
func (e *Executor) park(t *models.Trade) {
	err := e.trades.Transition(t.TxHash,
		[]models.TradeStatus{models.TradeStatusPending}, models.TradeStatusPendingReconciliation)
	if err != nil && !errors.Is(err, trade.ErrStatusConflict) {
		e.log.WithError(err).WithField("tx_hash", t.TxHash).Error("failed to park trade for reconciliation")
	}
	t.Status = models.TradeStatusPendingReconciliation
}

// applyMirror atomically applies a confirmed swap to the pool row and closes
// the trade. Retries with a fresh snapshot on version conflicts; the trade
// transition guard keeps the whole thing exactly-once.
func (e *Executor) applyMirror(ctx context.Context, t *models.Trade, receipt *chain.Receipt) error {
	for attempt := 0; attempt < maxMirrorRetries; attempt++ {
		p, err := e.pools.GetByPoolID(t.PoolID)
		if err != nil {
			return err
		}
		if p == nil {
			return amm.ErrPoolNotFound
		}

		if err := applySwapToPool(p, t); err != nil {
			return err
		}

		err = e.db.Transaction(func(tx *gorm.DB) error {
			if err := e.pools.WithTx(tx).UpdateSnapshot(p); err != nil {
				return err
			}
			return e.trades.WithTx(tx).Complete(t.TxHash, receipt.BlockNumber)
		})
		if errors.Is(err, pool.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, trade.ErrStatusConflict) {
			// Another finalizer already applied this trade.
			return nil
		}
		if err != nil {
			return err
		}

		t.Status = models.TradeStatusCompleted
		t.BlockNumber = receipt.BlockNumber
		if e.poolCache != nil {
			if cerr := e.poolCache.Invalidate(ctx, t.PoolID); cerr != nil {
				e.log.WithError(cerr).WithField("pool_id", t.PoolID).Warn("pool cache invalidation failed")
			}
		}
		return nil
	}
	return fmt.Errorf("mirror update: %w after %d attempts", pool.ErrVersionConflict, maxMirrorRetries)
}

func (e *Executor) loadActivePool(poolID string) (*models.Pool, error) {
	p, err := e.pools.GetByPoolID(poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, amm.ErrPoolNotFound
	}
	if !p.IsActive {
		return nil, amm.ErrPoolInactive
	}
	return p, nil
}

func snapshotOf(p *models.Pool) quote.Snapshot {
	return quote.Snapshot{
		TokenReserve: p.TokenReserve.BigInt(),
		EGPReserve:   p.EGPReserve.BigInt(),
	}
}

func tradeFromQuote(poolID, userAddress, txHash string, q *quote.Quote) *models.Trade {
	t := &models.Trade{
		PoolID:          poolID,
		UserAddress:     userAddress,
		TxHash:          txHash,
		Status:          models.TradeStatusPending,
		ExecutionPrice:  q.ExecutionPrice,
		SlippagePercent: q.PriceImpact,
		FeeAmount:       decimal.NewFromBigInt(q.FeeAmount, 0),
	}
	if q.Direction == quote.DirectionSell {
		t.Type = models.TradeTypeSell
		t.TokenAmount = decimal.NewFromBigInt(q.AmountIn, 0)
		t.EGPAmount = decimal.NewFromBigInt(q.AmountOut, 0)
	} else {
		t.Type = models.TradeTypeBuy
		t.EGPAmount = decimal.NewFromBigInt(q.AmountIn, 0)
		t.TokenAmount = decimal.NewFromBigInt(q.AmountOut, 0)
	}
	return t
}

// applySwapToPool mutates the in-memory pool row with one confirmed swap.
// Volume and fee aggregates are EGP-denominated; a SELL's token fee is
// converted at the trade's execution price.
func applySwapToPool(p *models.Pool, t *models.Trade) error {
	switch t.Type {
	case models.TradeTypeSell:
		p.TokenReserve = p.TokenReserve.Add(t.TokenAmount)
		p.EGPReserve = p.EGPReserve.Sub(t.EGPAmount)
		p.TotalFeesEarned = p.TotalFeesEarned.Add(t.FeeAmount.Mul(t.ExecutionPrice).Floor())
	case models.TradeTypeBuy:
		p.EGPReserve = p.EGPReserve.Add(t.EGPAmount)
		p.TokenReserve = p.TokenReserve.Sub(t.TokenAmount)
		p.TotalFeesEarned = p.TotalFeesEarned.Add(t.FeeAmount)
	default:
		return fmt.Errorf("trade %s is not a swap", t.TxHash)
	}

	if p.TokenReserve.Sign() <= 0 || p.EGPReserve.Sign() <= 0 {
		return fmt.Errorf("swap %s would drain pool %s reserves", t.TxHash, p.PoolID)
	}
	p.Volume24h = p.Volume24h.Add(t.EGPAmount)
	return nil
}
