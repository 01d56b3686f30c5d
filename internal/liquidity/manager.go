// Package liquidity manages add/remove-liquidity operations: proportional
// LP-token accounting, reserve mutation, and per-provider position
// bookkeeping. Like swaps, liquidity operations are blockchain-first: the
// mirror is only touched after on-chain confirmation.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aqarchain/liquidity-ledger/internal/amm"
	"github.com/aqarchain/liquidity-ledger/internal/cache"
	"github.com/aqarchain/liquidity-ledger/internal/chain"
	"github.com/aqarchain/liquidity-ledger/internal/models"
	"github.com/aqarchain/liquidity-ledger/internal/pool"
	"github.com/aqarchain/liquidity-ledger/internal/trade"
)

const maxMirrorRetries = 5

// Result of a liquidity operation. Refunds report the over-supplied excess
// that was never taken from the caller; it is not an on-chain transfer.
type Result struct {
	Trade       *models.Trade   `json:"trade"`
	LPTokens    decimal.Decimal `json:"lp_tokens"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	EGPAmount   decimal.Decimal `json:"egp_amount"`
	RefundToken decimal.Decimal `json:"refund_token"`
	RefundEGP   decimal.Decimal `json:"refund_egp"`
}

// Manager orchestrates liquidity provisioning against the chain and mirror.
type Manager struct {
	db        *gorm.DB
	pools     pool.Repository
	positions PositionRepository
	trades    trade.Repository
	chain     chain.Client
	verifier  *chain.BalanceVerifier
	monitor   *chain.Monitor
	locks     *amm.KeyedMutex
	poolCache *cache.PoolCache
	log       *logrus.Logger
}

// NewManager creates a liquidity manager. poolCache may be nil.
func NewManager(
	db *gorm.DB,
	pools pool.Repository,
	positions PositionRepository,
	trades trade.Repository,
	chainClient chain.Client,
	verifier *chain.BalanceVerifier,
	monitor *chain.Monitor,
	locks *amm.KeyedMutex,
	poolCache *cache.PoolCache,
	log *logrus.Logger,
) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		db:        db,
		pools:     pools,
		positions: positions,
		trades:    trades,
		chain:     chainClient,
		verifier:  verifier,
		monitor:   monitor,
		locks:     locks,
		poolCache: poolCache,
		log:       log,
	}
}

// GetUserPositions returns the user's active positions across all pools.
func (m *Manager) GetUserPositions(ctx context.Context, userAddress string) ([]*models.LiquidityPosition, error) {
	return m.positions.ListByUser(userAddress)
}

// mintPlan is the integer outcome of pricing a deposit against the pool.
type mintPlan struct {
	minted      *big.Int
	tokenUsed   *big.Int
	egpUsed     *big.Int
	refundToken *big.Int
	refundEGP   *big.Int
}

// planMint computes LP tokens for a deposit. The smaller of the two
// amount/reserve ratios wins so the pool's price ratio is preserved; the
// over-supplied asset's excess is refunded, never silently retained. A first
// deposit into an empty pool mints sqrt(token*egp), the standard bootstrap,
// since no ratio exists yet to preserve. All divisions truncate.
func planMint(p *models.Pool, tokenAmount, egpAmount *big.Int) *mintPlan {
	totalLP := p.TotalLPTokens.BigInt()
	zero := big.NewInt(0)

	if totalLP.Sign() == 0 {
		product := new(big.Int).Mul(tokenAmount, egpAmount)
		return &mintPlan{
			minted:      new(big.Int).Sqrt(product),
			tokenUsed:   new(big.Int).Set(tokenAmount),
			egpUsed:     new(big.Int).Set(egpAmount),
			refundToken: zero,
			refundEGP:   zero,
		}
	}

	tokenReserve := p.TokenReserve.BigInt()
	egpReserve := p.EGPReserve.BigInt()

	lpFromToken := new(big.Int).Mul(tokenAmount, totalLP)
	lpFromToken.Quo(lpFromToken, tokenReserve)
	lpFromEGP := new(big.Int).Mul(egpAmount, totalLP)
	lpFromEGP.Quo(lpFromEGP, egpReserve)

	if lpFromToken.Cmp(lpFromEGP) <= 0 {
		// Token side limits; part of the EGP is excess.
		egpUsed := new(big.Int).Mul(tokenAmount, egpReserve)
		egpUsed.Quo(egpUsed, tokenReserve)
		return &mintPlan{
			minted:      lpFromToken,
			tokenUsed:   new(big.Int).Set(tokenAmount),
			egpUsed:     egpUsed,
			refundToken: zero,
			refundEGP:   new(big.Int).Sub(egpAmount, egpUsed),
		}
	}

	tokenUsed := new(big.Int).Mul(egpAmount, tokenReserve)
	tokenUsed.Quo(tokenUsed, egpReserve)
	return &mintPlan{
		minted:      lpFromEGP,
		tokenUsed:   tokenUsed,
		egpUsed:     new(big.Int).Set(egpAmount),
		refundToken: new(big.Int).Sub(tokenAmount, tokenUsed),
		refundEGP:   zero,
	}
}

// AddLiquidity deposits into a pool: plan the mint, verify balances, submit
// on-chain, confirm, then mirror reserves, LP supply and the position.
func (m *Manager) AddLiquidity(ctx context.Context, poolID, userAddress string, tokenAmount, egpAmount, minLPOut decimal.Decimal) (*Result, error) {
	unlock := m.locks.Lock(poolID)
	defer unlock()

	p, err := m.loadActivePool(poolID)
	if err != nil {
		return nil, err
	}

	tok, egp := tokenAmount.BigInt(), egpAmount.BigInt()
	if tok.Sign() <= 0 || egp.Sign() <= 0 {
		return nil, amm.ErrInvalidAmount
	}

	plan := planMint(p, tok, egp)
	if plan.minted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint LP tokens", amm.ErrInvalidAmount)
	}
	if plan.minted.Cmp(minLPOut.BigInt()) < 0 {
		return nil, fmt.Errorf("%w: would mint %s below minimum %s",
			amm.ErrSlippageExceeded, plan.minted, minLPOut)
	}

	if err := m.verifier.VerifyToken(ctx, userAddress, p.PropertyID, plan.tokenUsed); err != nil {
		return nil, err
	}
	if err := m.verifier.VerifyStablecoin(ctx, userAddress, plan.egpUsed); err != nil {
		return nil, err
	}

	txHash, err := m.chain.AddLiquidity(ctx, p.PropertyID, plan.tokenUsed, plan.egpUsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", amm.ErrSubmissionFailed, err)
	}

	t := &models.Trade{
		PoolID:         poolID,
		UserAddress:    userAddress,
		Type:           models.TradeTypeAddLiquidity,
		Status:         models.TradeStatusPending,
		TokenAmount:    decimal.NewFromBigInt(plan.tokenUsed, 0),
		EGPAmount:      decimal.NewFromBigInt(plan.egpUsed, 0),
		LPAmount:       decimal.NewFromBigInt(plan.minted, 0),
		ExecutionPrice: currentPrice(p),
		TxHash:         txHash,
	}
	if err := m.trades.Create(t); err != nil {
		m.log.WithError(err).WithField("tx_hash", txHash).Error("failed to record liquidity trade")
		return nil, fmt.Errorf("record trade: %w", err)
	}

	res := &Result{
		Trade:       t,
		LPTokens:    t.LPAmount,
		TokenAmount: t.TokenAmount,
		EGPAmount:   t.EGPAmount,
		RefundToken: decimal.NewFromBigInt(plan.refundToken, 0),
		RefundEGP:   decimal.NewFromBigInt(plan.refundEGP, 0),
	}
	return m.await(ctx, t, res)
}

// RemoveLiquidity burns LP tokens from the caller's position and withdraws
// the pro-rata share of both reserves.
func (m *Manager) RemoveLiquidity(ctx context.Context, poolID, userAddress string, lpTokens, minTokenOut, minEGPOut decimal.Decimal) (*Result, error) {
	unlock := m.locks.Lock(poolID)
	defer unlock()

	p, err := m.loadActivePool(poolID)
	if err != nil {
		return nil, err
	}

	lp := lpTokens.BigInt()
	if lp.Sign() <= 0 {
		return nil, amm.ErrInvalidAmount
	}

	position, err := m.positions.GetByUserAndPool(userAddress, poolID)
	if err != nil {
		return nil, err
	}
	if position == nil || !position.IsActive || position.LPTokens.BigInt().Cmp(lp) < 0 {
		return nil, amm.ErrInsufficientPosition
	}

	totalLP := p.TotalLPTokens.BigInt()
	tokenOut := new(big.Int).Mul(lp, p.TokenReserve.BigInt())
	tokenOut.Quo(tokenOut, totalLP)
	egpOut := new(big.Int).Mul(lp, p.EGPReserve.BigInt())
	egpOut.Quo(egpOut, totalLP)

	if tokenOut.Cmp(minTokenOut.BigInt()) < 0 || egpOut.Cmp(minEGPOut.BigInt()) < 0 {
		return nil, fmt.Errorf("%w: withdrawal of %s tokens / %s EGP below floor",
			amm.ErrSlippageExceeded, tokenOut, egpOut)
	}

	txHash, err := m.chain.RemoveLiquidity(ctx, p.PropertyID, lp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", amm.ErrSubmissionFailed, err)
	}

	t := &models.Trade{
		PoolID:         poolID,
		UserAddress:    userAddress,
		Type:           models.TradeTypeRemoveLiquidity,
		Status:         models.TradeStatusPending,
		TokenAmount:    decimal.NewFromBigInt(tokenOut, 0),
		EGPAmount:      decimal.NewFromBigInt(egpOut, 0),
		LPAmount:       decimal.NewFromBigInt(lp, 0),
		ExecutionPrice: currentPrice(p),
		TxHash:         txHash,
	}
	if err := m.trades.Create(t); err != nil {
		m.log.WithError(err).WithField("tx_hash", txHash).Error("failed to record liquidity trade")
		return nil, fmt.Errorf("record trade: %w", err)
	}

	res := &Result{
		Trade:       t,
		LPTokens:    t.LPAmount,
		TokenAmount: t.TokenAmount,
		EGPAmount:   t.EGPAmount,
		RefundToken: decimal.Zero,
		RefundEGP:   decimal.Zero,
	}
	return m.await(ctx, t, res)
}

// await monitors the submitted transaction and applies the mirror on
// confirmation. Shared tail of both liquidity operations.
func (m *Manager) await(ctx context.Context, t *models.Trade, res *Result) (*Result, error) {
	logger := m.log.WithFields(logrus.Fields{
		"pool_id": t.PoolID,
		"tx_hash": t.TxHash,
		"type":    string(t.Type),
	})

	outcome, receipt, err := m.monitor.Wait(ctx, t.TxHash)
	if err != nil {
		m.park(t)
		return res, fmt.Errorf("monitoring interrupted: %w", err)
	}

	switch outcome {
	case chain.OutcomeReverted:
		if terr := m.trades.Transition(t.TxHash, []models.TradeStatus{models.TradeStatusPending}, models.TradeStatusFailed); terr != nil {
			logger.WithError(terr).Error("failed to mark reverted trade")
		}
		t.Status = models.TradeStatusFailed
		t.BlockNumber = receipt.BlockNumber
		return res, amm.ErrChainRevert

	case chain.OutcomeTimedOut:
		logger.Warn("liquidity confirmation timed out, parked for reconciliation")
		m.park(t)
		return res, nil
	}

	if err := m.applyMirror(ctx, t, receipt); err != nil {
		logger.WithError(err).Error("mirror update failed after confirmation")
		m.park(t)
		return res, nil
	}

	logger.WithField("block", receipt.BlockNumber).Info("liquidity operation completed")
	return res, nil
}

// Finalize resolves a reconciled liquidity trade once its terminal on-chain
// outcome is known. Idempotent via the guarded trade transition.
func (m *Manager) Finalize(ctx context.Context, t *models.Trade, receipt *chain.Receipt) error {
	unlock := m.locks.Lock(t.PoolID)
	defer unlock()

	if !receipt.Succeeded() {
		err := m.trades.Transition(t.TxHash,
			[]models.TradeStatus{models.TradeStatusPendingReconciliation}, models.TradeStatusFailed)
		if errors.Is(err, trade.ErrStatusConflict) {
			return nil
		}
		return err
	}
	return m.applyMirror(ctx, t, receipt)
}

func (m *Manager) park(t *models.Trade) {
	err := m.trades.Transition(t.TxHash,
		[]models.TradeStatus{models.TradeStatusPending}, models.TradeStatusPendingReconciliation)
	if err != nil && !errors.Is(err, trade.ErrStatusConflict) {
		m.log.WithError(err).WithField("tx_hash", t.TxHash).Error("failed to park trade for reconciliation")
	}
	t.Status = models.TradeStatusPendingReconciliation
}

// applyMirror applies a confirmed liquidity trade to the pool row and the
// provider's position in one database transaction, CAS-retried on version
// conflicts and exactly-once via the trade transition guard.
func (m *Manager) applyMirror(ctx context.Context, t *models.Trade, receipt *chain.Receipt) error {
	for attempt := 0; attempt < maxMirrorRetries; attempt++ {
		p, err := m.pools.GetByPoolID(t.PoolID)
		if err != nil {
			return err
		}
		if p == nil {
			return amm.ErrPoolNotFound
		}

		switch t.Type {
		case models.TradeTypeAddLiquidity:
			p.TokenReserve = p.TokenReserve.Add(t.TokenAmount)
			p.EGPReserve = p.EGPReserve.Add(t.EGPAmount)
			p.TotalLPTokens = p.TotalLPTokens.Add(t.LPAmount)
		case models.TradeTypeRemoveLiquidity:
			p.TokenReserve = p.TokenReserve.Sub(t.TokenAmount)
			p.EGPReserve = p.EGPReserve.Sub(t.EGPAmount)
			p.TotalLPTokens = p.TotalLPTokens.Sub(t.LPAmount)
			if p.TokenReserve.IsNegative() || p.EGPReserve.IsNegative() || p.TotalLPTokens.IsNegative() {
				return fmt.Errorf("trade %s would drain pool %s", t.TxHash, p.PoolID)
			}
		default:
			return fmt.Errorf("trade %s is not a liquidity operation", t.TxHash)
		}

		err = m.db.Transaction(func(tx *gorm.DB) error {
			if err := m.pools.WithTx(tx).UpdateSnapshot(p); err != nil {
				return err
			}
			if err := m.mirrorPosition(tx, t); err != nil {
				return err
			}
			return m.trades.WithTx(tx).Complete(t.TxHash, receipt.BlockNumber)
		})
		if errors.Is(err, pool.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, trade.ErrStatusConflict) {
			return nil // already applied
		}
		if err != nil {
			return err
		}

		t.Status = models.TradeStatusCompleted
		t.BlockNumber = receipt.BlockNumber
		if m.poolCache != nil {
			if cerr := m.poolCache.Invalidate(ctx, t.PoolID); cerr != nil {
				m.log.WithError(cerr).WithField("pool_id", t.PoolID).Warn("pool cache invalidation failed")
			}
		}
		return nil
	}
	return fmt.Errorf("mirror update: %w after %d attempts", pool.ErrVersionConflict, maxMirrorRetries)
}

// mirrorPosition upserts the provider's position inside the mirror
// transaction. Deposits accumulate into an existing row (reactivating it if
// needed); withdrawals burn LP and deactivate at zero. Initial deposit
// amounts are kept as the position's cost basis and are not reduced by
// withdrawals.
func (m *Manager) mirrorPosition(tx *gorm.DB, t *models.Trade) error {
	positions := m.positions.WithTx(tx)
	position, err := positions.GetByUserAndPool(t.UserAddress, t.PoolID)
	if err != nil {
		return err
	}

	switch t.Type {
	case models.TradeTypeAddLiquidity:
		if position == nil {
			return positions.Create(&models.LiquidityPosition{
				UserAddress:        t.UserAddress,
				PoolID:             t.PoolID,
				LPTokens:           t.LPAmount,
				InitialTokenAmount: t.TokenAmount,
				InitialEGPAmount:   t.EGPAmount,
				FeesEarned:         decimal.Zero,
				IsActive:           true,
			})
		}
		position.LPTokens = position.LPTokens.Add(t.LPAmount)
		position.InitialTokenAmount = position.InitialTokenAmount.Add(t.TokenAmount)
		position.InitialEGPAmount = position.InitialEGPAmount.Add(t.EGPAmount)
		position.IsActive = true
		return positions.Update(position)

	case models.TradeTypeRemoveLiquidity:
		if position == nil {
			return amm.ErrInsufficientPosition
		}
		position.LPTokens = position.LPTokens.Sub(t.LPAmount)
		if position.LPTokens.IsNegative() {
			return amm.ErrInsufficientPosition
		}
		if position.LPTokens.IsZero() {
			position.IsActive = false
		}
		return positions.Update(position)
	}
	return nil
}

func (m *Manager) loadActivePool(poolID string) (*models.Pool, error) {
	p, err := m.pools.GetByPoolID(poolID)
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

func currentPrice(p *models.Pool) decimal.Decimal {
	if p.TokenReserve.IsZero() {
		return decimal.Zero
	}
	return p.EGPReserve.Div(p.TokenReserve)
}
