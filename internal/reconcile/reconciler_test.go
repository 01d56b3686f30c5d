package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/aqarchain/liquidity-ledger/internal/amm"
	"github.com/aqarchain/liquidity-ledger/internal/chain"
	"github.com/aqarchain/liquidity-ledger/internal/liquidity"
	"github.com/aqarchain/liquidity-ledger/internal/models"
	"github.com/aqarchain/liquidity-ledger/internal/pool"
	"github.com/aqarchain/liquidity-ledger/internal/swap"
	"github.com/aqarchain/liquidity-ledger/internal/trade"
)

const (
	testUser     = "0x1111111111111111111111111111111111111111"
	testPoolID   = "pool-1"
	testProperty = "42"
)

// receiptChain is a read-only chain stub: receipts are scripted per hash and
// everything else is unreachable during reconciliation.
type receiptChain struct {
	mu       sync.Mutex
	receipts map[string]*chain.Receipt
}

func newReceiptChain() *receiptChain {
	return &receiptChain{receipts: make(map[string]*chain.Receipt)}
}

func (c *receiptChain) confirm(txHash string, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txHash] = &chain.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: block}
}

func (c *receiptChain) revert(txHash string, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txHash] = &chain.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: block}
}

func (c *receiptChain) TransactionReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return receipt, nil
}

func (c *receiptChain) SwapTokensForEGP(ctx context.Context, propertyID string, tokenAmountIn, minEGPOut *big.Int) (string, error) {
	return "", errors.New("not supported")
}

func (c *receiptChain) SwapEGPForTokens(ctx context.Context, propertyID string, egpAmountIn, minTokensOut *big.Int) (string, error) {
	return "", errors.New("not supported")
}

func (c *receiptChain) AddLiquidity(ctx context.Context, propertyID string, tokenAmount, egpAmount *big.Int) (string, error) {
	return "", errors.New("not supported")
}

func (c *receiptChain) RemoveLiquidity(ctx context.Context, propertyID string, lpTokens *big.Int) (string, error) {
	return "", errors.New("not supported")
}

func (c *receiptChain) TokenBalance(ctx context.Context, account, propertyID string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *receiptChain) StablecoinBalance(ctx context.Context, account string) (*big.Int, error) {
	return big.NewInt(0), nil
}

type testEnv struct {
	db         *gorm.DB
	pools      pool.Repository
	trades     trade.Repository
	positions  liquidity.PositionRepository
	chain      *receiptChain
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Pool{}, &models.Trade{}, &models.LiquidityPosition{}))

	client := newReceiptChain()
	pools := pool.NewRepository(db)
	trades := trade.NewRepository(db)
	positions := liquidity.NewPositionRepository(db)
	locks := amm.NewKeyedMutex()
	verifier := chain.NewBalanceVerifier(client)
	monitor := chain.NewMonitor(client, 2*time.Millisecond, 50*time.Millisecond, nil)

	executor := swap.NewExecutor(db, pools, trades, client, verifier, monitor, locks, nil, nil)
	manager := liquidity.NewManager(db, pools, positions, trades, client, verifier, monitor, locks, nil, nil)
	reconciler := New(trades, client, executor, manager, time.Minute, 0, nil)

	return &testEnv{db: db, pools: pools, trades: trades, positions: positions, chain: client, reconciler: reconciler}
}

func (env *testEnv) seedPool(t *testing.T, tokenReserve, egpReserve, totalLP int64) {
	t.Helper()
	require.NoError(t, env.pools.Create(&models.Pool{
		PoolID:        testPoolID,
		PropertyID:    testProperty,
		PoolAddress:   "0x3333333333333333333333333333333333333333",
		TokenReserve:  decimal.NewFromInt(tokenReserve),
		EGPReserve:    decimal.NewFromInt(egpReserve),
		TotalLPTokens: decimal.NewFromInt(totalLP),
		IsActive:      true,
	}))
}

// seedParked records a trade already in pending_reconciliation, backdated so
// the sweep cutoff picks it up.
func (env *testEnv) seedParked(t *testing.T, parked *models.Trade) {
	t.Helper()
	parked.Status = models.TradeStatusPendingReconciliation
	require.NoError(t, env.trades.Create(parked))
	require.NoError(t, env.db.Model(parked).Update("created_at", time.Now().Add(-10*time.Minute)).Error)
}

func (env *testEnv) tradeStatus(t *testing.T, txHash string) models.TradeStatus {
	t.Helper()
	stored, err := env.trades.GetByTxHash(txHash)
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored.Status
}

func TestSweepResolvesConfirmedSwap(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000_000, 5_000_000_000, 70_710_000)

	env.seedParked(t, &models.Trade{
		PoolID:          testPoolID,
		UserAddress:     testUser,
		Type:            models.TradeTypeSell,
		TokenAmount:     decimal.NewFromInt(100_000),
		EGPAmount:       decimal.NewFromInt(453_305_446),
		FeeAmount:       decimal.NewFromInt(300),
		ExecutionPrice:  decimal.RequireFromString("4533.05446"),
		SlippagePercent: decimal.RequireFromString("9.3389"),
		TxHash:          "0xparked",
	})
	env.chain.confirm("0xparked", 777)

	require.NoError(t, env.reconciler.Sweep(context.Background()))

	assert.Equal(t, models.TradeStatusCompleted, env.tradeStatus(t, "0xparked"))

	p, err := env.pools.GetByPoolID(testPoolID)
	require.NoError(t, err)
	assert.True(t, p.TokenReserve.Equal(decimal.NewFromInt(1_100_000)))
	assert.True(t, p.EGPReserve.Equal(decimal.NewFromInt(4_546_694_554)))
	assert.True(t, p.Volume24h.Equal(decimal.NewFromInt(453_305_446)))
	assert.Equal(t, uint(1), p.Version)

	// A second sweep finds nothing to do and changes nothing.
	require.NoError(t, env.reconciler.Sweep(context.Background()))
	p, err = env.pools.GetByPoolID(testPoolID)
	require.NoError(t, err)
	assert.True(t, p.TokenReserve.Equal(decimal.NewFromInt(1_100_000)), "mirror applied twice")
	assert.Equal(t, uint(1), p.Version)
}

func TestSweepResolvesRevertedSwap(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000_000, 5_000_000_000, 70_710_000)

	env.seedParked(t, &models.Trade{
		PoolID:      testPoolID,
		UserAddress: testUser,
		Type:        models.TradeTypeSell,
		TokenAmount: decimal.NewFromInt(100_000),
		EGPAmount:   decimal.NewFromInt(453_305_446),
		TxHash:      "0xreverted",
	})
	env.chain.revert("0xreverted", 778)

	require.NoError(t, env.reconciler.Sweep(context.Background()))

	assert.Equal(t, models.TradeStatusFailed, env.tradeStatus(t, "0xreverted"))

	p, err := env.pools.GetByPoolID(testPoolID)
	require.NoError(t, err)
	assert.True(t, p.TokenReserve.Equal(decimal.NewFromInt(1_000_000)), "reverted trade must not touch reserves")
	assert.Equal(t, uint(0), p.Version)
}

func TestSweepSkipsStillUnconfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000_000, 5_000_000_000, 70_710_000)

	env.seedParked(t, &models.Trade{
		PoolID:      testPoolID,
		UserAddress: testUser,
		Type:        models.TradeTypeSell,
		TokenAmount: decimal.NewFromInt(100_000),
		EGPAmount:   decimal.NewFromInt(453_305_446),
		TxHash:      "0xlimbo",
	})
	// No receipt scripted: the trade stays parked for the next sweep.

	require.NoError(t, env.reconciler.Sweep(context.Background()))
	assert.Equal(t, models.TradeStatusPendingReconciliation, env.tradeStatus(t, "0xlimbo"))
}

func TestSweepResolvesConfirmedLiquidityAdd(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000, 5_000_000, 70_710)

	env.seedParked(t, &models.Trade{
		PoolID:      testPoolID,
		UserAddress: testUser,
		Type:        models.TradeTypeAddLiquidity,
		TokenAmount: decimal.NewFromInt(100),
		EGPAmount:   decimal.NewFromInt(500_000),
		LPAmount:    decimal.NewFromInt(7_071),
		TxHash:      "0xliq",
	})
	env.chain.confirm("0xliq", 779)

	require.NoError(t, env.reconciler.Sweep(context.Background()))

	assert.Equal(t, models.TradeStatusCompleted, env.tradeStatus(t, "0xliq"))

	p, err := env.pools.GetByPoolID(testPoolID)
	require.NoError(t, err)
	assert.True(t, p.TokenReserve.Equal(decimal.NewFromInt(1_100)))
	assert.True(t, p.EGPReserve.Equal(decimal.NewFromInt(5_500_000)))
	assert.True(t, p.TotalLPTokens.Equal(decimal.NewFromInt(77_781)))

	position, err := env.positions.GetByUserAndPool(testUser, testPoolID)
	require.NoError(t, err)
	require.NotNil(t, position, "reconciled deposit must create the position")
	assert.True(t, position.LPTokens.Equal(decimal.NewFromInt(7_071)))
}

func TestSweepHonorsMinAge(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000_000, 5_000_000_000, 70_710_000)

	// Freshly parked trade with a reconciler that only looks at old ones.
	fresh := &models.Trade{
		PoolID:      testPoolID,
		UserAddress: testUser,
		Type:        models.TradeTypeSell,
		Status:      models.TradeStatusPendingReconciliation,
		TokenAmount: decimal.NewFromInt(100_000),
		EGPAmount:   decimal.NewFromInt(453_305_446),
		TxHash:      "0xfresh",
	}
	require.NoError(t, env.trades.Create(fresh))
	env.chain.confirm("0xfresh", 780)

	aged := New(env.trades, env.chain, nil, nil, time.Minute, 5*time.Minute, nil)
	require.NoError(t, aged.Sweep(context.Background()))

	assert.Equal(t, models.TradeStatusPendingReconciliation, env.tradeStatus(t, "0xfresh"))
}
