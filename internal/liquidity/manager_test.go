package liquidity

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"github.com/aqarchain/liquidity-ledger/internal/amm"
	"github.com/aqarchain/liquidity-ledger/internal/chain"
	"github.com/aqarchain/liquidity-ledger/internal/models"
	"github.com/aqarchain/liquidity-ledger/internal/pool"
	"github.com/aqarchain/liquidity-ledger/internal/trade"
)

const (
	testUser     = "0x1111111111111111111111111111111111111111"
	testPoolID   = "pool-1"
	testProperty = "42"
)

type testEnv struct {
	db        *gorm.DB
	pools     pool.Repository
	positions PositionRepository
	trades    trade.Repository
	chain     *chain.DevClient
	manager   *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Pool{}, &models.Trade{}, &models.LiquidityPosition{}))

	client := chain.NewDevClient(0, nil)
	huge := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	client.SetTokenBalance(testUser, testProperty, huge)
	client.SetStablecoinBalance(testUser, huge)

	pools := pool.NewRepository(db)
	positions := NewPositionRepository(db)
	trades := trade.NewRepository(db)
	monitor := chain.NewMonitor(client, 2*time.Millisecond, 50*time.Millisecond, nil)
	manager := NewManager(db, pools, positions, trades, client,
		chain.NewBalanceVerifier(client), monitor, amm.NewKeyedMutex(), nil, nil)

	return &testEnv{db: db, pools: pools, positions: positions, trades: trades, chain: client, manager: manager}
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

func (env *testEnv) poolState(t *testing.T) *models.Pool {
	t.Helper()
	p, err := env.pools.GetByPoolID(testPoolID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestAddLiquidityBootstrap(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 0, 0, 0)

	res, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(1_000), decimal.NewFromInt(5_000_000), decimal.Zero)
	require.NoError(t, err)

	// sqrt(1000 * 5_000_000) = sqrt(5_000_000_000) = 70710, truncated.
	assert.True(t, res.LPTokens.Equal(decimal.NewFromInt(70_710)))
	assert.True(t, res.RefundToken.IsZero())
	assert.True(t, res.RefundEGP.IsZero())
	assert.Equal(t, models.TradeStatusCompleted, res.Trade.Status)
	assert.Equal(t, models.TradeTypeAddLiquidity, res.Trade.Type)

	p := env.poolState(t)
	assert.True(t, p.TokenReserve.Equal(decimal.NewFromInt(1_000)))
	assert.True(t, p.EGPReserve.Equal(decimal.NewFromInt(5_000_000)))
	assert.True(t, p.TotalLPTokens.Equal(decimal.NewFromInt(70_710)))

	position, err := env.positions.GetByUserAndPool(testUser, testPoolID)
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.True(t, position.IsActive)
	assert.True(t, position.LPTokens.Equal(decimal.NewFromInt(70_710)))
	assert.True(t, position.InitialTokenAmount.Equal(decimal.NewFromInt(1_000)))
	assert.True(t, position.InitialEGPAmount.Equal(decimal.NewFromInt(5_000_000)))
}

func TestAddLiquidityProportionalWithRefund(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000, 5_000_000, 70_710)

	// 100 tokens match 500_000 EGP at the pool ratio; the extra 100_000 EGP
	// is over-supplied and must come back untouched.
	res, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(100), decimal.NewFromInt(600_000), decimal.Zero)
	require.NoError(t, err)

	assert.True(t, res.LPTokens.Equal(decimal.NewFromInt(7_071)), "minted %s", res.LPTokens)
	assert.True(t, res.TokenAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.EGPAmount.Equal(decimal.NewFromInt(500_000)))
	assert.True(t, res.RefundEGP.Equal(decimal.NewFromInt(100_000)))
	assert.True(t, res.RefundToken.IsZero())

	p := env.poolState(t)
	assert.True(t, p.TokenReserve.Equal(decimal.NewFromInt(1_100)))
	assert.True(t, p.EGPReserve.Equal(decimal.NewFromInt(5_500_000)), "refunded EGP must not enter reserves")
	assert.True(t, p.TotalLPTokens.Equal(decimal.NewFromInt(77_781)))
}

func TestAddLiquidityAccumulatesPosition(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 0, 0, 0)

	_, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(1_000), decimal.NewFromInt(5_000_000), decimal.Zero)
	require.NoError(t, err)

	_, err = env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(100), decimal.NewFromInt(500_000), decimal.Zero)
	require.NoError(t, err)

	position, err := env.positions.GetByUserAndPool(testUser, testPoolID)
	require.NoError(t, err)
	assert.True(t, position.LPTokens.Equal(decimal.NewFromInt(77_781)))
	assert.True(t, position.InitialTokenAmount.Equal(decimal.NewFromInt(1_100)))

	// Position LP must always reconcile with the pool's outstanding supply.
	sum, err := env.positions.SumActiveLPTokens(testPoolID)
	require.NoError(t, err)
	p := env.poolState(t)
	assert.True(t, sum.Equal(p.TotalLPTokens), "position sum %s != pool supply %s", sum, p.TotalLPTokens)
}

func TestRemoveLiquidityFullRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 0, 0, 0)

	added, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(1_000), decimal.NewFromInt(5_000_000), decimal.Zero)
	require.NoError(t, err)

	removed, err := env.manager.RemoveLiquidity(context.Background(), testPoolID, testUser,
		added.LPTokens, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// The sole provider burning all LP gets both reserves back in full.
	assert.True(t, removed.TokenAmount.Equal(decimal.NewFromInt(1_000)))
	assert.True(t, removed.EGPAmount.Equal(decimal.NewFromInt(5_000_000)))
	assert.Equal(t, models.TradeTypeRemoveLiquidity, removed.Trade.Type)

	p := env.poolState(t)
	assert.True(t, p.TokenReserve.IsZero())
	assert.True(t, p.EGPReserve.IsZero())
	assert.True(t, p.TotalLPTokens.IsZero())

	position, err := env.positions.GetByUserAndPool(testUser, testPoolID)
	require.NoError(t, err)
	assert.False(t, position.IsActive)
	assert.True(t, position.LPTokens.IsZero())
	// Cost basis survives the withdrawal.
	assert.True(t, position.InitialTokenAmount.Equal(decimal.NewFromInt(1_000)))
}

func TestRemoveLiquidityPartial(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 0, 0, 0)

	_, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(1_000), decimal.NewFromInt(5_000_000), decimal.Zero)
	require.NoError(t, err)

	res, err := env.manager.RemoveLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(7_071), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// 7071/70710 of each reserve, truncated.
	assert.True(t, res.TokenAmount.Equal(decimal.NewFromInt(100)), "got %s", res.TokenAmount)
	assert.True(t, res.EGPAmount.Equal(decimal.NewFromInt(500_000)), "got %s", res.EGPAmount)

	position, err := env.positions.GetByUserAndPool(testUser, testPoolID)
	require.NoError(t, err)
	assert.True(t, position.IsActive)
	assert.True(t, position.LPTokens.Equal(decimal.NewFromInt(63_639)))
}

func TestRemoveLiquidityInsufficientPosition(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000, 5_000_000, 70_710)

	// No position at all.
	_, err := env.manager.RemoveLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(1), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, amm.ErrInsufficientPosition)

	// A position smaller than the burn.
	require.NoError(t, env.positions.Create(&models.LiquidityPosition{
		UserAddress: testUser,
		PoolID:      testPoolID,
		LPTokens:    decimal.NewFromInt(10),
		IsActive:    true,
	}))
	_, err = env.manager.RemoveLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(11), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, amm.ErrInsufficientPosition)
}

func TestAddLiquiditySlippageFloor(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000, 5_000_000, 70_710)

	_, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(100), decimal.NewFromInt(500_000), decimal.NewFromInt(8_000))
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded)

	// Nothing recorded, nothing mirrored.
	var count int64
	require.NoError(t, env.db.Model(&models.Trade{}).Count(&count).Error)
	assert.Zero(t, count)
	p := env.poolState(t)
	assert.True(t, p.TotalLPTokens.Equal(decimal.NewFromInt(70_710)))
}

func TestAddLiquidityInvalidAmounts(t *testing.T) {
	env := newTestEnv(t)
	env.seedPool(t, 1_000, 5_000_000, 70_710)

	_, err := env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.Zero, decimal.NewFromInt(500_000), decimal.Zero)
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)

	_, err = env.manager.AddLiquidity(context.Background(), testPoolID, testUser,
		decimal.NewFromInt(100), decimal.NewFromInt(-1), decimal.Zero)
	assert.ErrorIs(t, err, amm.ErrInvalidAmount)
}
