package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Pool represents a property-token / EGP liquidity pool mirrored off-chain.
// Reserves and LP supply are stored in integer base units; they are the last
// confirmed on-chain state, never an optimistic preview.
type Pool struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	PoolID          string          `json:"pool_id" gorm:"uniqueIndex;not null;size:66"`
	PropertyID      string          `json:"property_id" gorm:"not null;size:66;index"`
	PoolAddress     string          `json:"pool_address" gorm:"not null;size:42"` // On-chain pool contract address
	TokenReserve    decimal.Decimal `json:"token_reserve" gorm:"type:decimal(78,0);not null"`
	EGPReserve      decimal.Decimal `json:"egp_reserve" gorm:"type:decimal(78,0);not null"`
	TotalLPTokens   decimal.Decimal `json:"total_lp_tokens" gorm:"type:decimal(78,0);not null"`
	Volume24h       decimal.Decimal `json:"volume_24h" gorm:"column:volume_24h;type:decimal(78,0)"`
	TotalFeesEarned decimal.Decimal `json:"total_fees_earned" gorm:"type:decimal(78,0)"`
	Version         uint            `json:"version" gorm:"not null;default:0"` // Optimistic concurrency counter
	IsActive        bool            `json:"is_active" gorm:"default:true"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for Pool model
func (Pool) TableName() string {
	return "pools"
}

// BeforeCreate hook to validate pool data
func (p *Pool) BeforeCreate(tx *gorm.DB) error {
	if p.PoolID == "" || p.PropertyID == "" {
		return gorm.ErrInvalidData
	}
	if p.TokenReserve.IsNegative() || p.EGPReserve.IsNegative() {
		return gorm.ErrInvalidData
	}
	return nil
}

// TradeType represents the kind of pool mutation a trade records
type TradeType string

const (
	TradeTypeBuy             TradeType = "BUY"
	TradeTypeSell            TradeType = "SELL"
	TradeTypeAddLiquidity    TradeType = "ADD_LIQUIDITY"
	TradeTypeRemoveLiquidity TradeType = "REMOVE_LIQUIDITY"
)

// TradeStatus represents the lifecycle status of a trade
type TradeStatus string

const (
	TradeStatusPending               TradeStatus = "pending"
	TradeStatusCompleted             TradeStatus = "completed"
	TradeStatusFailed                TradeStatus = "failed"
	TradeStatusPendingReconciliation TradeStatus = "pending_reconciliation"
)

// Terminal reports whether the status admits no further transitions.
// pending_reconciliation is long-lived but not terminal: the reconciler
// resolves it once a final on-chain outcome is observed.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusFailed
}

// Trade is the immutable record of one executed or attempted pool operation.
// Amounts are integer base units; ExecutionPrice is EGP per token.
type Trade struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	PoolID          string          `json:"pool_id" gorm:"not null;size:66;index"`
	UserAddress     string          `json:"user_address" gorm:"not null;size:42;index"`
	Type            TradeType       `json:"type" gorm:"not null;size:20"`
	Status          TradeStatus     `json:"status" gorm:"not null;size:24;default:'pending';index"`
	TokenAmount     decimal.Decimal `json:"token_amount" gorm:"type:decimal(78,0)"`
	EGPAmount       decimal.Decimal `json:"egp_amount" gorm:"type:decimal(78,0)"`
	LPAmount        decimal.Decimal `json:"lp_amount" gorm:"type:decimal(78,0)"` // Liquidity trades only
	ExecutionPrice  decimal.Decimal `json:"execution_price" gorm:"type:decimal(36,18)"`
	SlippagePercent decimal.Decimal `json:"slippage_percent" gorm:"type:decimal(10,4)"`
	FeeAmount       decimal.Decimal `json:"fee_amount" gorm:"type:decimal(78,0)"` // Denominated in the input asset
	TxHash          string          `json:"tx_hash" gorm:"uniqueIndex;not null;size:66"`
	BlockNumber     uint64          `json:"block_number"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// BeforeCreate hook to validate trade data
func (t *Trade) BeforeCreate(tx *gorm.DB) error {
	if t.PoolID == "" || t.TxHash == "" {
		return gorm.ErrInvalidData
	}
	return nil
}

// LiquidityPosition represents a provider's proportional claim on a pool.
// Positions are deactivated at zero LP tokens, never deleted.
type LiquidityPosition struct {
	ID                 uint            `json:"id" gorm:"primaryKey"`
	UserAddress        string          `json:"user_address" gorm:"not null;size:42;index:idx_positions_user_pool"`
	PoolID             string          `json:"pool_id" gorm:"not null;size:66;index:idx_positions_user_pool"`
	LPTokens           decimal.Decimal `json:"lp_tokens" gorm:"type:decimal(78,0);not null"`
	InitialTokenAmount decimal.Decimal `json:"initial_token_amount" gorm:"type:decimal(78,0)"`
	InitialEGPAmount   decimal.Decimal `json:"initial_egp_amount" gorm:"type:decimal(78,0)"`
	FeesEarned         decimal.Decimal `json:"fees_earned" gorm:"type:decimal(78,0)"`
	IsActive           bool            `json:"is_active" gorm:"default:true"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	DeletedAt          gorm.DeletedAt  `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for LiquidityPosition model
func (LiquidityPosition) TableName() string {
	return "liquidity_positions"
}

// BeforeCreate hook to validate liquidity position data
func (lp *LiquidityPosition) BeforeCreate(tx *gorm.DB) error {
	if lp.UserAddress == "" || lp.PoolID == "" {
		return gorm.ErrInvalidData
	}
	return nil
}
