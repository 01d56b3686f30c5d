package liquidity

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/aqarchain/liquidity-ledger/internal/models"
)

// PositionRepository defines liquidity position database operations
type PositionRepository interface {
	Create(position *models.LiquidityPosition) error
	GetByUserAndPool(userAddress, poolID string) (*models.LiquidityPosition, error)
	ListByUser(userAddress string) ([]*models.LiquidityPosition, error)
	Update(position *models.LiquidityPosition) error
	// SumActiveLPTokens totals active positions' LP tokens for a pool; the
	// invariant is that this equals the pool's total_lp_tokens.
	SumActiveLPTokens(poolID string) (decimal.Decimal, error)
	WithTx(tx *gorm.DB) PositionRepository
}

type positionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *gorm.DB) PositionRepository {
	return &positionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *positionRepository) WithTx(tx *gorm.DB) PositionRepository {
	return &positionRepository{db: tx}
}

func (r *positionRepository) Create(position *models.LiquidityPosition) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	return r.db.Create(position).Error
}

func (r *positionRepository) GetByUserAndPool(userAddress, poolID string) (*models.LiquidityPosition, error) {
	if userAddress == "" || poolID == "" {
		return nil, errors.New("userAddress and poolID cannot be empty")
	}

	var position models.LiquidityPosition
	err := r.db.Where("user_address = ? AND pool_id = ?", userAddress, poolID).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (r *positionRepository) ListByUser(userAddress string) ([]*models.LiquidityPosition, error) {
	if userAddress == "" {
		return nil, errors.New("userAddress cannot be empty")
	}

	var positions []*models.LiquidityPosition
	err := r.db.Where("user_address = ? AND is_active = ?", userAddress, true).
		Order("created_at ASC").Find(&positions).Error
	return positions, err
}

func (r *positionRepository) Update(position *models.LiquidityPosition) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	if position.ID == 0 {
		return errors.New("id cannot be zero")
	}
	return r.db.Save(position).Error
}

func (r *positionRepository) SumActiveLPTokens(poolID string) (decimal.Decimal, error) {
	if poolID == "" {
		return decimal.Zero, errors.New("poolID cannot be empty")
	}

	var result struct {
		Total decimal.Decimal
	}
	err := r.db.Model(&models.LiquidityPosition{}).
		Select("COALESCE(SUM(lp_tokens), 0) as total").
		Where("pool_id = ? AND is_active = ?", poolID, true).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}
