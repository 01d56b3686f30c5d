package trade

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aqarchain/liquidity-ledger/internal/models"
)

// ErrStatusConflict is returned when a guarded status transition matched no
// row: either the trade is unknown or it already left the expected statuses.
// Terminal statuses are immutable, so a finalizer that loses this race simply
// observed someone else finishing the same trade first.
var ErrStatusConflict = errors.New("trade: status transition conflict")

// Repository defines trade database operations
type Repository interface {
	Create(trade *models.Trade) error
	GetByTxHash(txHash string) (*models.Trade, error)
	GetByPoolID(poolID string, limit, offset int) ([]*models.Trade, error)
	GetByUser(userAddress string, limit, offset int) ([]*models.Trade, error)
	// ListPendingReconciliation returns trades stuck in pending_reconciliation
	// created before the cutoff, oldest first.
	ListPendingReconciliation(olderThan time.Time, limit int) ([]*models.Trade, error)
	// Transition moves a trade between statuses, guarded by the set of
	// statuses the transition is legal from.
	Transition(txHash string, from []models.TradeStatus, to models.TradeStatus) error
	// Complete marks a trade completed and records its block number. Legal
	// from pending and pending_reconciliation only, which makes mirror
	// application exactly-once.
	Complete(txHash string, blockNumber uint64) error
	WithTx(tx *gorm.DB) Repository
}

type tradeRepository struct {
	db *gorm.DB
}

// NewRepository creates a new trade repository
func NewRepository(db *gorm.DB) Repository {
	return &tradeRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *tradeRepository) WithTx(tx *gorm.DB) Repository {
	return &tradeRepository{db: tx}
}

func (r *tradeRepository) Create(trade *models.Trade) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	return r.db.Create(trade).Error
}

func (r *tradeRepository) GetByTxHash(txHash string) (*models.Trade, error) {
	if txHash == "" {
		return nil, errors.New("txHash cannot be empty")
	}

	var trade models.Trade
	err := r.db.Where("tx_hash = ?", txHash).First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepository) GetByPoolID(poolID string, limit, offset int) ([]*models.Trade, error) {
	if poolID == "" {
		return nil, errors.New("poolID cannot be empty")
	}

	var trades []*models.Trade
	err := r.db.Where("pool_id = ?", poolID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&trades).Error
	return trades, err
}

func (r *tradeRepository) GetByUser(userAddress string, limit, offset int) ([]*models.Trade, error) {
	if userAddress == "" {
		return nil, errors.New("userAddress cannot be empty")
	}

	var trades []*models.Trade
	err := r.db.Where("user_address = ?", userAddress).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&trades).Error
	return trades, err
}

func (r *tradeRepository) ListPendingReconciliation(olderThan time.Time, limit int) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := r.db.Where("status = ? AND created_at < ?", models.TradeStatusPendingReconciliation, olderThan).
		Order("created_at ASC").Limit(limit).Find(&trades).Error
	return trades, err
}

func (r *tradeRepository) Transition(txHash string, from []models.TradeStatus, to models.TradeStatus) error {
	if txHash == "" {
		return errors.New("txHash cannot be empty")
	}
	if len(from) == 0 {
		return errors.New("from statuses cannot be empty")
	}
	for _, s := range from {
		if s.Terminal() {
			return errors.New("trade: cannot transition out of a terminal status")
		}
	}

	res := r.db.Model(&models.Trade{}).
		Where("tx_hash = ? AND status IN ?", txHash, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *tradeRepository) Complete(txHash string, blockNumber uint64) error {
	if txHash == "" {
		return errors.New("txHash cannot be empty")
	}

	res := r.db.Model(&models.Trade{}).
		Where("tx_hash = ? AND status IN ?", txHash,
			[]models.TradeStatus{models.TradeStatusPending, models.TradeStatusPendingReconciliation}).
		Updates(map[string]interface{}{
			"status":       models.TradeStatusCompleted,
			"block_number": blockNumber,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
