package pool

import (
	"errors"

	"gorm.io/gorm"

	"github.com/aqarchain/liquidity-ledger/internal/models"
)

// ErrVersionConflict is returned when an optimistic snapshot update lost the
// race: another operation bumped the pool's version first. Callers re-fetch
// the snapshot and retry the mirror write; the chain-side effect already
// happened and must not be repeated.
var ErrVersionConflict = errors.New("pool: version conflict")

// Repository defines pool database operations
type Repository interface {
	Create(pool *models.Pool) error
	GetByPoolID(poolID string) (*models.Pool, error)
	GetByPropertyID(propertyID string) (*models.Pool, error)
	List(activeOnly bool, limit, offset int) ([]*models.Pool, error)
	UpdateSnapshot(pool *models.Pool) error
	Deactivate(poolID string) error
	WithTx(tx *gorm.DB) Repository
}

type poolRepository struct {
	db *gorm.DB
}

// NewRepository creates a new pool repository
func NewRepository(db *gorm.DB) Repository {
	return &poolRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *poolRepository) WithTx(tx *gorm.DB) Repository {
	return &poolRepository{db: tx}
}

func (r *poolRepository) Create(pool *models.Pool) error {
	if pool == nil {
		return errors.New("pool cannot be nil")
	}
	return r.db.Create(pool).Error
}

func (r *poolRepository) GetByPoolID(poolID string) (*models.Pool, error) {
	if poolID == "" {
		return nil, errors.New("poolID cannot be empty")
	}

	var pool models.Pool
	err := r.db.Where("pool_id = ?", poolID).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

func (r *poolRepository) GetByPropertyID(propertyID string) (*models.Pool, error) {
	if propertyID == "" {
		return nil, errors.New("propertyID cannot be empty")
	}

	var pool models.Pool
	err := r.db.Where("property_id = ?", propertyID).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

func (r *poolRepository) List(activeOnly bool, limit, offset int) ([]*models.Pool, error) {
	var pools []*models.Pool
	q := r.db.Limit(limit).Offset(offset).Order("pool_id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&pools).Error
	return pools, err
}

// UpdateSnapshot writes the pool's mutable state with a compare-and-swap on
// the version column. On success the in-memory version is advanced to match
// the row.
func (r *poolRepository) UpdateSnapshot(pool *models.Pool) error {
	if pool == nil {
		return errors.New("pool cannot be nil")
	}

	res := r.db.Model(&models.Pool{}).
		Where("pool_id = ? AND version = ?", pool.PoolID, pool.Version).
		Updates(map[string]interface{}{
			"token_reserve":     pool.TokenReserve,
			"egp_reserve":       pool.EGPReserve,
			"total_lp_tokens":   pool.TotalLPTokens,
			"volume_24h":        pool.Volume24h,
			"total_fees_earned": pool.TotalFeesEarned,
			"is_active":         pool.IsActive,
			"version":           pool.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	pool.Version++
	return nil
}

// Deactivate marks a pool inactive. Pools are never physically deleted.
func (r *poolRepository) Deactivate(poolID string) error {
	if poolID == "" {
		return errors.New("poolID cannot be empty")
	}
	return r.db.Model(&models.Pool{}).Where("pool_id = ?", poolID).Update("is_active", false).Error
}
