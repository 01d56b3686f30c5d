package pool

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/aqarchain/liquidity-ledger/internal/cache"
	"github.com/aqarchain/liquidity-ledger/internal/models"
)

// Service defines pool read/lifecycle operations. Reserve mutation is not
// exposed here: only the swap executor and liquidity manager mutate reserves,
// each holding the pool lock for the duration of one operation.
type Service interface {
	CreatePool(ctx context.Context, pool *models.Pool) error
	GetPool(ctx context.Context, poolID string) (*models.Pool, error)
	GetPoolByProperty(ctx context.Context, propertyID string) (*models.Pool, error)
	ListPools(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Pool, error)
	DeactivatePool(ctx context.Context, poolID string) error
}

type service struct {
	repo  Repository
	cache *cache.PoolCache // nil disables caching
	log   *logrus.Logger
}

// NewService creates a new pool service. cache may be nil.
func NewService(repo Repository, poolCache *cache.PoolCache, log *logrus.Logger) Service {
	if log == nil {
		log = logrus.New()
	}
	return &service{repo: repo, cache: poolCache, log: log}
}

func (s *service) CreatePool(ctx context.Context, pool *models.Pool) error {
	if pool == nil {
		return errors.New("pool cannot be nil")
	}
	if pool.PoolID == "" || pool.PropertyID == "" {
		return errors.New("pool_id and property_id required")
	}
	return s.repo.Create(pool)
}

func (s *service) GetPool(ctx context.Context, poolID string) (*models.Pool, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, poolID); err != nil {
			s.log.WithError(err).WithField("pool_id", poolID).Warn("pool cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	pool, err := s.repo.GetByPoolID(poolID)
	if err != nil || pool == nil {
		return pool, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, pool); err != nil {
			s.log.WithError(err).WithField("pool_id", poolID).Warn("pool cache write failed")
		}
	}
	return pool, nil
}

func (s *service) GetPoolByProperty(ctx context.Context, propertyID string) (*models.Pool, error) {
	return s.repo.GetByPropertyID(propertyID)
}

func (s *service) ListPools(ctx context.Context, activeOnly bool, limit, offset int) ([]*models.Pool, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(activeOnly, limit, offset)
}

func (s *service) DeactivatePool(ctx context.Context, poolID string) error {
	if err := s.repo.Deactivate(poolID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, poolID); err != nil {
			s.log.WithError(err).WithField("pool_id", poolID).Warn("pool cache invalidation failed")
		}
	}
	return nil
}
