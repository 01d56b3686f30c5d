package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aqarchain/liquidity-ledger/internal/amm"
	"github.com/aqarchain/liquidity-ledger/internal/cache"
	"github.com/aqarchain/liquidity-ledger/internal/chain"
	"github.com/aqarchain/liquidity-ledger/internal/config"
	"github.com/aqarchain/liquidity-ledger/internal/liquidity"
	"github.com/aqarchain/liquidity-ledger/internal/models"
	"github.com/aqarchain/liquidity-ledger/internal/pool"
	"github.com/aqarchain/liquidity-ledger/internal/reconcile"
	"github.com/aqarchain/liquidity-ledger/internal/swap"
	"github.com/aqarchain/liquidity-ledger/internal/trade"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found")
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	cfg := config.Load()

	// Database connection
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	if err := db.AutoMigrate(&models.Pool{}, &models.Trade{}, &models.LiquidityPosition{}); err != nil {
		log.WithError(err).Fatal("Failed to migrate database schema")
	}

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	ctx := context.Background()
	var poolCache *cache.PoolCache
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Failed to connect to Redis, pool cache disabled")
	} else {
		poolCache = cache.NewPoolCache(rdb, cfg.PoolCacheTTL)
	}

	// Chain client: simulation mode only by explicit configuration.
	var chainClient chain.Client
	switch cfg.ChainMode {
	case "dev":
		log.Warn("Running with simulated chain client; transactions are fabricated")
		chainClient = chain.NewDevClient(1, log)
	case "rpc":
		chainClient, err = chain.NewRPCClient(chain.RPCConfig{
			RPCURL:            cfg.ChainRPCURL,
			ExchangeAddress:   cfg.ExchangeAddress,
			StablecoinAddress: cfg.StablecoinAddress,
			PrivateKey:        cfg.ChainPrivateKey,
			ChainID:           cfg.ChainID,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize chain client")
		}
	default:
		log.WithField("chain_mode", cfg.ChainMode).Fatal("CHAIN_MODE must be rpc or dev")
	}

	verifier := chain.NewBalanceVerifier(chainClient)
	monitor := chain.NewMonitor(chainClient, cfg.MonitorInterval, cfg.MonitorTimeout, log)
	locks := amm.NewKeyedMutex()

	poolRepo := pool.NewRepository(db)
	tradeRepo := trade.NewRepository(db)
	positionRepo := liquidity.NewPositionRepository(db)

	poolService := pool.NewService(poolRepo, poolCache, log)
	executor := swap.NewExecutor(db, poolRepo, tradeRepo, chainClient, verifier, monitor, locks, poolCache, log)
	manager := liquidity.NewManager(db, poolRepo, positionRepo, tradeRepo, chainClient, verifier, monitor, locks, poolCache, log)

	// Background reconciliation of timed-out trades
	reconciler := reconcile.New(tradeRepo, chainClient, executor, manager,
		cfg.ReconcileInterval, cfg.ReconcileMinAge, log)
	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	go func() {
		if err := reconciler.Run(reconcileCtx); err != nil && err != context.Canceled {
			log.WithError(err).Error("Reconciler stopped")
		}
	}()

	// HTTP surface: read-only views and previews
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"service":   "liquidity-ledger",
		})
	})

	v1 := router.Group("/api/v1")
	{
		pool.NewHandler(poolService).RegisterRoutes(v1)
		swap.NewHandler(executor).RegisterRoutes(v1)
		liquidity.NewHandler(manager).RegisterRoutes(v1)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Starting liquidity ledger service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	stopReconciler()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()

	log.Info("Server exited")
}
