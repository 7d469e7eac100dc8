// Package app manages the service lifecycle: infrastructure wiring,
// background workers, and graceful shutdown.
//
// The service bridges the BlockCreative marketplace backend and the
// ledger. Marketplace intents arrive over HTTP (registrations, mints)
// and Kafka (escrow funding, payment release); every submission is
// mirrored into Postgres and tracked until it reaches a terminal
// state, at which point the outcome is folded back onto the mirror
// rows and published to the confirmation topics.
package app

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abdul-abdi/blockcreative-sub000/internal/blockchain"
	"github.com/abdul-abdi/blockcreative-sub000/internal/config"
	"github.com/abdul-abdi/blockcreative-sub000/internal/contract"
	"github.com/abdul-abdi/blockcreative-sub000/internal/gateway"
	"github.com/abdul-abdi/blockcreative-sub000/internal/handler"
	"github.com/abdul-abdi/blockcreative-sub000/internal/kafka"
	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/monitor"
	"github.com/abdul-abdi/blockcreative-sub000/internal/repository"
	"github.com/abdul-abdi/blockcreative-sub000/internal/service"
)

// App owns every component of the service.
type App struct {
	cfg *config.Config

	db    *gorm.DB
	redis *redis.Client

	chainClient  *blockchain.Client
	nonceManager *blockchain.NonceManager
	estimator    *contract.GasEstimator
	gateway      *gateway.Gateway
	monitor      *monitor.Monitor

	projectRepo repository.ProjectRepository
	txRepo      repository.TransactionRepository

	reconciliationSvc *service.ReconciliationService

	kafkaProducer *kafka.Producer
	kafkaConsumer *kafka.Consumer

	httpServer    *http.Server
	healthHandler *handler.HealthHandler

	stopCh chan struct{}
}

// NewApp wires the application from configuration.
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}
	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("init blockchain: %w", err)
	}
	app.initRepositories()
	if err := app.initKafkaProducer(); err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	app.initServices()
	if err := app.initKafkaConsumer(); err != nil {
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}
	app.initHTTP()

	return app, nil
}

func (a *App) initInfrastructure() error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	redisAddr := "localhost:6379"
	if len(a.cfg.Redis.Addresses) > 0 {
		redisAddr = a.cfg.Redis.Addresses[0]
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})
	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis connected", zap.String("addr", redisAddr))

	return nil
}

func (a *App) initBlockchain() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:    a.cfg.Blockchain.ChainID,
		PrivateKey: a.cfg.Blockchain.PrivateKey,
		RPCURLs:    rpcURLs,
		// a disabled gateway never touches the node, so skip the dial
		Lazy: a.cfg.Blockchain.Disabled,
	})
	if err != nil {
		return fmt.Errorf("create chain client: %w", err)
	}
	a.chainClient = client

	a.nonceManager = blockchain.NewNonceManager(client, a.redis, &blockchain.NonceManagerConfig{
		Wallet:  client.Address(),
		ChainID: a.cfg.Blockchain.ChainID,
	})

	a.estimator = contract.NewGasEstimator(&contract.GasEstimatorConfig{
		MaxGasPrice:       gweiToWei(a.cfg.Gas.MaxGasPriceGwei),
		MaxGasLimit:       a.cfg.Gas.MaxGasLimit,
		CacheTTL:          time.Duration(a.cfg.Gas.CacheTTLSeconds) * time.Second,
		DryRunAttempts:    a.cfg.Gas.DryRunAttempts,
		DefaultStrategy:   contract.GasStrategy(a.cfg.Gas.DefaultStrategy),
		OptimizationLevel: contract.OptimizationLevel(a.cfg.Gas.OptimizationLevel),
	}, client)

	registry, err := contract.NewRegistryContract(common.HexToAddress(a.cfg.Blockchain.RegistryContract), client)
	if err != nil {
		return fmt.Errorf("bind registry contract: %w", err)
	}
	nft, err := contract.NewScriptNFTContract(common.HexToAddress(a.cfg.Blockchain.NFTContract), client)
	if err != nil {
		return fmt.Errorf("bind script nft contract: %w", err)
	}
	escrow, err := contract.NewEscrowContract(common.HexToAddress(a.cfg.Blockchain.EscrowContract), client)
	if err != nil {
		return fmt.Errorf("bind escrow contract: %w", err)
	}

	a.gateway = gateway.New(gateway.Config{
		Disabled:        a.cfg.Blockchain.Disabled,
		DefaultStrategy: contract.GasStrategy(a.cfg.Gas.DefaultStrategy),
	}, client, a.estimator, a.nonceManager, registry, nft, escrow)

	a.monitor = monitor.NewMonitor(monitor.Config{
		ConfirmationThreshold: a.confirmationThreshold(),
	}, client)

	logger.Info("blockchain initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.Bool("disabled", a.cfg.Blockchain.Disabled),
		zap.String("wallet", client.Address().Hex()),
		zap.Int("confirmations", a.confirmationThreshold()))

	return nil
}

// confirmationThreshold applies the environment default when the
// config carries none.
func (a *App) confirmationThreshold() int {
	if a.cfg.Blockchain.Confirmations > 0 {
		return a.cfg.Blockchain.Confirmations
	}
	if a.cfg.Service.IsProduction() {
		return 3
	}
	return 1
}

func (a *App) initRepositories() {
	a.projectRepo = repository.NewProjectRepository(a.db)
	a.txRepo = repository.NewTransactionRepository(a.db)
	logger.Info("repositories initialized")
}

func (a *App) initKafkaProducer() error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		logger.Warn("kafka brokers not configured, confirmations will not be published")
		return nil
	}
	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	a.kafkaProducer = producer
	return nil
}

func (a *App) initServices() {
	// nil publisher disables confirmation publishing but keeps
	// mirroring intact
	var publisher service.Publisher
	if a.kafkaProducer != nil {
		publisher = a.kafkaProducer
	}

	a.reconciliationSvc = service.NewReconciliationService(
		service.Config{ConfirmationThreshold: a.confirmationThreshold()},
		a.projectRepo,
		a.txRepo,
		a.gateway,
		a.monitor,
		publisher,
	)
	logger.Info("services initialized")
}

func (a *App) initKafkaConsumer() error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return nil
	}
	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers: a.cfg.Kafka.Brokers,
		GroupID: a.cfg.Kafka.GroupID,
		Handler: a.reconciliationSvc,
	})
	if err != nil {
		return err
	}
	a.kafkaConsumer = consumer
	return nil
}

func (a *App) initHTTP() {
	chainHandler := handler.NewChainHandler(
		a.monitor,
		a.estimator,
		a.gateway,
		a.reconciliationSvc,
		a.txRepo,
	)

	a.healthHandler = handler.NewHealthHandler(&handler.HealthDeps{
		Database: dbPinger{a.db},
		Redis:    redisPinger{a.redis},
		Chain:    chainPinger{client: a.chainClient, disabled: a.cfg.Blockchain.Disabled},
	})

	engine := handler.NewEngine(chainHandler, a.healthHandler)
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: engine,
	}
	logger.Info("http server initialized", zap.Int("port", a.cfg.Service.HTTPPort))
}

// Run starts every component and blocks until a shutdown signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(ctx); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	a.reconciliationSvc.Start()

	// re-attach anything that was pending when the last process died
	if err := a.reconciliationSvc.SweepPending(ctx); err != nil {
		logger.Error("startup pending sweep failed", zap.Error(err))
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	a.healthHandler.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	logger.Info("shutting down...")

	if a.healthHandler != nil {
		a.healthHandler.SetReady(false)
	}

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("http shutdown error", zap.Error(err))
		}
	}

	if a.kafkaConsumer != nil {
		_ = a.kafkaConsumer.Stop()
	}

	if a.reconciliationSvc != nil {
		a.reconciliationSvc.Stop()
	}

	if a.monitor != nil {
		a.monitor.Shutdown()
	}

	if a.kafkaProducer != nil {
		_ = a.kafkaProducer.Close()
	}

	if a.chainClient != nil {
		a.chainClient.Close()
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}

	if a.db != nil {
		if sqlDB, _ := a.db.DB(); sqlDB != nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop requests a graceful shutdown.
func (a *App) Stop() {
	close(a.stopCh)
}

type dbPinger struct {
	db *gorm.DB
}

func (p dbPinger) Ping() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.client.Ping(ctx).Err()
}

type chainPinger struct {
	client   *blockchain.Client
	disabled bool
}

func (p chainPinger) Ping() error {
	if p.disabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.HealthCheck(ctx)
}

func gweiToWei(gwei int64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1e9))
}
