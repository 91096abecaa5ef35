// Package app 提供 monbeats-sync 服务的应用生命周期管理
//
// ## 服务职责
// monbeats-sync 将节奏游戏的玩家分数同步到 MonadGames ID 排行榜合约:
// 1. 分数录入: HTTP 接口或 Kafka score-events 消息，更新本地排行榜
// 2. 增量入队: 按同步基线计算阻尼增量，写入去重后的同步队列
// 3. 批量上链: 后台工作器周期性取出到期条目，串行调用 updatePlayerData
//
// ## Kafka 对接 (可选，未配置 brokers 时关闭)
// - 消费: score-events (游戏服务端的分数事件)
// - 生产: score-sync-confirmed / score-sync-failed (同步结果)
//
// ## 合约对接
// - MonadGames ID 排行榜合约 (Monad 测试网)
// - 游戏钱包需要持有 GAME_ROLE，否则提交会被拒绝
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/monbeats/monbeats-sync/internal/blockchain"
	"github.com/monbeats/monbeats-sync/internal/config"
	"github.com/monbeats/monbeats-sync/internal/contract"
	"github.com/monbeats/monbeats-sync/internal/handler"
	"github.com/monbeats/monbeats-sync/internal/kafka"
	"github.com/monbeats/monbeats-sync/internal/ledger"
	"github.com/monbeats/monbeats-sync/internal/monadid"
	"github.com/monbeats/monbeats-sync/internal/repository"
	"github.com/monbeats/monbeats-sync/internal/service"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis *redis.Client

	// 区块链
	chainClient *blockchain.Client
	contract    *contract.MonadGamesContract
	ledgerSvc   *ledger.Service

	// 仓储
	userRepo  repository.UserRepository
	queueRepo repository.QueueRepository

	// 服务
	monadIDClient *monadid.Client
	scoreSvc      *service.ScoreService
	syncSvc       *service.SyncService

	// Kafka (可选)
	kafkaConsumer  *kafka.Consumer
	kafkaProducer  *kafka.Producer
	eventPublisher service.EventPublisher

	// HTTP
	httpServer *http.Server

	// 运行控制
	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	app.initRepositories()

	if err := app.initKafka(); err != nil {
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure() error {
	// PostgreSQL
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
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

	// 自动迁移
	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	// Redis
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
		return fmt.Errorf("failed to connect redis: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", redisAddr))

	return nil
}

// initBlockchain 初始化链客户端与合约绑定
func (a *App) initBlockchain() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:         a.cfg.Blockchain.ChainID,
		PrivateKey:      a.cfg.Blockchain.PrivateKey,
		RPCURLs:         rpcURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.chainClient = client

	gamesContract, err := contract.NewMonadGamesContract(
		common.HexToAddress(a.cfg.Blockchain.ContractAddress), client)
	if err != nil {
		return fmt.Errorf("failed to bind contract: %w", err)
	}
	a.contract = gamesContract

	a.ledgerSvc = ledger.NewService(client, gamesContract, &ledger.ServiceConfig{
		GasLimit: a.cfg.Blockchain.GasLimit,
	})

	if !client.CanSign() {
		logger.Warn("no private key configured, ledger service is read-only")
	}

	logger.Info("blockchain client initialized",
		zap.Int64("chainId", a.cfg.Blockchain.ChainID),
		zap.String("contract", a.cfg.Blockchain.ContractAddress),
		zap.String("wallet", client.Address().Hex()))

	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.userRepo = repository.NewUserRepository(a.db)
	a.queueRepo = repository.NewQueueRepository(a.db)

	logger.Info("repositories initialized")
}

// initKafka 初始化 Kafka，未配置 brokers 时跳过
func (a *App) initKafka() error {
	if !a.cfg.Kafka.Enabled() {
		a.eventPublisher = service.NoopPublisher{}
		logger.Info("kafka disabled, sync events will not be published")
		return nil
	}

	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.kafkaProducer = producer
	a.eventPublisher = kafka.NewEventPublisher(producer)

	logger.Info("kafka producer initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initServices 初始化服务
func (a *App) initServices() {
	a.monadIDClient = monadid.NewClient(&monadid.Config{
		BaseURL: a.cfg.MonadID.BaseURL,
		Timeout: time.Duration(a.cfg.MonadID.TimeoutSeconds) * time.Second,
	})

	a.scoreSvc = service.NewScoreService(
		a.userRepo,
		a.queueRepo,
		a.monadIDClient,
		&service.ScoreServiceConfig{
			ScoreDampingDivisor: int64(a.cfg.Sync.ScoreDampingDivisor),
			MaxRetries:          a.cfg.Sync.MaxRetries,
		},
	)

	hostname, _ := os.Hostname()
	drainLock := service.NewDrainLock(a.redis, hostname,
		time.Duration(a.cfg.Sync.LockTTLSeconds)*time.Second)

	a.syncSvc = service.NewSyncService(
		a.queueRepo,
		a.userRepo,
		a.ledgerSvc,
		a.monadIDClient,
		a.eventPublisher,
		drainLock,
		&service.SyncServiceConfig{
			Interval:    time.Duration(a.cfg.Sync.IntervalSeconds) * time.Second,
			BatchSize:   a.cfg.Sync.BatchSize,
			ItemDelay:   time.Duration(a.cfg.Sync.ItemDelayMs) * time.Millisecond,
			CleanupDays: a.cfg.Sync.CleanupDays,
		},
	)

	// 消费者依赖 scoreSvc，延后到此处创建
	if a.cfg.Kafka.Enabled() {
		consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:      a.cfg.Kafka.Brokers,
			GroupID:      a.cfg.Kafka.GroupID,
			ScoreService: a.scoreSvc,
		})
		if err != nil {
			logger.Error("failed to create kafka consumer", zap.Error(err))
		} else {
			a.kafkaConsumer = consumer
		}
	}

	logger.Info("services initialized")
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	if a.cfg.Service.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	router := &handler.Router{
		Score:       handler.NewScoreHandler(a.scoreSvc),
		Leaderboard: handler.NewLeaderboardHandler(a.scoreSvc),
		Sync:        handler.NewSyncHandler(a.syncSvc, a.scoreSvc, a.ledgerSvc),
		Health:      handler.NewHealthHandler(a.db, a.redis, a.ledgerSvc, a.cfg.Service.Name),
	}
	router.Register(engine)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler: engine,
	}

	logger.Info("http server initialized", zap.Int("port", a.cfg.Service.HTTPPort))
}

// Run 运行应用
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动同步工作器
	if err := a.syncSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync worker: %w", err)
	}

	// 启动 Kafka 消费者
	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start kafka consumer: %w", err)
		}
	}

	// 启动 HTTP 服务器
	go func() {
		logger.Info("http server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// 等待退出信号
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

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	// 先停外部入口
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		cancel()
	}

	if a.kafkaConsumer != nil {
		a.kafkaConsumer.Stop()
	}

	// 等在途批次结束
	if a.syncSvc != nil {
		if err := a.syncSvc.Stop(); err != nil && !errors.Is(err, service.ErrWorkerStopped) {
			logger.Error("sync worker stop error", zap.Error(err))
		}
	}

	if a.kafkaProducer != nil {
		a.kafkaProducer.Close()
	}

	if a.chainClient != nil {
		a.chainClient.Close()
	}

	if a.redis != nil {
		a.redis.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}
