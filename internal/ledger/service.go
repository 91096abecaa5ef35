package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/contract"
	"github.com/monbeats/monbeats-sync/internal/metrics"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

var (
	// ErrReadOnly 未配置私钥时禁止写操作
	ErrReadOnly = errors.New("ledger service is in read-only mode")
)

// ChainClient 链客户端能力抽象
type ChainClient interface {
	CanSign() bool
	Address() common.Address
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HealthCheck(ctx context.Context) error
}

// PlayerTotals 玩家链上累计数据
type PlayerTotals struct {
	TotalScore        *big.Int `json:"totalScore"`
	TotalTransactions *big.Int `json:"totalTransactions"`
}

// Service 分数上链服务
//
// 将玩家分数增量提交到 MonadGames 排行榜合约，并提供链上读取能力
type Service struct {
	chain    ChainClient
	contract *contract.MonadGamesContract
	gasLimit uint64
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	GasLimit uint64
}

// NewService 创建上链服务
func NewService(chain ChainClient, gamesContract *contract.MonadGamesContract, cfg *ServiceConfig) *Service {
	gasLimit := uint64(100000)
	if cfg != nil && cfg.GasLimit > 0 {
		gasLimit = cfg.GasLimit
	}

	return &Service{
		chain:    chain,
		contract: gamesContract,
		gasLimit: gasLimit,
	}
}

// ReadOnly 是否处于只读模式
func (s *Service) ReadOnly() bool {
	return !s.chain.CanSign()
}

// SubmitPlayerData 提交玩家分数增量到合约
//
// 每次提交现取 nonce，调用方需保证串行提交。返回的错误已按
// 暂时性/永久性分类
func (s *Service) SubmitPlayerData(ctx context.Context, player common.Address, scoreAmount, transactionAmount int64) (string, error) {
	if s.ReadOnly() {
		return "", ErrReadOnly
	}

	start := time.Now()

	data, err := s.contract.PackUpdatePlayerData(player, scoreAmount, transactionAmount)
	if err != nil {
		return "", &ClassifiedError{Class: ErrorClassPermanent, Err: err}
	}

	nonce, err := s.chain.PendingNonceAt(ctx, s.chain.Address())
	if err != nil {
		return "", Classify(err)
	}

	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return "", Classify(err)
	}
	metrics.SetGasPrice(gasPrice)

	tx := types.NewTransaction(nonce, s.contract.Address(), big.NewInt(0), s.gasLimit, gasPrice, data)

	signed, err := s.chain.SignTransaction(tx)
	if err != nil {
		return "", Classify(err)
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		classified := Classify(err)
		metrics.ObserveLedgerCall("updatePlayerData", time.Since(start))
		logger.Error("提交玩家数据失败",
			zap.String("player", player.Hex()),
			zap.Int64("scoreAmount", scoreAmount),
			zap.Int64("transactionAmount", transactionAmount),
			zap.String("class", classified.Class.String()),
			zap.Error(err))
		return "", classified
	}

	txHash := signed.Hash().Hex()
	metrics.ObserveLedgerCall("updatePlayerData", time.Since(start))
	logger.Info("已提交玩家数据",
		zap.String("player", player.Hex()),
		zap.Int64("scoreAmount", scoreAmount),
		zap.Int64("transactionAmount", transactionAmount),
		zap.Uint64("nonce", nonce),
		zap.String("txHash", txHash))

	return txHash, nil
}

// GetPlayerTotals 读取玩家链上累计分数与交易数
func (s *Service) GetPlayerTotals(ctx context.Context, player common.Address) (*PlayerTotals, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveLedgerCall("totalScoreOfPlayer", time.Since(start))
	}()

	score, err := s.contract.TotalScoreOfPlayer(ctx, player)
	if err != nil {
		return nil, Classify(err)
	}

	transactions, err := s.contract.TotalTransactionsOfPlayer(ctx, player)
	if err != nil {
		return nil, Classify(err)
	}

	return &PlayerTotals{
		TotalScore:        score,
		TotalTransactions: transactions,
	}, nil
}

// GetGamePlayerData 读取玩家在本游戏下的链上数据
func (s *Service) GetGamePlayerData(ctx context.Context, player common.Address) (*contract.PlayerData, error) {
	data, err := s.contract.PlayerDataPerGame(ctx, s.chain.Address(), player)
	if err != nil {
		return nil, Classify(err)
	}
	return data, nil
}

// WalletBalance 查询游戏钱包余额
func (s *Service) WalletBalance(ctx context.Context) (*big.Int, error) {
	return s.chain.BalanceAt(ctx, s.chain.Address(), nil)
}

// HealthCheck 链连通性检查
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.chain.HealthCheck(ctx)
}
