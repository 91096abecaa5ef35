package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/metrics"
	"github.com/monbeats/monbeats-sync/internal/model"
	"github.com/monbeats/monbeats-sync/internal/repository"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

var (
	ErrInvalidSubmission = errors.New("invalid score submission")
	ErrInvalidWallet     = errors.New("invalid wallet address")
)

// UsernameResolver 钱包用户名解析接口
type UsernameResolver interface {
	Username(ctx context.Context, wallet string) (string, error)
}

// RecordResult 分数录入结果
type RecordResult struct {
	User      *model.UserScore      `json:"user"`
	Delta     int64                 `json:"delta"`
	Entry     *model.SyncQueueEntry `json:"entry,omitempty"`
	Duplicate bool                  `json:"duplicate"`
	NewBest   bool                  `json:"newBest"`
}

// ScoreService 分数录入与排行榜服务
type ScoreService struct {
	users      repository.UserRepository
	queue      repository.QueueRepository
	resolver   UsernameResolver
	diff       *DiffCalculator
	maxRetries int
}

// ScoreServiceConfig 服务配置
type ScoreServiceConfig struct {
	ScoreDampingDivisor int64
	MaxRetries          int
}

// NewScoreService 创建分数服务
func NewScoreService(
	users repository.UserRepository,
	queue repository.QueueRepository,
	resolver UsernameResolver,
	cfg *ScoreServiceConfig,
) *ScoreService {
	divisor := int64(2)
	maxRetries := 3
	if cfg != nil {
		if cfg.ScoreDampingDivisor > 0 {
			divisor = cfg.ScoreDampingDivisor
		}
		if cfg.MaxRetries > 0 {
			maxRetries = cfg.MaxRetries
		}
	}

	return &ScoreService{
		users:      users,
		queue:      queue,
		resolver:   resolver,
		diff:       NewDiffCalculator(divisor),
		maxRetries: maxRetries,
	}
}

// RecordScore 录入一局游戏分数
//
// 更新本地排行榜后计算可同步增量，增量大于零时写入同步队列，
// 入队成功才累加待同步分数。source 标识来源 (http/kafka)
func (s *ScoreService) RecordScore(ctx context.Context, submission *model.ScoreSubmission, source string) (*RecordResult, error) {
	if submission == nil || submission.Score <= 0 {
		return nil, ErrInvalidSubmission
	}

	wallet := strings.ToLower(strings.TrimSpace(submission.WalletAddress))
	if !isHexAddress(wallet) {
		return nil, ErrInvalidWallet
	}

	user, err := s.findOrCreateUser(ctx, wallet, submission.Username)
	if err != nil {
		return nil, err
	}

	playedAt := submission.PlayedAt
	if playedAt == 0 {
		playedAt = time.Now().UnixMilli()
	}

	newBest := submission.Score > user.BestScore

	if err := s.users.RecordGame(ctx, user.UserID, submission.Score, submission.Chart, submission.Difficulty, newBest, playedAt); err != nil {
		return nil, err
	}

	metrics.RecordScore(source, submission.Score)

	// 最好成绩对上次入队基线求差，阻尼后作为本次增量
	best := user.BestScore
	if newBest {
		best = submission.Score
	}
	delta := s.diff.Delta(best, user.SyncBaseline())

	result := &RecordResult{
		Delta:   delta,
		NewBest: newBest,
	}

	if delta > 0 {
		entry := &model.SyncQueueEntry{
			UserID:            user.UserID,
			Username:          user.Username,
			WalletAddress:     wallet,
			ScoreAmount:       delta,
			TransactionAmount: 1,
			SubmissionType:    model.SubmissionTypeAuto,
			MaxRetries:        s.maxRetries,
		}

		if err := s.queue.Enqueue(ctx, entry); err != nil {
			if repository.IsDuplicate(err) {
				metrics.RecordQueueEntry("duplicate")
				logger.Debug("同步条目重复，跳过入队",
					zap.String("userId", user.UserID),
					zap.Int64("delta", delta))
				result.Duplicate = true
			} else {
				metrics.RecordQueueEntry("error")
				return nil, err
			}
		} else {
			metrics.RecordQueueEntry("enqueued")
			result.Entry = entry

			if err := s.users.AddPending(ctx, user.UserID, delta, 1, best); err != nil {
				logger.Error("累加待同步分数失败",
					zap.String("userId", user.UserID),
					zap.Int64("delta", delta),
					zap.Error(err))
			}
		}
	} else {
		metrics.RecordQueueEntry("skipped")
	}

	updated, err := s.users.GetByUserID(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	result.User = updated

	return result, nil
}

// findOrCreateUser 按钱包地址查找用户，不存在则创建
func (s *ScoreService) findOrCreateUser(ctx context.Context, wallet, username string) (*model.UserScore, error) {
	user, err := s.users.GetByWallet(ctx, wallet)
	if err == nil {
		// 提交携带了新用户名时更新
		if username != "" && username != user.Username {
			if err := s.users.UpdateUsername(ctx, user.UserID, username); err == nil {
				user.Username = username
			}
		}
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	if username == "" && s.resolver != nil {
		// 未提供用户名时尝试从 MonadGames ID 解析，失败不阻塞录入
		resolved, resolveErr := s.resolver.Username(ctx, wallet)
		if resolveErr != nil {
			logger.Warn("解析钱包用户名失败",
				zap.String("wallet", wallet),
				zap.Error(resolveErr))
		} else {
			username = resolved
		}
	}

	user = &model.UserScore{
		UserID:        wallet,
		Username:      username,
		WalletAddress: wallet,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	logger.Info("创建新玩家",
		zap.String("wallet", wallet),
		zap.String("username", username))

	return user, nil
}

// GetUserScore 查询玩家成绩
func (s *ScoreService) GetUserScore(ctx context.Context, userID string) (*model.UserScore, error) {
	return s.users.GetByUserID(ctx, userID)
}

// Leaderboard 查询排行榜，总数回填到 page.Total
func (s *ScoreService) Leaderboard(ctx context.Context, page *repository.Pagination) ([]*model.UserScore, error) {
	return s.users.Leaderboard(ctx, page)
}

// LeaderboardStats 查询排行榜统计
func (s *ScoreService) LeaderboardStats(ctx context.Context) (*model.LeaderboardStats, error) {
	return s.users.Stats(ctx)
}

// SyncHistory 查询玩家的同步队列历史，新条目在前
func (s *ScoreService) SyncHistory(ctx context.Context, userID string, page *repository.Pagination) ([]*model.SyncQueueEntry, error) {
	return s.queue.ListByUser(ctx, userID, page)
}

// ResolveUsername 按钱包地址解析用户名
func (s *ScoreService) ResolveUsername(ctx context.Context, wallet string) (string, error) {
	if s.resolver == nil {
		return "", nil
	}
	return s.resolver.Username(ctx, strings.ToLower(strings.TrimSpace(wallet)))
}

// DeleteUser 删除玩家成绩
func (s *ScoreService) DeleteUser(ctx context.Context, userID string) error {
	return s.users.Delete(ctx, userID)
}

// isHexAddress 校验 0x 开头的 40 位十六进制地址
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
