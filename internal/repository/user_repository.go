package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/monbeats/monbeats-sync/internal/model"
)

var (
	ErrUserNotFound = errors.New("user score not found")
)

// UserRepository 玩家成绩仓储接口
//
// 同步计数器只提供加法更新，绝不整行覆盖
type UserRepository interface {
	Create(ctx context.Context, user *model.UserScore) error
	GetByUserID(ctx context.Context, userID string) (*model.UserScore, error)
	GetByWallet(ctx context.Context, wallet string) (*model.UserScore, error)
	GetByUsername(ctx context.Context, username string) (*model.UserScore, error)
	Update(ctx context.Context, user *model.UserScore) error
	UpdateUsername(ctx context.Context, userID string, username string) error
	Delete(ctx context.Context, userID string) error

	RecordGame(ctx context.Context, userID string, score int64, chart, difficulty string, newBest bool, playedAt int64) error
	AddPending(ctx context.Context, userID string, scoreAmount, transactionAmount, syncedBest int64) error
	ApplySynced(ctx context.Context, userID string, scoreAmount, transactionAmount int64) error
	MarkSyncFailed(ctx context.Context, userID string) error

	Leaderboard(ctx context.Context, page *Pagination) ([]*model.UserScore, error)
	Stats(ctx context.Context) (*model.LeaderboardStats, error)
}

// userRepository 玩家成绩仓储实现
type userRepository struct {
	*Repository
}

// NewUserRepository 创建玩家成绩仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{
		Repository: NewRepository(db),
	}
}

func (r *userRepository) Create(ctx context.Context, user *model.UserScore) error {
	now := time.Now().UnixMilli()
	user.CreatedAt = now
	user.UpdatedAt = now
	return r.DB(ctx).Create(user).Error
}

func (r *userRepository) GetByUserID(ctx context.Context, userID string) (*model.UserScore, error) {
	return r.getBy(ctx, "user_id = ?", userID)
}

func (r *userRepository) GetByWallet(ctx context.Context, wallet string) (*model.UserScore, error) {
	return r.getBy(ctx, "wallet_address = ?", wallet)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.UserScore, error) {
	return r.getBy(ctx, "username = ?", username)
}

func (r *userRepository) getBy(ctx context.Context, query string, arg string) (*model.UserScore, error) {
	var user model.UserScore
	err := r.DB(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(ctx context.Context, user *model.UserScore) error {
	user.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(user).Error
}

func (r *userRepository) UpdateUsername(ctx context.Context, userID string, username string) error {
	result := r.DB(ctx).Model(&model.UserScore{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"username":   username,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) Delete(ctx context.Context, userID string) error {
	result := r.DB(ctx).Where("user_id = ?", userID).Delete(&model.UserScore{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordGame 记录一局游戏: 累加总分和局数，必要时推进最好成绩
func (r *userRepository) RecordGame(ctx context.Context, userID string, score int64, chart, difficulty string, newBest bool, playedAt int64) error {
	updates := map[string]interface{}{
		"total_score":    gorm.Expr("total_score + ?", score),
		"game_count":     gorm.Expr("game_count + 1"),
		"last_played_at": playedAt,
		"updated_at":     time.Now().UnixMilli(),
	}
	if newBest {
		updates["best_score"] = score
		updates["best_chart"] = chart
		updates["best_difficulty"] = difficulty
	}

	result := r.DB(ctx).Model(&model.UserScore{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddPending 暂存待上链增量，同时把差值基线推进到本次入队覆盖的最好成绩
//
// 基线在入队时推进而非上链确认时: 两次入队之间的更高成绩只按
// 新基线之上的部分再计增量，不会重复入队已覆盖的分数
func (r *userRepository) AddPending(ctx context.Context, userID string, scoreAmount, transactionAmount, syncedBest int64) error {
	result := r.DB(ctx).Model(&model.UserScore{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"pending_score":        gorm.Expr("pending_score + ?", scoreAmount),
			"pending_transactions": gorm.Expr("pending_transactions + ?", transactionAmount),
			"synced_best_score":    syncedBest,
			"updated_at":           time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ApplySynced 上链确认后结转: 已同步计数器加法递增，待上链清零
//
// 只有同步 worker 在拿到交易哈希后调用
func (r *userRepository) ApplySynced(ctx context.Context, userID string, scoreAmount, transactionAmount int64) error {
	result := r.DB(ctx).Model(&model.UserScore{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total_score_synced":        gorm.Expr("total_score_synced + ?", scoreAmount),
			"total_transactions_synced": gorm.Expr("total_transactions_synced + ?", transactionAmount),
			"pending_score":             0,
			"pending_transactions":      0,
			"last_synced_at":            time.Now().UnixMilli(),
			"sync_retries":              0,
			"sync_failed":               false,
			"updated_at":                time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkSyncFailed 记录同步失败
func (r *userRepository) MarkSyncFailed(ctx context.Context, userID string) error {
	result := r.DB(ctx).Model(&model.UserScore{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"sync_retries": gorm.Expr("sync_retries + 1"),
			"sync_failed":  true,
			"updated_at":   time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Leaderboard 按最好成绩降序分页
func (r *userRepository) Leaderboard(ctx context.Context, page *Pagination) ([]*model.UserScore, error) {
	var users []*model.UserScore

	query := r.DB(ctx).Model(&model.UserScore{})

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("best_score DESC, last_played_at ASC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&users).Error
	return users, err
}

// Stats 排行榜汇总统计
func (r *userRepository) Stats(ctx context.Context) (*model.LeaderboardStats, error) {
	var stats model.LeaderboardStats
	err := r.DB(ctx).Model(&model.UserScore{}).
		Select("COUNT(*) AS total_players, COALESCE(SUM(total_score), 0) AS total_score, COALESCE(SUM(game_count), 0) AS total_games, COALESCE(MAX(best_score), 0) AS highest_score").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
