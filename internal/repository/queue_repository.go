package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monbeats/monbeats-sync/internal/model"
)

var (
	ErrQueueEntryNotFound = errors.New("sync queue entry not found")
	// ErrEntryStateConflict 条目不在期望状态，条件更新未命中
	ErrEntryStateConflict = errors.New("sync queue entry not in expected status")
)

// 去重窗口
const (
	dedupRecentWindow    = 10 * time.Minute
	dedupCompletedWindow = 30 * time.Minute
)

// 去重拒绝原因
const (
	DupReasonRecentWindow    = "recent_window"
	DupReasonPendingSame     = "pending_same_amount"
	DupReasonFingerprint     = "fingerprint"
	DupReasonCompletedWindow = "completed_window"
)

// DuplicateError 去重拒绝，携带命中的检查项
type DuplicateError struct {
	Reason      string
	UserID      string
	ScoreAmount int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate sync entry rejected (%s) for user %s score %d", e.Reason, e.UserID, e.ScoreAmount)
}

// IsDuplicate 判断是否为去重拒绝
func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}

// QueueStats 队列统计
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`

	PendingScore          int64 `json:"pending_score"`
	PendingTransactions   int64 `json:"pending_transactions"`
	CompletedScore        int64 `json:"completed_score"`
	CompletedTransactions int64 `json:"completed_transactions"`
}

// QueueRepository 同步队列仓储接口
type QueueRepository interface {
	Enqueue(ctx context.Context, entry *model.SyncQueueEntry) error
	GetByEntryID(ctx context.Context, entryID string) (*model.SyncQueueEntry, error)
	ListDue(ctx context.Context, limit int) ([]*model.SyncQueueEntry, error)
	ListDueByUser(ctx context.Context, userID string, limit int) ([]*model.SyncQueueEntry, error)
	ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.SyncQueueEntry, error)

	MarkProcessing(ctx context.Context, entryID string) error
	MarkCompleted(ctx context.Context, entryID string, txHash string) error
	RequeueForRetry(ctx context.Context, entryID string, errMsg string) error
	MarkFailed(ctx context.Context, entryID string, errMsg string) error
	MarkRejected(ctx context.Context, entryID string, errMsg string) error

	ResetFailed(ctx context.Context) (int64, error)
	ResetFailedByUser(ctx context.Context, userID string) (int64, error)
	CleanupCompleted(ctx context.Context, olderThanDays int) (int64, error)
	Stats(ctx context.Context) (*QueueStats, error)
}

// queueRepository 同步队列仓储实现
type queueRepository struct {
	*Repository
}

// NewQueueRepository 创建同步队列仓储
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{
		Repository: NewRepository(db),
	}
}

// Enqueue 入队，依次执行四项去重检查后插入
//
// 指纹列的唯一索引兜底并发窗口: 检查通过但插入撞到
// 唯一冲突时同样返回 DuplicateError
func (r *queueRepository) Enqueue(ctx context.Context, entry *model.SyncQueueEntry) error {
	now := time.Now()
	nowMilli := now.UnixMilli()

	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.Fingerprint == "" {
		entry.Fingerprint = model.Fingerprint(entry.UserID, entry.ScoreAmount, entry.TransactionAmount, now)
	}
	if entry.SubmissionType == "" {
		entry.SubmissionType = model.SubmissionTypeAuto
	}
	if entry.MaxRetries == 0 {
		entry.MaxRetries = 3
	}
	entry.Status = model.SyncStatusPending
	entry.CreatedAt = nowMilli
	entry.UpdatedAt = nowMilli

	if reason, err := r.checkDuplicate(ctx, entry, now); err != nil {
		return err
	} else if reason != "" {
		return &DuplicateError{Reason: reason, UserID: entry.UserID, ScoreAmount: entry.ScoreAmount}
	}

	if err := r.DB(ctx).Create(entry).Error; err != nil {
		if IsUniqueViolation(err) {
			return &DuplicateError{Reason: DupReasonFingerprint, UserID: entry.UserID, ScoreAmount: entry.ScoreAmount}
		}
		return err
	}
	return nil
}

// checkDuplicate 按序执行去重检查，返回第一个命中的原因
func (r *queueRepository) checkDuplicate(ctx context.Context, entry *model.SyncQueueEntry, now time.Time) (string, error) {
	db := r.DB(ctx).Model(&model.SyncQueueEntry{})

	// 1. 近 10 分钟内相同 (user, score, txs) 且未失败
	var count int64
	err := db.Session(&gorm.Session{}).
		Where("user_id = ? AND score_amount = ? AND transaction_amount = ?",
			entry.UserID, entry.ScoreAmount, entry.TransactionAmount).
		Where("status IN ?", []model.SyncStatus{model.SyncStatusPending, model.SyncStatusProcessing, model.SyncStatusCompleted}).
		Where("created_at > ?", now.Add(-dedupRecentWindow).UnixMilli()).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	if count > 0 {
		return DupReasonRecentWindow, nil
	}

	// 2. 相同 (user, score) 仍在待提交
	err = db.Session(&gorm.Session{}).
		Where("user_id = ? AND score_amount = ? AND status = ?",
			entry.UserID, entry.ScoreAmount, model.SyncStatusPending).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	if count > 0 {
		return DupReasonPendingSame, nil
	}

	// 3. 指纹已存在
	err = db.Session(&gorm.Session{}).
		Where("fingerprint = ?", entry.Fingerprint).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	if count > 0 {
		return DupReasonFingerprint, nil
	}

	// 4. 近 30 分钟内相同 (user, score) 已完成
	err = db.Session(&gorm.Session{}).
		Where("user_id = ? AND score_amount = ? AND status = ?",
			entry.UserID, entry.ScoreAmount, model.SyncStatusCompleted).
		Where("completed_at > ?", now.Add(-dedupCompletedWindow).UnixMilli()).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	if count > 0 {
		return DupReasonCompletedWindow, nil
	}

	return "", nil
}

func (r *queueRepository) GetByEntryID(ctx context.Context, entryID string) (*model.SyncQueueEntry, error) {
	var entry model.SyncQueueEntry
	err := r.DB(ctx).Where("entry_id = ?", entryID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQueueEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListDue 列出到期条目: 待提交且重试次数未到上限，FIFO
func (r *queueRepository) ListDue(ctx context.Context, limit int) ([]*model.SyncQueueEntry, error) {
	var entries []*model.SyncQueueEntry
	err := r.DB(ctx).
		Where("status = ? AND retry_count < max_retries", model.SyncStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ListDueByUser 列出指定用户的到期条目，与 ListDue 同样按 FIFO 排序
func (r *queueRepository) ListDueByUser(ctx context.Context, userID string, limit int) ([]*model.SyncQueueEntry, error) {
	var entries []*model.SyncQueueEntry
	err := r.DB(ctx).
		Where("user_id = ? AND status = ? AND retry_count < max_retries", userID, model.SyncStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *queueRepository) ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.SyncQueueEntry, error) {
	var entries []*model.SyncQueueEntry

	query := r.DB(ctx).Model(&model.SyncQueueEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&entries).Error
	return entries, err
}

// MarkProcessing 条件转移 pending -> processing
func (r *queueRepository) MarkProcessing(ctx context.Context, entryID string) error {
	now := time.Now().UnixMilli()
	return r.transition(ctx, entryID, model.SyncStatusPending, map[string]interface{}{
		"status":          model.SyncStatusProcessing,
		"last_attempt_at": now,
		"updated_at":      now,
	})
}

// MarkCompleted 条件转移 processing -> completed
func (r *queueRepository) MarkCompleted(ctx context.Context, entryID string, txHash string) error {
	now := time.Now().UnixMilli()
	return r.transition(ctx, entryID, model.SyncStatusProcessing, map[string]interface{}{
		"status":        model.SyncStatusCompleted,
		"tx_hash":       txHash,
		"error_message": "",
		"completed_at":  now,
		"updated_at":    now,
	})
}

// RequeueForRetry 条件转移 processing -> pending，消耗一次重试
func (r *queueRepository) RequeueForRetry(ctx context.Context, entryID string, errMsg string) error {
	return r.transition(ctx, entryID, model.SyncStatusProcessing, map[string]interface{}{
		"status":        model.SyncStatusPending,
		"error_message": errMsg,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"updated_at":    time.Now().UnixMilli(),
	})
}

// MarkFailed 条件转移 processing -> failed，消耗一次重试 (重试上限耗尽)
func (r *queueRepository) MarkFailed(ctx context.Context, entryID string, errMsg string) error {
	return r.transition(ctx, entryID, model.SyncStatusProcessing, map[string]interface{}{
		"status":        model.SyncStatusFailed,
		"error_message": errMsg,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"updated_at":    time.Now().UnixMilli(),
	})
}

// MarkRejected 条件转移 processing -> failed，不消耗重试 (永久性错误)
func (r *queueRepository) MarkRejected(ctx context.Context, entryID string, errMsg string) error {
	return r.transition(ctx, entryID, model.SyncStatusProcessing, map[string]interface{}{
		"status":        model.SyncStatusFailed,
		"error_message": errMsg,
		"updated_at":    time.Now().UnixMilli(),
	})
}

// transition 条件状态转移，WHERE status 保证同一条目不会被并发推进两次
func (r *queueRepository) transition(ctx context.Context, entryID string, from model.SyncStatus, updates map[string]interface{}) error {
	result := r.DB(ctx).Model(&model.SyncQueueEntry{}).
		Where("entry_id = ? AND status = ?", entryID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryStateConflict
	}
	return nil
}

// ResetFailed 重试所有失败条目: 状态回到 pending，重试计数清零
func (r *queueRepository) ResetFailed(ctx context.Context) (int64, error) {
	result := r.DB(ctx).Model(&model.SyncQueueEntry{}).
		Where("status = ?", model.SyncStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.SyncStatusPending,
			"retry_count":   0,
			"error_message": "",
			"updated_at":    time.Now().UnixMilli(),
		})
	return result.RowsAffected, result.Error
}

// ResetFailedByUser 重试指定用户的失败条目
func (r *queueRepository) ResetFailedByUser(ctx context.Context, userID string) (int64, error) {
	result := r.DB(ctx).Model(&model.SyncQueueEntry{}).
		Where("user_id = ? AND status = ?", userID, model.SyncStatusFailed).
		Updates(map[string]interface{}{
			"status":        model.SyncStatusPending,
			"retry_count":   0,
			"error_message": "",
			"updated_at":    time.Now().UnixMilli(),
		})
	return result.RowsAffected, result.Error
}

// CleanupCompleted 清理超期的已完成条目
func (r *queueRepository) CleanupCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UnixMilli()
	result := r.DB(ctx).
		Where("status = ? AND completed_at < ?", model.SyncStatusCompleted, cutoff).
		Delete(&model.SyncQueueEntry{})
	return result.RowsAffected, result.Error
}

// Stats 按状态聚合队列统计
func (r *queueRepository) Stats(ctx context.Context) (*QueueStats, error) {
	type statusRow struct {
		Status model.SyncStatus
		Count  int64
		Score  int64
		Txs    int64
	}

	var rows []statusRow
	err := r.DB(ctx).Model(&model.SyncQueueEntry{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(score_amount), 0) AS score, COALESCE(SUM(transaction_amount), 0) AS txs").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{}
	for _, row := range rows {
		switch row.Status {
		case model.SyncStatusPending:
			stats.Pending = row.Count
			stats.PendingScore = row.Score
			stats.PendingTransactions = row.Txs
		case model.SyncStatusProcessing:
			stats.Processing = row.Count
		case model.SyncStatusCompleted:
			stats.Completed = row.Count
			stats.CompletedScore = row.Score
			stats.CompletedTransactions = row.Txs
		case model.SyncStatusFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}
