package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/monbeats/monbeats-sync/internal/model"
)

// newTestDB 创建内存 sqlite 测试库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// 内存库随连接销毁，限制为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.SyncQueueEntry{}, &model.UserScore{}))
	return db
}

func newQueueEntry(userID string, score, txs int64) *model.SyncQueueEntry {
	return &model.SyncQueueEntry{
		UserID:            userID,
		Username:          "player-" + userID,
		WalletAddress:     "0x" + userID,
		ScoreAmount:       score,
		TransactionAmount: txs,
	}
}

func TestQueueRepository_EnqueueAndGet(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	entry := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, entry))

	assert.NotEmpty(t, entry.EntryID)
	assert.NotEmpty(t, entry.Fingerprint)
	assert.Equal(t, model.SyncStatusPending, entry.Status)
	assert.Equal(t, model.SubmissionTypeAuto, entry.SubmissionType)
	assert.Equal(t, 3, entry.MaxRetries)

	got, err := repo.GetByEntryID(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.ScoreAmount)
	assert.Equal(t, int64(1), got.TransactionAmount)
}

func TestQueueRepository_GetNotFound(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))

	_, err := repo.GetByEntryID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrQueueEntryNotFound)
}

// TestQueueRepository_DuplicateRecentWindow 10 分钟窗口内相同三元组被拒
func TestQueueRepository_DuplicateRecentWindow(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newQueueEntry("user-1", 500, 1)))

	err := repo.Enqueue(ctx, newQueueEntry("user-1", 500, 1))
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, DupReasonRecentWindow, dup.Reason)
	assert.Equal(t, "user-1", dup.UserID)
}

// TestQueueRepository_DuplicatePendingSameAmount 相同 (user, score) 待提交被拒
func TestQueueRepository_DuplicatePendingSameAmount(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newQueueEntry("user-1", 500, 1)))

	// 交易数不同，绕过三元组检查，但 (user, score) 仍在 pending
	err := repo.Enqueue(ctx, newQueueEntry("user-1", 500, 2))
	require.Error(t, err)

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, DupReasonPendingSame, dup.Reason)
}

// TestQueueRepository_DuplicateFingerprint 指纹相同被拒
func TestQueueRepository_DuplicateFingerprint(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	first := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, first))

	// 预设指纹撞上已有条目，前两项检查被不同的 score 绕过
	second := newQueueEntry("user-1", 600, 1)
	second.Fingerprint = first.Fingerprint

	err := repo.Enqueue(ctx, second)
	require.Error(t, err)

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, DupReasonFingerprint, dup.Reason)
}

// TestQueueRepository_DuplicateCompletedWindow 30 分钟内已完成的相同 (user, score) 被拒
func TestQueueRepository_DuplicateCompletedWindow(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	first := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, first))
	require.NoError(t, repo.MarkProcessing(ctx, first.EntryID))
	require.NoError(t, repo.MarkCompleted(ctx, first.EntryID, "0xhash"))

	err := repo.Enqueue(ctx, newQueueEntry("user-1", 500, 2))
	require.Error(t, err)

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, DupReasonCompletedWindow, dup.Reason)
}

// TestQueueRepository_FingerprintSurvivesFailure 失败条目仍占用指纹
func TestQueueRepository_FingerprintSurvivesFailure(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	first := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, first))

	// 前两项检查只看未失败条目，失败后同桶重放由指纹挡下
	require.NoError(t, repo.MarkProcessing(ctx, first.EntryID))
	require.NoError(t, repo.MarkRejected(ctx, first.EntryID, "boom"))

	err := repo.Enqueue(ctx, newQueueEntry("user-1", 500, 1))
	require.Error(t, err)

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, DupReasonFingerprint, dup.Reason)
}

// TestQueueRepository_ListDue 只返回待提交且未达重试上限的条目，FIFO
func TestQueueRepository_ListDue(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rows := []*model.SyncQueueEntry{
		{EntryID: "e-old", UserID: "u1", Fingerprint: "fp-1", Status: model.SyncStatusPending, ScoreAmount: 100, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 3000, UpdatedAt: now},
		{EntryID: "e-new", UserID: "u2", Fingerprint: "fp-2", Status: model.SyncStatusPending, ScoreAmount: 200, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 1000, UpdatedAt: now},
		{EntryID: "e-exhausted", UserID: "u3", Fingerprint: "fp-3", Status: model.SyncStatusPending, ScoreAmount: 300, TransactionAmount: 1, RetryCount: 3, MaxRetries: 3, CreatedAt: now - 2000, UpdatedAt: now},
		{EntryID: "e-done", UserID: "u4", Fingerprint: "fp-4", Status: model.SyncStatusCompleted, ScoreAmount: 400, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 4000, UpdatedAt: now},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	due, err := repo.ListDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "e-old", due[0].EntryID)
	assert.Equal(t, "e-new", due[1].EntryID)
}

// TestQueueRepository_ListDueByUser 单用户到期条目按入队顺序返回
func TestQueueRepository_ListDueByUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rows := []*model.SyncQueueEntry{
		{EntryID: "e-second", UserID: "u1", Fingerprint: "fp-1", Status: model.SyncStatusPending, ScoreAmount: 200, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 1000, UpdatedAt: now},
		{EntryID: "e-first", UserID: "u1", Fingerprint: "fp-2", Status: model.SyncStatusPending, ScoreAmount: 100, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 3000, UpdatedAt: now},
		{EntryID: "e-failed", UserID: "u1", Fingerprint: "fp-3", Status: model.SyncStatusFailed, ScoreAmount: 300, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 2000, UpdatedAt: now},
		{EntryID: "e-exhausted", UserID: "u1", Fingerprint: "fp-4", Status: model.SyncStatusPending, ScoreAmount: 400, TransactionAmount: 1, RetryCount: 3, MaxRetries: 3, CreatedAt: now - 4000, UpdatedAt: now},
		{EntryID: "e-other", UserID: "u2", Fingerprint: "fp-5", Status: model.SyncStatusPending, ScoreAmount: 500, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now - 5000, UpdatedAt: now},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	due, err := repo.ListDueByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "e-first", due[0].EntryID)
	assert.Equal(t, "e-second", due[1].EntryID)
}

// TestQueueRepository_ResetFailedByUser 只重置指定用户的失败条目
func TestQueueRepository_ResetFailedByUser(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	for _, userID := range []string{"user-1", "user-2"} {
		entry := newQueueEntry(userID, 500, 1)
		require.NoError(t, repo.Enqueue(ctx, entry))
		require.NoError(t, repo.MarkProcessing(ctx, entry.EntryID))
		require.NoError(t, repo.MarkFailed(ctx, entry.EntryID, "boom"))
	}

	count, err := repo.ResetFailedByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	due, err := repo.ListDueByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].RetryCount)
	assert.Empty(t, due[0].ErrorMessage)

	// 其他用户的失败条目不受影响
	due, err = repo.ListDueByUser(ctx, "user-2", 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// TestQueueRepository_Transitions 条件状态转移
func TestQueueRepository_Transitions(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	entry := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, entry))

	require.NoError(t, repo.MarkProcessing(ctx, entry.EntryID))

	// 重复的 CAS 未命中
	assert.ErrorIs(t, repo.MarkProcessing(ctx, entry.EntryID), ErrEntryStateConflict)

	require.NoError(t, repo.MarkCompleted(ctx, entry.EntryID, "0xhash"))

	got, err := repo.GetByEntryID(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusCompleted, got.Status)
	assert.Equal(t, "0xhash", got.TxHash)
	assert.NotZero(t, got.CompletedAt)
	assert.NotZero(t, got.LastAttemptAt)
}

// TestQueueRepository_RequeueForRetry 重试回到 pending 并消耗一次重试
func TestQueueRepository_RequeueForRetry(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	entry := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, entry))
	require.NoError(t, repo.MarkProcessing(ctx, entry.EntryID))
	require.NoError(t, repo.RequeueForRetry(ctx, entry.EntryID, "rpc timeout"))

	got, err := repo.GetByEntryID(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "rpc timeout", got.ErrorMessage)
}

// TestQueueRepository_MarkRejected 永久失败不消耗重试
func TestQueueRepository_MarkRejected(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	entry := newQueueEntry("user-1", 500, 1)
	require.NoError(t, repo.Enqueue(ctx, entry))
	require.NoError(t, repo.MarkProcessing(ctx, entry.EntryID))
	require.NoError(t, repo.MarkRejected(ctx, entry.EntryID, "execution reverted"))

	got, err := repo.GetByEntryID(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

// TestQueueRepository_ResetFailed 失败条目整体重置
func TestQueueRepository_ResetFailed(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		entry := newQueueEntry(fmt.Sprintf("user-%d", i), int64(500+i), 1)
		require.NoError(t, repo.Enqueue(ctx, entry))
		require.NoError(t, repo.MarkProcessing(ctx, entry.EntryID))
		require.NoError(t, repo.MarkFailed(ctx, entry.EntryID, "boom"))
	}

	count, err := repo.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	due, err := repo.ListDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, entry := range due {
		assert.Equal(t, 0, entry.RetryCount)
		assert.Empty(t, entry.ErrorMessage)
	}
}

// TestQueueRepository_CleanupCompleted 清理超期完成条目
func TestQueueRepository_CleanupCompleted(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	now := time.Now()
	old := now.AddDate(0, 0, -8).UnixMilli()
	recent := now.Add(-time.Hour).UnixMilli()

	rows := []*model.SyncQueueEntry{
		{EntryID: "e-old", UserID: "u1", Fingerprint: "fp-1", Status: model.SyncStatusCompleted, MaxRetries: 3, CompletedAt: old, CreatedAt: old, UpdatedAt: old},
		{EntryID: "e-recent", UserID: "u2", Fingerprint: "fp-2", Status: model.SyncStatusCompleted, MaxRetries: 3, CompletedAt: recent, CreatedAt: recent, UpdatedAt: recent},
		{EntryID: "e-failed", UserID: "u3", Fingerprint: "fp-3", Status: model.SyncStatusFailed, MaxRetries: 3, CreatedAt: old, UpdatedAt: old},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	count, err := repo.CleanupCompleted(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = repo.GetByEntryID(ctx, "e-old")
	assert.ErrorIs(t, err, ErrQueueEntryNotFound)

	_, err = repo.GetByEntryID(ctx, "e-recent")
	assert.NoError(t, err)
}

// TestQueueRepository_Stats 按状态聚合
func TestQueueRepository_Stats(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	rows := []*model.SyncQueueEntry{
		{EntryID: "e-1", UserID: "u1", Fingerprint: "fp-1", Status: model.SyncStatusPending, ScoreAmount: 100, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now, UpdatedAt: now},
		{EntryID: "e-2", UserID: "u2", Fingerprint: "fp-2", Status: model.SyncStatusPending, ScoreAmount: 200, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now, UpdatedAt: now},
		{EntryID: "e-3", UserID: "u3", Fingerprint: "fp-3", Status: model.SyncStatusCompleted, ScoreAmount: 300, TransactionAmount: 2, MaxRetries: 3, CreatedAt: now, UpdatedAt: now},
		{EntryID: "e-4", UserID: "u4", Fingerprint: "fp-4", Status: model.SyncStatusFailed, ScoreAmount: 400, TransactionAmount: 1, MaxRetries: 3, CreatedAt: now, UpdatedAt: now},
	}
	for _, row := range rows {
		require.NoError(t, db.Create(row).Error)
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(300), stats.PendingScore)
	assert.Equal(t, int64(2), stats.PendingTransactions)
	assert.Equal(t, int64(300), stats.CompletedScore)
	assert.Equal(t, int64(2), stats.CompletedTransactions)
}
