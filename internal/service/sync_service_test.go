package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/monbeats/monbeats-sync/internal/ledger"
	"github.com/monbeats/monbeats-sync/internal/model"
	"github.com/monbeats/monbeats-sync/internal/repository"
)

const (
	testWallet = "0x2222222222222222222222222222222222222222"
	testUserID = testWallet
	testTxHash = "0xabc123"
)

type syncFixture struct {
	queue     *MockQueueRepository
	users     *MockUserRepository
	submitter *MockSubmitter
	resolver  *MockResolver
	publisher *MockPublisher
	svc       *SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	f := &syncFixture{
		queue:     new(MockQueueRepository),
		users:     new(MockUserRepository),
		submitter: new(MockSubmitter),
		resolver:  new(MockResolver),
		publisher: new(MockPublisher),
	}
	f.svc = NewSyncService(f.queue, f.users, f.submitter, f.resolver, f.publisher, nil, &SyncServiceConfig{
		Interval:  120 * time.Second,
		BatchSize: 5,
		ItemDelay: time.Millisecond,
	})

	// 每轮末尾都会刷新队列深度，偶发触发清理
	f.queue.On("Stats", mock.Anything).Return(&repository.QueueStats{}, nil).Maybe()
	f.queue.On("CleanupCompleted", mock.Anything, 7).Return(int64(0), nil).Maybe()

	return f
}

func dueEntry(retryCount int) *model.SyncQueueEntry {
	return &model.SyncQueueEntry{
		EntryID:           "entry-1",
		UserID:            testUserID,
		Username:          "rhythmfan",
		WalletAddress:     testWallet,
		ScoreAmount:       250,
		TransactionAmount: 1,
		Status:            model.SyncStatusPending,
		RetryCount:        retryCount,
		MaxRetries:        3,
	}
}

// TestSyncService_Drain_Success 测试批次正常提交
func TestSyncService_Drain_Success(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	first := dueEntry(0)
	second := dueEntry(0)
	second.EntryID = "entry-2"
	second.ScoreAmount = 100

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{first, second}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-2").Return(nil)
	f.resolver.On("Username", mock.Anything, testWallet).Return("rhythmfan", nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return(testTxHash, nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(100), int64(1)).Return(testTxHash, nil)
	f.queue.On("MarkCompleted", mock.Anything, "entry-1", testTxHash).Return(nil)
	f.queue.On("MarkCompleted", mock.Anything, "entry-2", testTxHash).Return(nil)
	f.users.On("ApplySynced", mock.Anything, testUserID, int64(250), int64(1)).Return(nil)
	f.users.On("ApplySynced", mock.Anything, testUserID, int64(100), int64(1)).Return(nil)
	f.publisher.On("PublishSyncConfirmed", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Completed)

	f.queue.AssertExpectations(t)
	f.users.AssertExpectations(t)
	f.publisher.AssertNumberOfCalls(t, "PublishSyncConfirmed", 2)

	// 用户名未变化就不落库
	f.users.AssertNotCalled(t, "UpdateUsername", mock.Anything, mock.Anything, mock.Anything)
}

// TestSyncService_Drain_PermanentRejected 测试永久性错误直接拒绝
func TestSyncService_Drain_PermanentRejected(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	entry := dueEntry(0)
	submitErr := &ledger.ClassifiedError{
		Class: ledger.ErrorClassPermanent,
		Err:   errors.New("execution reverted: AccessControlUnauthorizedAccount"),
	}

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{entry}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	f.resolver.On("Username", mock.Anything, testWallet).Return("rhythmfan", nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return("", submitErr)
	f.queue.On("MarkRejected", mock.Anything, "entry-1", mock.Anything).Return(nil)
	f.users.On("MarkSyncFailed", mock.Anything, testUserID).Return(nil)
	f.publisher.On("PublishSyncFailed", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rejected)

	// 永久性错误不走重试
	f.queue.AssertNotCalled(t, "RequeueForRetry", mock.Anything, mock.Anything, mock.Anything)
	f.queue.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

// TestSyncService_Drain_TransientRetry 测试暂时性错误重新排队
func TestSyncService_Drain_TransientRetry(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	entry := dueEntry(0)
	submitErr := &ledger.ClassifiedError{
		Class: ledger.ErrorClassTransient,
		Err:   errors.New("connection refused"),
	}

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{entry}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	// 用户名服务不可用不阻塞提交
	f.resolver.On("Username", mock.Anything, testWallet).Return("", errors.New("monad id unavailable"))
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return("", submitErr)
	f.queue.On("RequeueForRetry", mock.Anything, "entry-1", mock.Anything).Return(nil)

	result, err := f.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)

	f.users.AssertNotCalled(t, "MarkSyncFailed", mock.Anything, mock.Anything)
}

// TestSyncService_Drain_RetryCeiling 测试达到重试上限转为失败
func TestSyncService_Drain_RetryCeiling(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	entry := dueEntry(2) // 第三次尝试
	submitErr := &ledger.ClassifiedError{
		Class: ledger.ErrorClassTransient,
		Err:   errors.New("timeout"),
	}

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{entry}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	f.resolver.On("Username", mock.Anything, testWallet).Return("rhythmfan", nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return("", submitErr)
	f.queue.On("MarkFailed", mock.Anything, "entry-1", mock.Anything).Return(nil)
	f.users.On("MarkSyncFailed", mock.Anything, testUserID).Return(nil)
	f.publisher.On("PublishSyncFailed", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	f.queue.AssertNotCalled(t, "RequeueForRetry", mock.Anything, mock.Anything, mock.Anything)
}

// TestSyncService_Drain_ReadOnly 测试只读模式跳过批次
func TestSyncService_Drain_ReadOnly(t *testing.T) {
	f := newSyncFixture(t)

	f.submitter.On("ReadOnly").Return(true)

	result, err := f.svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	f.queue.AssertNotCalled(t, "ListDue", mock.Anything, mock.Anything)
}

// TestSyncService_Drain_SingleFlight 测试同实例单飞
func TestSyncService_Drain_SingleFlight(t *testing.T) {
	f := newSyncFixture(t)

	f.svc.draining.Store(true)

	_, err := f.svc.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)
}

// TestSyncService_Drain_StateConflictSkipped 测试条目被抢占时跳过
func TestSyncService_Drain_StateConflictSkipped(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	entry := dueEntry(0)

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{entry}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(repository.ErrEntryStateConflict)

	result, err := f.svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	f.submitter.AssertNotCalled(t, "SubmitPlayerData", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestSyncService_Drain_RefreshesUsername 测试提交前补全用户名
func TestSyncService_Drain_RefreshesUsername(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	entry := dueEntry(0)
	entry.Username = ""

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{entry}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	f.resolver.On("Username", mock.Anything, testWallet).Return("rhythmfan", nil)
	f.users.On("UpdateUsername", mock.Anything, testUserID, "rhythmfan").Return(nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return(testTxHash, nil)
	f.queue.On("MarkCompleted", mock.Anything, "entry-1", testTxHash).Return(nil)
	f.users.On("ApplySynced", mock.Anything, testUserID, int64(250), int64(1)).Return(nil)
	f.publisher.On("PublishSyncConfirmed", mock.Anything, mock.MatchedBy(func(c *model.SyncConfirmation) bool {
		return c.Username == "rhythmfan"
	})).Return(nil)

	_, err := f.svc.Drain(ctx)
	require.NoError(t, err)

	f.resolver.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

// TestSyncService_Drain_PersistsRenamedPlayer 测试改名玩家在提交前被刷新并落库
func TestSyncService_Drain_PersistsRenamedPlayer(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	entry := dueEntry(0) // 入队时用户名还是 rhythmfan

	f.submitter.On("ReadOnly").Return(false)
	f.queue.On("ListDue", mock.Anything, 5).Return([]*model.SyncQueueEntry{entry}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	f.resolver.On("Username", mock.Anything, testWallet).Return("neonmaster", nil)
	f.users.On("UpdateUsername", mock.Anything, testUserID, "neonmaster").Return(nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return(testTxHash, nil)
	f.queue.On("MarkCompleted", mock.Anything, "entry-1", testTxHash).Return(nil)
	f.users.On("ApplySynced", mock.Anything, testUserID, int64(250), int64(1)).Return(nil)
	f.publisher.On("PublishSyncConfirmed", mock.Anything, mock.MatchedBy(func(c *model.SyncConfirmation) bool {
		return c.Username == "neonmaster"
	})).Return(nil)

	_, err := f.svc.Drain(ctx)
	require.NoError(t, err)

	f.resolver.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

// TestSyncService_SetInterval 测试同步间隔调整
func TestSyncService_SetInterval(t *testing.T) {
	f := newSyncFixture(t)

	assert.ErrorIs(t, f.svc.SetInterval(5*time.Second), ErrIntervalTooLow)

	require.NoError(t, f.svc.SetInterval(30*time.Second))
	assert.Equal(t, 30*time.Second, f.svc.Interval())
}

// TestSyncService_StartStop 测试工作器启停
func TestSyncService_StartStop(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// 只读模式下首轮直接跳过
	f.submitter.On("ReadOnly").Return(true)

	require.NoError(t, f.svc.Start(ctx))
	assert.ErrorIs(t, f.svc.Start(ctx), ErrWorkerRunning)

	assert.True(t, f.svc.Status().Running)

	require.NoError(t, f.svc.Stop())
	assert.ErrorIs(t, f.svc.Stop(), ErrWorkerStopped)
	assert.False(t, f.svc.Status().Running)
}

// TestSyncService_Start_CancelClearsRunning 测试上下文取消后运行标记被清除
func TestSyncService_Start_CancelClearsRunning(t *testing.T) {
	f := newSyncFixture(t)

	f.submitter.On("ReadOnly").Return(true)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.svc.Start(ctx))
	assert.True(t, f.svc.Status().Running)

	cancel()

	require.Eventually(t, func() bool {
		return !f.svc.Status().Running
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, f.svc.Stop(), ErrWorkerStopped)
}

// TestSyncService_SyncUser 测试手动同步复活失败条目后处理
func TestSyncService_SyncUser(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// 重试耗尽后失败的条目，重置后重新到期
	pending := dueEntry(0)

	f.submitter.On("ReadOnly").Return(false)
	f.users.On("GetByUserID", mock.Anything, testUserID).Return(&model.UserScore{UserID: testUserID}, nil)
	f.queue.On("ResetFailedByUser", mock.Anything, testUserID).Return(int64(1), nil)
	f.queue.On("ListDueByUser", mock.Anything, testUserID, 5).
		Return([]*model.SyncQueueEntry{pending}, nil)
	f.queue.On("MarkProcessing", mock.Anything, "entry-1").Return(nil)
	f.resolver.On("Username", mock.Anything, testWallet).Return("rhythmfan", nil)
	f.submitter.On("SubmitPlayerData", mock.Anything, mock.Anything, int64(250), int64(1)).Return(testTxHash, nil)
	f.queue.On("MarkCompleted", mock.Anything, "entry-1", testTxHash).Return(nil)
	f.users.On("ApplySynced", mock.Anything, testUserID, int64(250), int64(1)).Return(nil)
	f.publisher.On("PublishSyncConfirmed", mock.Anything, mock.Anything).Return(nil)

	result, err := f.svc.SyncUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Completed)

	f.queue.AssertExpectations(t)
}

// TestSyncService_SyncUser_Busy 测试手动同步与批次互斥
func TestSyncService_SyncUser_Busy(t *testing.T) {
	f := newSyncFixture(t)

	f.submitter.On("ReadOnly").Return(false)
	f.svc.draining.Store(true)

	_, err := f.svc.SyncUser(context.Background(), testUserID)
	assert.ErrorIs(t, err, ErrDrainInProgress)
}

// TestSyncService_SyncUser_UserNotFound 测试用户不存在
func TestSyncService_SyncUser_UserNotFound(t *testing.T) {
	f := newSyncFixture(t)

	f.submitter.On("ReadOnly").Return(false)
	f.users.On("GetByUserID", mock.Anything, "missing").Return(nil, repository.ErrUserNotFound)

	_, err := f.svc.SyncUser(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

// TestSyncService_RetryAllFailed 测试失败条目重置
func TestSyncService_RetryAllFailed(t *testing.T) {
	f := newSyncFixture(t)

	f.queue.On("ResetFailed", mock.Anything).Return(int64(4), nil)

	count, err := f.svc.RetryAllFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}
