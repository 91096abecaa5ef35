package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/monbeats/monbeats-sync/internal/model"
	"github.com/monbeats/monbeats-sync/internal/repository"
)

// MockQueueRepository 模拟同步队列仓储
type MockQueueRepository struct {
	mock.Mock
}

func (m *MockQueueRepository) Enqueue(ctx context.Context, entry *model.SyncQueueEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockQueueRepository) GetByEntryID(ctx context.Context, entryID string) (*model.SyncQueueEntry, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncQueueEntry), args.Error(1)
}

func (m *MockQueueRepository) ListDue(ctx context.Context, limit int) ([]*model.SyncQueueEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SyncQueueEntry), args.Error(1)
}

func (m *MockQueueRepository) ListByUser(ctx context.Context, userID string, page *repository.Pagination) ([]*model.SyncQueueEntry, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SyncQueueEntry), args.Error(1)
}

func (m *MockQueueRepository) ListDueByUser(ctx context.Context, userID string, limit int) ([]*model.SyncQueueEntry, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SyncQueueEntry), args.Error(1)
}

func (m *MockQueueRepository) MarkProcessing(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkCompleted(ctx context.Context, entryID string, txHash string) error {
	args := m.Called(ctx, entryID, txHash)
	return args.Error(0)
}

func (m *MockQueueRepository) RequeueForRetry(ctx context.Context, entryID string, errMsg string) error {
	args := m.Called(ctx, entryID, errMsg)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkFailed(ctx context.Context, entryID string, errMsg string) error {
	args := m.Called(ctx, entryID, errMsg)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkRejected(ctx context.Context, entryID string, errMsg string) error {
	args := m.Called(ctx, entryID, errMsg)
	return args.Error(0)
}

func (m *MockQueueRepository) ResetFailed(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) ResetFailedByUser(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) CleanupCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) Stats(ctx context.Context) (*repository.QueueStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.QueueStats), args.Error(1)
}

// MockUserRepository 模拟玩家成绩仓储
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.UserScore) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByUserID(ctx context.Context, userID string) (*model.UserScore, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserScore), args.Error(1)
}

func (m *MockUserRepository) GetByWallet(ctx context.Context, wallet string) (*model.UserScore, error) {
	args := m.Called(ctx, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserScore), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*model.UserScore, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserScore), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *model.UserScore) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) UpdateUsername(ctx context.Context, userID string, username string) error {
	args := m.Called(ctx, userID, username)
	return args.Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUserRepository) RecordGame(ctx context.Context, userID string, score int64, chart, difficulty string, newBest bool, playedAt int64) error {
	args := m.Called(ctx, userID, score, chart, difficulty, newBest, playedAt)
	return args.Error(0)
}

func (m *MockUserRepository) AddPending(ctx context.Context, userID string, scoreAmount, transactionAmount, syncedBest int64) error {
	args := m.Called(ctx, userID, scoreAmount, transactionAmount, syncedBest)
	return args.Error(0)
}

func (m *MockUserRepository) ApplySynced(ctx context.Context, userID string, scoreAmount, transactionAmount int64) error {
	args := m.Called(ctx, userID, scoreAmount, transactionAmount)
	return args.Error(0)
}

func (m *MockUserRepository) MarkSyncFailed(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockUserRepository) Leaderboard(ctx context.Context, page *repository.Pagination) ([]*model.UserScore, error) {
	args := m.Called(ctx, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.UserScore), args.Error(1)
}

func (m *MockUserRepository) Stats(ctx context.Context) (*model.LeaderboardStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LeaderboardStats), args.Error(1)
}

// MockSubmitter 模拟上链提交器
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) SubmitPlayerData(ctx context.Context, player common.Address, scoreAmount, transactionAmount int64) (string, error) {
	args := m.Called(ctx, player, scoreAmount, transactionAmount)
	return args.String(0), args.Error(1)
}

func (m *MockSubmitter) ReadOnly() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockResolver 模拟用户名解析器
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Username(ctx context.Context, wallet string) (string, error) {
	args := m.Called(ctx, wallet)
	return args.String(0), args.Error(1)
}

// MockPublisher 模拟事件发布器
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSyncConfirmed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	args := m.Called(ctx, confirmation)
	return args.Error(0)
}

func (m *MockPublisher) PublishSyncFailed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	args := m.Called(ctx, confirmation)
	return args.Error(0)
}
