package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/ledger"
	"github.com/monbeats/monbeats-sync/internal/metrics"
	"github.com/monbeats/monbeats-sync/internal/model"
	"github.com/monbeats/monbeats-sync/internal/repository"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

var (
	ErrDrainInProgress = errors.New("sync drain already in progress")
	ErrWorkerRunning   = errors.New("sync worker already running")
	ErrWorkerStopped   = errors.New("sync worker not running")
	ErrIntervalTooLow  = errors.New("sync interval below minimum")
)

// minInterval 最小同步间隔
const minInterval = 10 * time.Second

// Submitter 上链提交能力抽象
type Submitter interface {
	SubmitPlayerData(ctx context.Context, player common.Address, scoreAmount, transactionAmount int64) (string, error)
	ReadOnly() bool
}

// DrainResult 单轮批次处理结果
type DrainResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Rejected  int `json:"rejected"`
	Skipped   int `json:"skipped"`
}

// WorkerStatus 同步工作器状态
type WorkerStatus struct {
	Running         bool  `json:"running"`
	Draining        bool  `json:"draining"`
	ReadOnly        bool  `json:"readOnly"`
	IntervalSeconds int64 `json:"intervalSeconds"`
	BatchSize       int   `json:"batchSize"`
	LastDrainAt     int64 `json:"lastDrainAt"`
	LastProcessed   int   `json:"lastProcessed"`
}

// SyncService 同步队列工作器
//
// 周期性取出到期条目，串行提交上链并回写用户同步状态。
// 条目间隔固定延迟，避免交易拥挤
type SyncService struct {
	queue     repository.QueueRepository
	users     repository.UserRepository
	submitter Submitter
	resolver  UsernameResolver
	publisher EventPublisher
	lock      *DrainLock

	batchSize   int
	itemDelay   time.Duration
	cleanupDays int

	intervalMu sync.RWMutex
	interval   time.Duration
	resetCh    chan struct{}

	running  atomic.Bool
	draining atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	lastDrainAt   atomic.Int64
	lastProcessed atomic.Int64
}

// SyncServiceConfig 工作器配置
type SyncServiceConfig struct {
	Interval    time.Duration
	BatchSize   int
	ItemDelay   time.Duration
	CleanupDays int
}

// NewSyncService 创建同步工作器
func NewSyncService(
	queue repository.QueueRepository,
	users repository.UserRepository,
	submitter Submitter,
	resolver UsernameResolver,
	publisher EventPublisher,
	lock *DrainLock,
	cfg *SyncServiceConfig,
) *SyncService {
	if cfg == nil {
		cfg = &SyncServiceConfig{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 120 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	itemDelay := cfg.ItemDelay
	if itemDelay <= 0 {
		itemDelay = time.Second
	}
	cleanupDays := cfg.CleanupDays
	if cleanupDays <= 0 {
		cleanupDays = 7
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}

	return &SyncService{
		queue:       queue,
		users:       users,
		submitter:   submitter,
		resolver:    resolver,
		publisher:   publisher,
		lock:        lock,
		interval:    interval,
		batchSize:   batchSize,
		itemDelay:   itemDelay,
		cleanupDays: cleanupDays,
		resetCh:     make(chan struct{}, 1),
	}
}

// Start 启动后台工作器，启动后立即执行一轮
func (s *SyncService) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}

	s.stopCh = make(chan struct{})
	s.wg.Add(1)

	go s.run(ctx)

	logger.Info("同步工作器已启动",
		zap.Duration("interval", s.Interval()),
		zap.Int("batchSize", s.batchSize),
		zap.Bool("readOnly", s.submitter.ReadOnly()))

	return nil
}

// Stop 停止后台工作器
func (s *SyncService) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrWorkerStopped
	}

	close(s.stopCh)
	s.wg.Wait()

	logger.Info("同步工作器已停止")
	return nil
}

// run 工作器主循环
//
// 外部取消 ctx 也会退出循环，此时同样要清掉运行标记，
// 避免 Status 报告一个已经死掉的工作器
func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.running.Store(false)

	// 启动即执行首轮
	if _, err := s.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
		logger.Error("首轮同步失败", zap.Error(err))
	}

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.resetCh:
			ticker.Reset(s.Interval())
		case <-ticker.C:
			if _, err := s.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
				logger.Error("同步批次处理失败", zap.Error(err))
			}
		}
	}
}

// Interval 返回当前同步间隔
func (s *SyncService) Interval() time.Duration {
	s.intervalMu.RLock()
	defer s.intervalMu.RUnlock()
	return s.interval
}

// SetInterval 调整同步间隔，工作器运行中立即生效
func (s *SyncService) SetInterval(interval time.Duration) error {
	if interval < minInterval {
		return ErrIntervalTooLow
	}

	s.intervalMu.Lock()
	s.interval = interval
	s.intervalMu.Unlock()

	select {
	case s.resetCh <- struct{}{}:
	default:
	}

	logger.Info("同步间隔已调整", zap.Duration("interval", interval))
	return nil
}

// Status 返回工作器状态
func (s *SyncService) Status() *WorkerStatus {
	return &WorkerStatus{
		Running:         s.running.Load(),
		Draining:        s.draining.Load(),
		ReadOnly:        s.submitter.ReadOnly(),
		IntervalSeconds: int64(s.Interval() / time.Second),
		BatchSize:       s.batchSize,
		LastDrainAt:     s.lastDrainAt.Load(),
		LastProcessed:   int(s.lastProcessed.Load()),
	}
}

// Drain 取出一批到期条目并串行提交
//
// 同一实例内单飞，多实例间由分布式锁互斥
func (s *SyncService) Drain(ctx context.Context) (*DrainResult, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer s.draining.Store(false)

	result := &DrainResult{}

	if s.submitter.ReadOnly() {
		logger.Warn("只读模式，跳过同步批次")
		return result, nil
	}

	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx)
		if err != nil {
			// Redis 故障时退化为仅实例内互斥
			logger.Warn("获取批次锁失败，降级为本地互斥", zap.Error(err))
		} else if !ok {
			logger.Debug("批次锁被其他实例持有，跳过本轮")
			return result, nil
		} else {
			defer func() {
				if unlockErr := s.lock.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
					logger.Warn("释放批次锁失败", zap.Error(unlockErr))
				}
			}()
		}
	}

	start := time.Now()

	entries, err := s.queue.ListDue(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	for i, entry := range entries {
		if i > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.itemDelay):
			}
		}

		outcome := s.processEntry(ctx, entry)
		result.Processed++
		switch outcome {
		case "completed":
			result.Completed++
		case "retried":
			result.Retried++
		case "failed":
			result.Failed++
		case "rejected":
			result.Rejected++
		default:
			result.Skipped++
		}
	}

	s.lastDrainAt.Store(time.Now().UnixMilli())
	s.lastProcessed.Store(int64(result.Processed))

	if len(entries) > 0 {
		metrics.RecordDrain(len(entries), time.Since(start))
		logger.Info("同步批次完成",
			zap.Int("processed", result.Processed),
			zap.Int("completed", result.Completed),
			zap.Int("retried", result.Retried),
			zap.Int("failed", result.Failed),
			zap.Int("rejected", result.Rejected),
			zap.Duration("duration", time.Since(start)))
	}

	s.refreshQueueDepth(ctx)

	// 偶发清理过期的已完成条目
	if rand.Intn(10) == 0 {
		if removed, cleanupErr := s.queue.CleanupCompleted(ctx, s.cleanupDays); cleanupErr != nil {
			logger.Warn("清理已完成条目失败", zap.Error(cleanupErr))
		} else if removed > 0 {
			logger.Info("已清理过期完成条目", zap.Int64("removed", removed))
		}
	}

	return result, nil
}

// processEntry 处理单条同步条目，返回处理结果
func (s *SyncService) processEntry(ctx context.Context, entry *model.SyncQueueEntry) string {
	if err := s.queue.MarkProcessing(ctx, entry.EntryID); err != nil {
		if errors.Is(err, repository.ErrEntryStateConflict) {
			// 条目已被其他流程处理
			return "skipped"
		}
		logger.Error("标记条目处理中失败",
			zap.String("entryId", entry.EntryID),
			zap.Error(err))
		return "skipped"
	}

	s.refreshUsername(ctx, entry)

	start := time.Now()
	txHash, err := s.submitter.SubmitPlayerData(ctx,
		common.HexToAddress(entry.WalletAddress), entry.ScoreAmount, entry.TransactionAmount)

	if err == nil {
		return s.completeEntry(ctx, entry, txHash, time.Since(start))
	}

	return s.failEntry(ctx, entry, err, time.Since(start))
}

// completeEntry 提交成功后的回写
func (s *SyncService) completeEntry(ctx context.Context, entry *model.SyncQueueEntry, txHash string, elapsed time.Duration) string {
	if err := s.queue.MarkCompleted(ctx, entry.EntryID, txHash); err != nil {
		logger.Error("标记条目完成失败",
			zap.String("entryId", entry.EntryID),
			zap.String("txHash", txHash),
			zap.Error(err))
	}

	if err := s.users.ApplySynced(ctx, entry.UserID, entry.ScoreAmount, entry.TransactionAmount); err != nil {
		logger.Error("回写用户同步状态失败",
			zap.String("userId", entry.UserID),
			zap.Error(err))
	}

	metrics.RecordSubmission("completed", elapsed)
	logger.Info("同步条目已上链",
		zap.String("entryId", entry.EntryID),
		zap.String("userId", entry.UserID),
		zap.Int64("scoreAmount", entry.ScoreAmount),
		zap.String("txHash", txHash))

	s.publishResult(ctx, entry, model.SyncStatusCompleted, txHash, "")
	return "completed"
}

// failEntry 提交失败后的状态流转
//
// 永久性错误直接拒绝且不消耗重试次数；暂时性错误重新排队，
// 达到重试上限后转为失败
func (s *SyncService) failEntry(ctx context.Context, entry *model.SyncQueueEntry, submitErr error, elapsed time.Duration) string {
	errMsg := submitErr.Error()

	if errors.Is(submitErr, ledger.ErrReadOnly) || ledger.IsPermanent(submitErr) {
		if err := s.queue.MarkRejected(ctx, entry.EntryID, errMsg); err != nil {
			logger.Error("标记条目拒绝失败", zap.String("entryId", entry.EntryID), zap.Error(err))
		}
		if err := s.users.MarkSyncFailed(ctx, entry.UserID); err != nil {
			logger.Error("标记用户同步失败状态失败", zap.String("userId", entry.UserID), zap.Error(err))
		}

		metrics.RecordSubmission("rejected", elapsed)
		logger.Error("同步条目被永久拒绝",
			zap.String("entryId", entry.EntryID),
			zap.String("userId", entry.UserID),
			zap.Error(submitErr))

		s.publishResult(ctx, entry, model.SyncStatusFailed, "", errMsg)
		return "rejected"
	}

	if entry.RetryCount+1 >= entry.MaxRetries {
		if err := s.queue.MarkFailed(ctx, entry.EntryID, errMsg); err != nil {
			logger.Error("标记条目失败状态失败", zap.String("entryId", entry.EntryID), zap.Error(err))
		}
		if err := s.users.MarkSyncFailed(ctx, entry.UserID); err != nil {
			logger.Error("标记用户同步失败状态失败", zap.String("userId", entry.UserID), zap.Error(err))
		}

		metrics.RecordSubmission("failed", elapsed)
		logger.Error("同步条目达到重试上限",
			zap.String("entryId", entry.EntryID),
			zap.String("userId", entry.UserID),
			zap.Int("retryCount", entry.RetryCount+1),
			zap.Error(submitErr))

		s.publishResult(ctx, entry, model.SyncStatusFailed, "", errMsg)
		return "failed"
	}

	if err := s.queue.RequeueForRetry(ctx, entry.EntryID, errMsg); err != nil {
		logger.Error("条目重新排队失败", zap.String("entryId", entry.EntryID), zap.Error(err))
	}

	metrics.RecordSubmission("retried", elapsed)
	logger.Warn("同步条目将重试",
		zap.String("entryId", entry.EntryID),
		zap.String("userId", entry.UserID),
		zap.Int("retryCount", entry.RetryCount+1),
		zap.Error(submitErr))

	return "retried"
}

// refreshUsername 每次提交前刷新用户名，改名即持久化；失败不阻塞提交
func (s *SyncService) refreshUsername(ctx context.Context, entry *model.SyncQueueEntry) {
	if s.resolver == nil {
		return
	}

	username, err := s.resolver.Username(ctx, entry.WalletAddress)
	if err != nil || username == "" || username == entry.Username {
		return
	}

	entry.Username = username
	if err := s.users.UpdateUsername(ctx, entry.UserID, username); err != nil {
		logger.Debug("更新用户名失败",
			zap.String("userId", entry.UserID),
			zap.Error(err))
	}
}

// publishResult 发布同步结果事件
func (s *SyncService) publishResult(ctx context.Context, entry *model.SyncQueueEntry, status model.SyncStatus, txHash, errMsg string) {
	confirmation := &model.SyncConfirmation{
		EntryID:           entry.EntryID,
		UserID:            entry.UserID,
		Username:          entry.Username,
		WalletAddress:     entry.WalletAddress,
		ScoreAmount:       entry.ScoreAmount,
		TransactionAmount: entry.TransactionAmount,
		TxHash:            txHash,
		Status:            status.String(),
		Error:             errMsg,
		CompletedAt:       time.Now().UnixMilli(),
	}

	var err error
	if status == model.SyncStatusCompleted {
		err = s.publisher.PublishSyncConfirmed(ctx, confirmation)
	} else {
		err = s.publisher.PublishSyncFailed(ctx, confirmation)
	}
	if err != nil {
		logger.Warn("发布同步结果事件失败",
			zap.String("entryId", entry.EntryID),
			zap.Error(err))
	}
}

// refreshQueueDepth 刷新队列深度指标
func (s *SyncService) refreshQueueDepth(ctx context.Context) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return
	}
	metrics.UpdateQueueDepth(model.SyncStatusPending.String(), stats.Pending)
	metrics.UpdateQueueDepth(model.SyncStatusProcessing.String(), stats.Processing)
	metrics.UpdateQueueDepth(model.SyncStatusCompleted.String(), stats.Completed)
	metrics.UpdateQueueDepth(model.SyncStatusFailed.String(), stats.Failed)
}

// SyncUser 立即同步指定用户
//
// 手动同步兼作恢复手段: 先把该用户的失败条目重置回待处理，
// 再按 FIFO 处理其到期条目
func (s *SyncService) SyncUser(ctx context.Context, userID string) (*DrainResult, error) {
	if s.submitter.ReadOnly() {
		return nil, ledger.ErrReadOnly
	}

	if !s.draining.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer s.draining.Store(false)

	if _, err := s.users.GetByUserID(ctx, userID); err != nil {
		return nil, err
	}

	revived, err := s.queue.ResetFailedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if revived > 0 {
		logger.Info("手动同步复活失败条目",
			zap.String("userId", userID),
			zap.Int64("revived", revived))
	}

	entries, err := s.queue.ListDueByUser(ctx, userID, s.batchSize)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for _, entry := range entries {
		if result.Processed > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.itemDelay):
			}
		}

		outcome := s.processEntry(ctx, entry)
		result.Processed++
		switch outcome {
		case "completed":
			result.Completed++
		case "retried":
			result.Retried++
		case "failed":
			result.Failed++
		case "rejected":
			result.Rejected++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

// RetryAllFailed 将失败条目重置为待处理
func (s *SyncService) RetryAllFailed(ctx context.Context) (int64, error) {
	count, err := s.queue.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		logger.Info("失败条目已重置", zap.Int64("count", count))
	}

	return count, nil
}

// QueueStats 查询队列统计
func (s *SyncService) QueueStats(ctx context.Context) (*repository.QueueStats, error) {
	return s.queue.Stats(ctx)
}
