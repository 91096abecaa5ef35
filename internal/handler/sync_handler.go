package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/ledger"
	"github.com/monbeats/monbeats-sync/internal/monadid"
	"github.com/monbeats/monbeats-sync/internal/repository"
	"github.com/monbeats/monbeats-sync/internal/service"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

// LedgerReader 链上查询接口
type LedgerReader interface {
	GetPlayerTotals(ctx context.Context, player common.Address) (*ledger.PlayerTotals, error)
}

// SyncHandler 同步控制处理器
type SyncHandler struct {
	syncSvc  *service.SyncService
	scoreSvc *service.ScoreService
	reader   LedgerReader
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(syncSvc *service.SyncService, scoreSvc *service.ScoreService, reader LedgerReader) *SyncHandler {
	return &SyncHandler{
		syncSvc:  syncSvc,
		scoreSvc: scoreSvc,
		reader:   reader,
	}
}

// Status 查询工作器状态
// GET /api/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	Success(c, h.syncSvc.Status())
}

// Stats 查询队列统计
// GET /api/sync/stats
func (h *SyncHandler) Stats(c *gin.Context) {
	stats, err := h.syncSvc.QueueStats(c.Request.Context())
	if err != nil {
		logger.Error("get queue stats failed", zap.Error(err))
		InternalError(c, "failed to get queue stats")
		return
	}

	Success(c, stats)
}

// ControlRequest 同步控制请求
type ControlRequest struct {
	Action          string `json:"action" binding:"required"` // start, stop, interval
	IntervalSeconds int64  `json:"interval_seconds"`
}

// Control 控制工作器
// POST /api/sync/control
func (h *SyncHandler) Control(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	switch req.Action {
	case "start":
		// 请求上下文在响应写完后即被取消，工作器要拿不随请求取消的上下文
		if err := h.syncSvc.Start(context.WithoutCancel(c.Request.Context())); err != nil {
			if errors.Is(err, service.ErrWorkerRunning) {
				Conflict(c, "sync worker already running")
				return
			}
			InternalError(c, "failed to start sync worker")
			return
		}

	case "stop":
		if err := h.syncSvc.Stop(); err != nil {
			if errors.Is(err, service.ErrWorkerStopped) {
				Conflict(c, "sync worker not running")
				return
			}
			InternalError(c, "failed to stop sync worker")
			return
		}

	case "interval":
		if req.IntervalSeconds <= 0 {
			BadRequest(c, "interval_seconds must be positive")
			return
		}
		if err := h.syncSvc.SetInterval(time.Duration(req.IntervalSeconds) * time.Second); err != nil {
			BadRequest(c, err.Error())
			return
		}

	default:
		BadRequest(c, "unknown action: "+req.Action)
		return
	}

	Success(c, h.syncSvc.Status())
}

// SyncUser 立即同步指定用户
// POST /api/sync/user/:userId
func (h *SyncHandler) SyncUser(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		BadRequest(c, "userId is required")
		return
	}

	result, err := h.syncSvc.SyncUser(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			NotFound(c, "user not found")
		case errors.Is(err, service.ErrDrainInProgress):
			Conflict(c, "sync batch in progress, try again later")
		case errors.Is(err, ledger.ErrReadOnly):
			ServiceUnavailable(c, "ledger service is in read-only mode")
		default:
			logger.Error("manual sync failed", zap.String("userId", userID), zap.Error(err))
			InternalError(c, "failed to sync user")
		}
		return
	}

	Success(c, result)
}

// RetryFailed 重置失败条目
// POST /api/sync/retry
func (h *SyncHandler) RetryFailed(c *gin.Context) {
	count, err := h.syncSvc.RetryAllFailed(c.Request.Context())
	if err != nil {
		logger.Error("retry failed entries failed", zap.Error(err))
		InternalError(c, "failed to reset failed entries")
		return
	}

	Success(c, gin.H{"reset": count})
}

// OnChain 按钱包地址查询链上累计数据
// GET /api/player/:wallet/onchain
func (h *SyncHandler) OnChain(c *gin.Context) {
	wallet := strings.ToLower(strings.TrimSpace(c.Param("wallet")))
	if !common.IsHexAddress(wallet) {
		BadRequest(c, "invalid wallet address")
		return
	}

	totals, err := h.reader.GetPlayerTotals(c.Request.Context(), common.HexToAddress(wallet))
	if err != nil {
		logger.Warn("on-chain totals query failed", zap.String("wallet", wallet), zap.Error(err))
		ServiceUnavailable(c, "failed to query on-chain totals")
		return
	}

	Success(c, gin.H{
		"wallet":             wallet,
		"total_score":        totals.TotalScore.String(),
		"total_transactions": totals.TotalTransactions.String(),
	})
}

// Username 按钱包地址查询用户名
// GET /api/username/:wallet
func (h *SyncHandler) Username(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		BadRequest(c, "wallet is required")
		return
	}

	username, err := h.scoreSvc.ResolveUsername(c.Request.Context(), wallet)
	if err != nil {
		if errors.Is(err, monadid.ErrInvalidWallet) {
			BadRequest(c, "invalid wallet address")
			return
		}
		logger.Warn("resolve username failed", zap.String("wallet", wallet), zap.Error(err))
		ServiceUnavailable(c, "failed to resolve username")
		return
	}

	Success(c, gin.H{
		"wallet":       wallet,
		"username":     username,
		"has_username": username != "",
	})
}
