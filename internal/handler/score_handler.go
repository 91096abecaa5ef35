package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/model"
	"github.com/monbeats/monbeats-sync/internal/repository"
	"github.com/monbeats/monbeats-sync/internal/service"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

// ScoreHandler 分数录入处理器
type ScoreHandler struct {
	scoreSvc *service.ScoreService
}

// NewScoreHandler 创建分数处理器
func NewScoreHandler(scoreSvc *service.ScoreService) *ScoreHandler {
	return &ScoreHandler{scoreSvc: scoreSvc}
}

// SubmitScore 提交一局游戏分数
// POST /api/scores
func (h *ScoreHandler) SubmitScore(c *gin.Context) {
	var submission model.ScoreSubmission
	if err := c.ShouldBindJSON(&submission); err != nil {
		BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.scoreSvc.RecordScore(c.Request.Context(), &submission, "http")
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSubmission), errors.Is(err, service.ErrInvalidWallet):
			BadRequest(c, err.Error())
		default:
			logger.Error("record score failed",
				zap.String("wallet", submission.WalletAddress),
				zap.Error(err))
			InternalError(c, "failed to record score")
		}
		return
	}

	Success(c, result)
}

// SyncHistory 查询玩家的同步队列历史
// GET /api/scores/:userId/history?page=1&page_size=20
func (h *ScoreHandler) SyncHistory(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		BadRequest(c, "userId is required")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = 20
	}

	pagination := &repository.Pagination{Page: page, PageSize: pageSize}

	entries, err := h.scoreSvc.SyncHistory(c.Request.Context(), userID, pagination)
	if err != nil {
		logger.Error("list sync history failed", zap.String("userId", userID), zap.Error(err))
		InternalError(c, "failed to list sync history")
		return
	}

	Success(c, gin.H{
		"entries":   entries,
		"page":      pagination.Page,
		"page_size": pagination.PageSize,
		"total":     pagination.Total,
	})
}

// GetUserScore 查询玩家成绩
// GET /api/scores/:userId
func (h *ScoreHandler) GetUserScore(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		BadRequest(c, "userId is required")
		return
	}

	user, err := h.scoreSvc.GetUserScore(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			NotFound(c, "user not found")
			return
		}
		logger.Error("get user score failed", zap.String("userId", userID), zap.Error(err))
		InternalError(c, "failed to get user score")
		return
	}

	Success(c, user)
}
