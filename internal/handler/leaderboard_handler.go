package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/repository"
	"github.com/monbeats/monbeats-sync/internal/service"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

const maxPageSize = 100

// LeaderboardHandler 排行榜处理器
type LeaderboardHandler struct {
	scoreSvc *service.ScoreService
}

// NewLeaderboardHandler 创建排行榜处理器
func NewLeaderboardHandler(scoreSvc *service.ScoreService) *LeaderboardHandler {
	return &LeaderboardHandler{scoreSvc: scoreSvc}
}

// List 查询排行榜
// GET /api/leaderboard?page=1&page_size=20
func (h *LeaderboardHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = 20
	}

	pagination := &repository.Pagination{Page: page, PageSize: pageSize}

	users, err := h.scoreSvc.Leaderboard(c.Request.Context(), pagination)
	if err != nil {
		logger.Error("list leaderboard failed", zap.Error(err))
		InternalError(c, "failed to list leaderboard")
		return
	}

	Success(c, gin.H{
		"entries":   users,
		"page":      pagination.Page,
		"page_size": pagination.PageSize,
		"total":     pagination.Total,
	})
}

// Stats 查询排行榜统计
// GET /api/leaderboard/stats
func (h *LeaderboardHandler) Stats(c *gin.Context) {
	stats, err := h.scoreSvc.LeaderboardStats(c.Request.Context())
	if err != nil {
		logger.Error("get leaderboard stats failed", zap.Error(err))
		InternalError(c, "failed to get leaderboard stats")
		return
	}

	Success(c, stats)
}

// Delete 删除玩家成绩
// DELETE /api/leaderboard/:userId
func (h *LeaderboardHandler) Delete(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		BadRequest(c, "userId is required")
		return
	}

	if err := h.scoreSvc.DeleteUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			NotFound(c, "user not found")
			return
		}
		logger.Error("delete user failed", zap.String("userId", userID), zap.Error(err))
		InternalError(c, "failed to delete user")
		return
	}

	Success(c, gin.H{"deleted": userID})
}
