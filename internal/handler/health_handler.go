package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/monbeats/monbeats-sync/internal/ledger"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db        *gorm.DB
	redis     redis.UniversalClient
	ledgerSvc *ledger.Service
	service   string
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(db *gorm.DB, redisClient redis.UniversalClient, ledgerSvc *ledger.Service, serviceName string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redisClient,
		ledgerSvc: ledgerSvc,
		service:   serviceName,
	}
}

// Health 健康检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["postgres"] = "down"
			healthy = false
		} else {
			checks["postgres"] = "up"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "up"
		}
	}

	if h.ledgerSvc != nil {
		if err := h.ledgerSvc.HealthCheck(ctx); err != nil {
			checks["chain"] = "down"
			healthy = false
		} else {
			checks["chain"] = "up"
		}
		checks["read_only"] = h.ledgerSvc.ReadOnly()
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"service": h.service,
		"status":  state,
		"checks":  checks,
		"time":    time.Now().UnixMilli(),
	})
}
