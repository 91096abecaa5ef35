package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router 路由依赖
type Router struct {
	Score       *ScoreHandler
	Leaderboard *LeaderboardHandler
	Sync        *SyncHandler
	Health      *HealthHandler
}

// Register 注册全部路由
func (r *Router) Register(engine *gin.Engine) {
	engine.GET("/health", r.Health.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	{
		api.POST("/scores", r.Score.SubmitScore)
		api.GET("/scores/:userId", r.Score.GetUserScore)
		api.GET("/scores/:userId/history", r.Score.SyncHistory)

		api.GET("/leaderboard", r.Leaderboard.List)
		api.GET("/leaderboard/stats", r.Leaderboard.Stats)
		api.DELETE("/leaderboard/:userId", r.Leaderboard.Delete)

		sync := api.Group("/sync")
		{
			sync.GET("/status", r.Sync.Status)
			sync.GET("/stats", r.Sync.Stats)
			sync.POST("/control", r.Sync.Control)
			sync.POST("/retry", r.Sync.RetryFailed)
			sync.POST("/user/:userId", r.Sync.SyncUser)
		}

		api.GET("/username/:wallet", r.Sync.Username)
		api.GET("/player/:wallet/onchain", r.Sync.OnChain)
	}
}
