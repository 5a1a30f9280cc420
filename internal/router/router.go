package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/moovie-recommender/internal/handler"
	"github.com/user/moovie-recommender/internal/middleware"
)

// New 创建带公共中间件的引擎
func New(env string) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	return r
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查与指标
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== API ====================
	api := r.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/search", h.SearchMovies)
		api.POST("/recommendations/preferences", h.PreferenceRecommendations)
		api.GET("/users/:id/recommendations", h.UserRecommendations)
		api.PUT("/users/:id/preferences", h.SaveUserPreferences)
		api.POST("/users/:id/history", h.RecordWatch)
		api.GET("/movies/top", h.TopMovies)
	}

	// ==================== 管理 ====================
	admin := r.Group("/admin")
	admin.Use(middleware.RequireAdminToken(h.Config.AdminToken))
	{
		admin.POST("/index/reload", h.ReloadIndex)
	}
}
