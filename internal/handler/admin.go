package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/service"
	"github.com/user/moovie-recommender/internal/utils"
)

// Health 健康检查，索引不可用时返回 503
func (h *Handler) Health(c *gin.Context) {
	health := h.Search.Health()
	code := http.StatusOK
	if health.Status == service.StatusUnavailable {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

// ReloadIndex 重新加载 CURRENT 指向的索引版本 POST /admin/index/reload
func (h *Handler) ReloadIndex(c *gin.Context) {
	log := logging.Component("Admin")

	version, err := h.Search.Reload(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("索引重新加载失败")
		utils.InternalServerError(c, "索引重新加载失败: "+err.Error())
		return
	}
	h.Recommend.FlushCache()

	log.Info().Str("version", version).Msg("索引已重新加载")
	utils.SuccessWithMessage(c, "索引已重新加载", gin.H{
		"version": version,
		"health":  h.Search.Health(),
	})
}
