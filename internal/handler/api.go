package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/service"
	"github.com/user/moovie-recommender/internal/utils"
)

// SearchQuery 语义检索参数
type SearchQuery struct {
	Q     string `form:"q" binding:"required,max=1000"`
	Limit int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

// PreferenceRequest 按偏好推荐的请求体
type PreferenceRequest struct {
	Genres    string `json:"genres" binding:"max=500"`
	Actors    string `json:"actors" binding:"max=500"`
	Directors string `json:"directors" binding:"max=500"`
	Limit     int    `json:"limit" binding:"omitempty,gte=1,lte=1000"`
}

// WatchRequest 记录观影的请求体
type WatchRequest struct {
	MovieID int `json:"movie_id" binding:"required,gt=0"`
}

// TopQuery 加权评分排行参数
type TopQuery struct {
	MinWR *float64 `form:"min_wr" binding:"omitempty,gte=0,lte=10"`
	Limit int      `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

// SearchMovies 语义检索 GET /api/search?q=&limit=
func (h *Handler) SearchMovies(c *gin.Context) {
	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if strings.TrimSpace(q.Q) == "" {
		utils.BadRequest(c, "搜索关键词不能为空")
		return
	}

	limit := h.Recommend.NormalizeLimit(q.Limit)
	results, err := h.Search.Search(c.Request.Context(), service.SearchRequest{Query: q.Q, Limit: limit})
	if err != nil {
		h.serviceError(c, "语义检索失败", err)
		return
	}

	utils.Success(c, gin.H{
		"query":   q.Q,
		"count":   len(results),
		"results": results,
	})
}

// PreferenceRecommendations 按偏好推荐 POST /api/recommendations/preferences
func (h *Handler) PreferenceRecommendations(c *gin.Context) {
	var req PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "无效的请求数据: "+err.Error())
		return
	}

	items, err := h.Recommend.ByPreferences(c.Request.Context(), req.Genres, req.Actors, req.Directors, req.Limit)
	if err != nil {
		h.serviceError(c, "推荐失败", err)
		return
	}

	utils.Success(c, gin.H{
		"stage":           service.StagePreferences,
		"count":           len(items),
		"recommendations": items,
	})
}

// UserRecommendations 个性化推荐 GET /api/users/:id/recommendations
func (h *Handler) UserRecommendations(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var q TopQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	res, err := h.Recommend.ForUser(c.Request.Context(), userID, q.Limit, q.MinWR)
	if err != nil {
		h.serviceError(c, "推荐失败", err)
		return
	}
	utils.Success(c, res)
}

// SaveUserPreferences 保存用户偏好 PUT /api/users/:id/preferences
func (h *Handler) SaveUserPreferences(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "无效的请求数据: "+err.Error())
		return
	}

	pref, err := h.Recommend.SavePreferences(c.Request.Context(), userID, req.Genres, req.Actors, req.Directors)
	if err != nil {
		h.serviceError(c, "保存偏好失败", err)
		return
	}
	utils.SuccessWithMessage(c, "偏好已保存", pref)
}

// RecordWatch 记录观影 POST /api/users/:id/history
func (h *Handler) RecordWatch(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req WatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "无效的请求数据: "+err.Error())
		return
	}

	if err := h.Recommend.RecordWatch(c.Request.Context(), userID, req.MovieID); err != nil {
		if errors.Is(err, service.ErrMovieNotFound) {
			utils.NotFound(c, "电影不存在")
			return
		}
		h.serviceError(c, "记录观影失败", err)
		return
	}
	utils.SuccessWithMessage(c, "已记录", gin.H{"user_id": userID, "movie_id": req.MovieID})
}

// TopMovies 加权评分排行 GET /api/movies/top?min_wr=&limit=
func (h *Handler) TopMovies(c *gin.Context) {
	var q TopQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	items, threshold, err := h.Recommend.TopRated(c.Request.Context(), q.MinWR, q.Limit)
	if err != nil {
		h.serviceError(c, "查询排行失败", err)
		return
	}

	utils.Success(c, gin.H{
		"stage":           service.StageWeightedRating,
		"min_wr":          threshold,
		"count":           len(items),
		"recommendations": items,
	})
}

func userIDParam(c *gin.Context) (int, bool) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil || userID <= 0 {
		utils.BadRequest(c, "无效的用户 ID")
		return 0, false
	}
	return userID, true
}

// serviceError 记录并返回 500，索引与元数据不一致时单独标记
func (h *Handler) serviceError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	log := logging.Component("Handler")
	if service.IsOutOfRange(err) {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("索引与元数据不一致，需要重建索引")
		utils.InternalServerError(c, "索引与元数据不一致")
		return
	}
	if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		log.Debug().Err(err).Msg("请求已取消")
		utils.Error(c, 499, "请求已取消")
		return
	}
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	utils.InternalServerError(c, msg)
}
