package handler

import (
	"context"

	"github.com/user/moovie-recommender/internal/config"
	"github.com/user/moovie-recommender/internal/model"
	"github.com/user/moovie-recommender/internal/service"
)

// SearchService 语义检索
type SearchService interface {
	Search(ctx context.Context, req service.SearchRequest) ([]service.ScoredMovie, error)
	Health() service.SearchHealth
	Reload(ctx context.Context) (string, error)
}

// Recommender 分阶段推荐
type Recommender interface {
	ForUser(ctx context.Context, userID, limit int, minWR *float64) (*service.RecommendationResult, error)
	ByPreferences(ctx context.Context, genres, actors, directors string, limit int) ([]service.Recommendation, error)
	TopRated(ctx context.Context, minWR *float64, limit int) ([]service.Recommendation, float64, error)
	SavePreferences(ctx context.Context, userID int, genres, actors, directors string) (*model.UserPreference, error)
	RecordWatch(ctx context.Context, userID, movieID int) error
	NormalizeLimit(limit int) int
	FlushCache()
}

// Handler HTTP 处理器
type Handler struct {
	Config    *config.Config
	Search    SearchService
	Recommend Recommender
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, search SearchService, recommend Recommender) *Handler {
	return &Handler{
		Config:    cfg,
		Search:    search,
		Recommend: recommend,
	}
}
