package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/metrics"
	"github.com/user/moovie-recommender/internal/model"
	"github.com/user/moovie-recommender/internal/query"
)

// Stage 推荐阶段
type Stage string

const (
	// StageWeightedRating 没有偏好记录，按加权评分排序
	StageWeightedRating Stage = "stage1"
	// StagePreferences 只有偏好，没有观影历史
	StagePreferences Stage = "stage2"
	// StageHistory 偏好和观影历史都有
	StageHistory Stage = "stage3"
)

// MovieStore 推荐需要的电影查询
type MovieStore interface {
	FindByIDs(ctx context.Context, ids []int) ([]model.Movie, error)
	TopByWeightedRating(ctx context.Context, minWR float64, limit int) ([]model.Movie, error)
	AverageWR(ctx context.Context) (float64, error)
}

// PreferenceStore 用户偏好
type PreferenceStore interface {
	FindByUser(ctx context.Context, userID int) (*model.UserPreference, error)
	Upsert(ctx context.Context, p *model.UserPreference) error
}

// HistoryStore 观影历史，limit<=0 返回全部
type HistoryStore interface {
	ListMovieIDs(ctx context.Context, userID, limit int) ([]int, error)
	Add(ctx context.Context, userID, movieID int) error
}

// ErrMovieNotFound 电影不在库中
var ErrMovieNotFound = errors.New("movie not found")

// Searcher 语义检索
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]ScoredMovie, error)
}

// Recommendation 一条推荐
type Recommendation struct {
	Movie      model.Movie `json:"movie"`
	Similarity *float64    `json:"similarity,omitempty"`
	Reason
}

// RecommendationResult 推荐结果
type RecommendationResult struct {
	UserID int              `json:"user_id,omitempty"`
	Stage  Stage            `json:"stage"`
	MinWR  *float64         `json:"min_wr,omitempty"`
	Items  []Recommendation `json:"recommendations"`
}

// RecommendConfig 推荐服务配置
type RecommendConfig struct {
	DefaultLimit int
	MaxLimit     int
	CacheTTL     time.Duration
	// HistoryLimit 参与构建查询文本的最近观影数量，排除集始终是全部历史
	HistoryLimit int
}

// RecommendationService 分阶段推荐
type RecommendationService struct {
	movies  MovieStore
	prefs   PreferenceStore
	history HistoryStore
	search  Searcher
	builder *query.Builder
	cfg     RecommendConfig
	cache   *cache.Cache
	log     zerolog.Logger
}

// NewRecommendationService 创建推荐服务
func NewRecommendationService(cfg RecommendConfig, movies MovieStore, prefs PreferenceStore, history HistoryStore, search Searcher) *RecommendationService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	s := &RecommendationService{
		movies:  movies,
		prefs:   prefs,
		history: history,
		search:  search,
		builder: query.NewBuilder(movies),
		cfg:     cfg,
		log:     logging.Component("Recommendation"),
	}
	if cfg.CacheTTL > 0 {
		s.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return s
}

// NormalizeLimit 把请求的数量限制在 [1, MaxLimit]，<=0 时取默认值
func (s *RecommendationService) NormalizeLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return min(limit, s.cfg.MaxLimit)
}

// ForUser 根据用户已有数据选择阶段并生成推荐
func (s *RecommendationService) ForUser(ctx context.Context, userID, limit int, minWR *float64) (*RecommendationResult, error) {
	limit = s.NormalizeLimit(limit)
	key := userCacheKey(userID, limit, minWR)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(*RecommendationResult), nil
		}
	}

	pref, err := s.prefs.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("读取用户偏好失败: %w", err)
	}

	res := &RecommendationResult{UserID: userID}
	switch {
	case pref == nil:
		res.Stage = StageWeightedRating
		items, threshold, err := s.TopRated(ctx, minWR, limit)
		if err != nil {
			return nil, err
		}
		res.Items, res.MinWR = items, &threshold

	default:
		watched, err := s.history.ListMovieIDs(ctx, userID, 0)
		if err != nil {
			return nil, fmt.Errorf("读取观影历史失败: %w", err)
		}
		if len(watched) == 0 {
			res.Stage = StagePreferences
			res.Items, err = s.ByPreferences(ctx, pref.FavoriteGenres, pref.FavoriteActors, pref.FavoriteDirectors, limit)
		} else {
			res.Stage = StageHistory
			res.Items, err = s.ByHistory(ctx, watched, pref, limit)
		}
		if err != nil {
			return nil, err
		}
	}

	metrics.RecommendationStage.WithLabelValues(string(res.Stage)).Inc()
	s.log.Debug().Int("user_id", userID).Str("stage", string(res.Stage)).Int("count", len(res.Items)).Msg("推荐完成")

	if s.cache != nil {
		s.cache.SetDefault(key, res)
	}
	return res, nil
}

// TopRated 加权评分高于阈值的电影，minWR 为 nil 时用全库平均值
func (s *RecommendationService) TopRated(ctx context.Context, minWR *float64, limit int) ([]Recommendation, float64, error) {
	limit = s.NormalizeLimit(limit)

	var threshold float64
	if minWR != nil {
		threshold = *minWR
	} else {
		avg, err := s.movies.AverageWR(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("计算平均加权评分失败: %w", err)
		}
		threshold = avg
	}

	movies, err := s.movies.TopByWeightedRating(ctx, threshold, limit)
	if err != nil {
		return nil, 0, err
	}

	items := make([]Recommendation, 0, len(movies))
	for _, m := range movies {
		text := "Highly rated by audiences"
		if m.WR != nil {
			text = fmt.Sprintf("Highly rated by audiences (weighted rating %.2f)", *m.WR)
		}
		items = append(items, Recommendation{
			Movie:  m,
			Reason: Reason{Text: text, Type: ReasonPopular},
		})
	}
	return items, threshold, nil
}

// ByPreferences 只用偏好字段检索；偏好全空时不做检索直接返回空列表
func (s *RecommendationService) ByPreferences(ctx context.Context, genres, actors, directors string, limit int) ([]Recommendation, error) {
	limit = s.NormalizeLimit(limit)

	q := query.FromPreferences(genres, actors, directors)
	if q == "" {
		return []Recommendation{}, nil
	}

	scored, err := s.search.Search(ctx, SearchRequest{Query: q, Limit: limit})
	if err != nil {
		return nil, err
	}
	items, err := s.hydrate(ctx, scored)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Reason = Reason{Text: "Matches your favorite " + describePreferences(genres, actors, directors), Type: ReasonPreference}
	}
	return items, nil
}

// ByHistory 用观影历史和偏好检索，watchedIDs 按最近观看在前排列
// 只取前 HistoryLimit 部构建查询，但全部 watchedIDs 都在截断前排除
func (s *RecommendationService) ByHistory(ctx context.Context, watchedIDs []int, pref *model.UserPreference, limit int) ([]Recommendation, error) {
	limit = s.NormalizeLimit(limit)

	var genres, actors, directors string
	if pref != nil {
		genres, actors, directors = pref.FavoriteGenres, pref.FavoriteActors, pref.FavoriteDirectors
	}
	if len(watchedIDs) == 0 {
		return s.ByPreferences(ctx, genres, actors, directors, limit)
	}

	recent := watchedIDs
	if len(recent) > s.cfg.HistoryLimit {
		recent = recent[:s.cfg.HistoryLimit]
	}
	watched, err := s.builder.WatchedMovies(ctx, recent)
	if err != nil {
		return nil, err
	}
	features := make([]query.Features, len(watched))
	for i, m := range watched {
		features[i] = s.builder.Extract(m)
	}

	exclude := make(map[int]bool, len(watchedIDs))
	for _, id := range watchedIDs {
		exclude[id] = true
	}

	q := query.Compose(features, genres, actors, directors)
	if q == "" {
		return []Recommendation{}, nil
	}
	scored, err := s.search.Search(ctx, SearchRequest{Query: q, Limit: limit, Exclude: exclude})
	if err != nil {
		return nil, err
	}
	items, err := s.hydrate(ctx, scored)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Reason = ReasonAgainstHistory(features, s.builder.Extract(items[i].Movie))
	}
	return items, nil
}

// hydrate 按检索顺序读取完整的电影信息，库中已不存在的跳过
func (s *RecommendationService) hydrate(ctx context.Context, scored []ScoredMovie) ([]Recommendation, error) {
	if len(scored) == 0 {
		return []Recommendation{}, nil
	}
	ids := make([]int, len(scored))
	for i, sm := range scored {
		ids[i] = sm.MovieID
	}
	movies, err := s.movies.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("读取推荐电影失败: %w", err)
	}
	byID := make(map[int]model.Movie, len(movies))
	for _, m := range movies {
		byID[m.ID] = m
	}

	items := make([]Recommendation, 0, len(scored))
	for _, sm := range scored {
		m, ok := byID[sm.MovieID]
		if !ok {
			continue
		}
		sim := sm.Similarity
		items = append(items, Recommendation{Movie: m, Similarity: &sim})
	}
	return items, nil
}

// SavePreferences 保存用户偏好并清除该用户的推荐缓存
func (s *RecommendationService) SavePreferences(ctx context.Context, userID int, genres, actors, directors string) (*model.UserPreference, error) {
	pref := &model.UserPreference{
		UserID:            userID,
		FavoriteGenres:    strings.TrimSpace(genres),
		FavoriteActors:    strings.TrimSpace(actors),
		FavoriteDirectors: strings.TrimSpace(directors),
	}
	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return nil, fmt.Errorf("保存用户偏好失败: %w", err)
	}
	s.Invalidate(userID)
	return pref, nil
}

// RecordWatch 记录一次观看并清除该用户的推荐缓存，电影不存在时返回 ErrMovieNotFound
func (s *RecommendationService) RecordWatch(ctx context.Context, userID, movieID int) error {
	movies, err := s.movies.FindByIDs(ctx, []int{movieID})
	if err != nil {
		return fmt.Errorf("查询电影失败: %w", err)
	}
	if len(movies) == 0 {
		return fmt.Errorf("%w: %d", ErrMovieNotFound, movieID)
	}
	if err := s.history.Add(ctx, userID, movieID); err != nil {
		return fmt.Errorf("记录观影历史失败: %w", err)
	}
	s.Invalidate(userID)
	return nil
}

// Invalidate 清除某个用户的推荐缓存
func (s *RecommendationService) Invalidate(userID int) {
	if s.cache == nil {
		return
	}
	prefix := "user:" + strconv.Itoa(userID) + ":"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}

// FlushCache 清空全部推荐缓存，索引重新加载后调用
func (s *RecommendationService) FlushCache() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func userCacheKey(userID, limit int, minWR *float64) string {
	key := "user:" + strconv.Itoa(userID) + ":" + strconv.Itoa(limit)
	if minWR != nil {
		key += ":" + strconv.FormatFloat(*minWR, 'f', -1, 64)
	}
	return key
}

func describePreferences(genres, actors, directors string) string {
	var parts []string
	if strings.TrimSpace(genres) != "" {
		parts = append(parts, "genres")
	}
	if strings.TrimSpace(actors) != "" {
		parts = append(parts, "actors")
	}
	if strings.TrimSpace(directors) != "" {
		parts = append(parts, "directors")
	}
	switch len(parts) {
	case 0:
		return "picks"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
