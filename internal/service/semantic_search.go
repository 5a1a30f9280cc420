package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/moovie-recommender/internal/artifact"
	"github.com/user/moovie-recommender/internal/embedding"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/metastore"
	"github.com/user/moovie-recommender/internal/metrics"
	"github.com/user/moovie-recommender/internal/model"
	"github.com/user/moovie-recommender/internal/vectorindex"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// 健康状态
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
	StatusIDDrift     = "id_drift"
	// StatusPending 索引尚未加载（懒加载，首次检索前）
	StatusPending = "pending"
)

// minDriftSamples 命中数少于该值时不判定 ID 漂移
const minDriftSamples = 50

// QueryEncoder 查询编码
type QueryEncoder interface {
	EncodeQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Health() embedding.Health
}

// IDSpace 调用方的电影 ID 空间
type IDSpace interface {
	ExistingIDs(ctx context.Context, ids []int) (map[int]bool, error)
	IDsByIMDb(ctx context.Context, imdbIDs []string) (map[string]int, error)
}

// SearchConfig 检索服务配置
type SearchConfig struct {
	ArtifactDir      string
	Accelerator      string
	IDDriftThreshold float64
}

// SearchRequest 一次检索
type SearchRequest struct {
	Query string
	Limit int
	// Exclude 需要排除的电影 ID（已看过的）
	Exclude map[int]bool
}

// ScoredMovie 检索结果
type ScoredMovie struct {
	MovieID int `json:"movie_id"`
	model.MetadataRecord
	Similarity float64 `json:"similarity"`
	Distance   float32 `json:"distance"`
	Position   int     `json:"-"`
}

// IndexHealth 索引状态
type IndexHealth struct {
	Available bool   `json:"available"`
	Backend   string `json:"backend,omitempty"`
	Size      int    `json:"size"`
	Version   string `json:"version,omitempty"`
	Model     string `json:"model,omitempty"`
	LoadError string `json:"load_error,omitempty"`
}

// IDHealth ID 解析统计
type IDHealth struct {
	Resolved   int64   `json:"resolved"`
	Mismatched int64   `json:"mismatched"`
	Ratio      float64 `json:"ratio"`
	Drift      bool    `json:"drift"`
}

// SearchHealth 检索服务整体状态
type SearchHealth struct {
	Status  string           `json:"status"`
	Encoder embedding.Health `json:"encoder"`
	Index   IndexHealth      `json:"index"`
	IDs     IDHealth         `json:"ids"`
}

type searchState struct {
	index    vectorindex.Index
	meta     *metastore.Store
	manifest artifact.Manifest
	dir      string
}

// SemanticSearchService 向量检索服务
// 索引在首次检索时加载，并发的首批请求会等待同一次加载
type SemanticSearchService struct {
	cfg     SearchConfig
	encoder QueryEncoder
	ids     IDSpace
	db      *gorm.DB

	mu        sync.Mutex
	attempted bool
	loadErr   error
	state     atomic.Pointer[searchState]

	sf         singleflight.Group
	resolved   atomic.Int64
	mismatched atomic.Int64

	log zerolog.Logger
}

// NewSemanticSearchService 创建检索服务，ids 为 nil 时直接使用整数形式的 ID，db 仅在 pgvector 加速时使用
func NewSemanticSearchService(cfg SearchConfig, encoder QueryEncoder, ids IDSpace, db *gorm.DB) *SemanticSearchService {
	if cfg.Accelerator == "" {
		cfg.Accelerator = "none"
	}
	return &SemanticSearchService{
		cfg:     cfg,
		encoder: encoder,
		ids:     ids,
		db:      db,
		log:     logging.Component("SemanticSearch"),
	}
}

// Search 检索与查询最相似的电影
// 先解析 ID、去掉排除项，再截断到 Limit；索引不可用时返回空列表
func (s *SemanticSearchService) Search(ctx context.Context, req SearchRequest) ([]ScoredMovie, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" || req.Limit <= 0 {
		return []ScoredMovie{}, nil
	}

	st := s.ensureLoaded(ctx)
	if st == nil {
		return []ScoredMovie{}, nil
	}

	start := time.Now()
	k := req.Limit + len(req.Exclude)
	hits, err := s.nearest(ctx, st, query, k)
	if err != nil {
		return nil, err
	}

	records := make([]model.MetadataRecord, len(hits))
	for i, h := range hits {
		rec, err := st.meta.Get(h.Position)
		if err != nil {
			s.log.Error().Err(err).Int("position", h.Position).Str("version", st.manifest.Version).Msg("索引与元数据不一致")
			return nil, err
		}
		records[i] = rec
	}

	movieIDs, err := s.resolveIDs(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("解析电影 ID 失败: %w", err)
	}

	results := make([]ScoredMovie, 0, req.Limit)
	for i, h := range hits {
		id, ok := movieIDs[i]
		if !ok || req.Exclude[id] {
			continue
		}
		results = append(results, ScoredMovie{
			MovieID:        id,
			MetadataRecord: records[i],
			Similarity:     similarity(h.Distance),
			Distance:       h.Distance,
			Position:       h.Position,
		})
		if len(results) == req.Limit {
			break
		}
	}

	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	metrics.SearchResults.Observe(float64(len(results)))
	return results, nil
}

// nearest 编码并检索，相同版本上的相同查询并发时只执行一次
// 共享的那次执行不继承任一调用方的取消，每个调用方只在自己的 ctx 结束时提前返回
func (s *SemanticSearchService) nearest(ctx context.Context, st *searchState, query string, k int) ([]vectorindex.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := st.manifest.Version + "|" + strconv.Itoa(k) + "|" + query
	shared := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(key, func() (interface{}, error) {
		vec, err := s.encoder.EncodeQuery(shared, query)
		if err != nil {
			return nil, err
		}
		return st.index.Search(shared, vec, k)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]vectorindex.Hit), nil
	}
}

// resolveIDs 把命中记录的外部 ID 解析为库内电影 ID，key 为命中下标
// 先尝试整数形式（包括 "862.0"），再尝试字符串形式（imdb_id），都失败的丢弃并计数
func (s *SemanticSearchService) resolveIDs(ctx context.Context, records []model.MetadataRecord) (map[int]int, error) {
	out := make(map[int]int, len(records))
	if len(records) == 0 {
		return out, nil
	}

	candidates := make(map[int]int, len(records))
	var ints []int
	var strs []string
	for i, rec := range records {
		if id, ok := parseIntID(rec.RawID); ok {
			candidates[i] = id
			ints = append(ints, id)
		}
		strs = append(strs, stringForms(rec)...)
	}

	if s.ids == nil {
		for i, id := range candidates {
			out[i] = id
		}
	} else {
		existing, err := s.ids.ExistingIDs(ctx, ints)
		if err != nil {
			return nil, err
		}
		for i, id := range candidates {
			if existing[id] {
				out[i] = id
			}
		}

		var byString map[string]int
		if len(out) < len(records) && len(strs) > 0 {
			byString, err = s.ids.IDsByIMDb(ctx, strs)
			if err != nil {
				return nil, err
			}
		}
		for i, rec := range records {
			if _, ok := out[i]; ok {
				continue
			}
			for _, sid := range stringForms(rec) {
				if id, ok := byString[sid]; ok {
					out[i] = id
					break
				}
			}
		}
	}

	missed := len(records) - len(out)
	s.resolved.Add(int64(len(out)))
	if missed > 0 {
		s.mismatched.Add(int64(missed))
		metrics.IDMismatches.Add(float64(missed))
		s.log.Debug().Int("missed", missed).Int("hits", len(records)).Msg("部分命中无法解析电影 ID，已丢弃")
	}
	return out, nil
}

// parseIntID 解析 "862" 或 "862.0" 形式的 ID
func parseIntID(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if id, err := strconv.Atoi(raw); err == nil {
		return id, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// stringForms 记录上可用于字符串匹配的 ID
func stringForms(rec model.MetadataRecord) []string {
	var forms []string
	if raw := strings.TrimSpace(rec.RawID); raw != "" {
		if _, ok := parseIntID(raw); !ok {
			forms = append(forms, raw)
		}
	}
	if imdb := strings.TrimSpace(rec.IMDbID); imdb != "" && imdb != rec.RawID {
		forms = append(forms, imdb)
	}
	return forms
}

// similarity 距离转换为 [0,1] 相似度
func similarity(distance float32) float64 {
	d := float64(distance)
	if math.IsNaN(d) || d < 0 {
		d = 0
	}
	return math.Max(0, math.Min(1, 1-math.Min(d, 1)))
}

// ensureLoaded 首次调用时加载索引；加载失败后不自动重试，需要显式 Reload
func (s *SemanticSearchService) ensureLoaded(ctx context.Context) *searchState {
	if st := s.state.Load(); st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.state.Load(); st != nil {
		return st
	}
	if s.attempted {
		return nil
	}

	st, err := s.load(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	s.attempted = true
	s.loadErr = err
	if err != nil {
		s.log.Error().Err(err).Str("dir", s.cfg.ArtifactDir).Msg("索引加载失败，检索将返回空结果")
		return nil
	}
	s.state.Store(st)
	s.dropStaleTables(ctx, st)
	return st
}

// Warmup 立即加载索引，非懒加载模式下启动时调用
func (s *SemanticSearchService) Warmup(ctx context.Context) error {
	if s.ensureLoaded(ctx) != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Reload 重新读取 CURRENT 指向的版本并原子替换；失败时保留旧索引
func (s *SemanticSearchService) Reload(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	s.attempted = true
	if err != nil {
		s.loadErr = err
		s.log.Error().Err(err).Msg("索引重新加载失败")
		return "", err
	}
	s.loadErr = nil
	s.state.Store(st)
	s.resolved.Store(0)
	s.mismatched.Store(0)
	s.dropStaleTables(ctx, st)
	return st.manifest.Version, nil
}

// dropStaleTables 新版本生效后删除磁盘上已清理版本的 pgvector 表
// 仍保留在磁盘上的版本可能还有副本在使用，不删除
func (s *SemanticSearchService) dropStaleTables(ctx context.Context, st *searchState) {
	if s.db == nil || st.index.Backend() != vectorindex.BackendPgvector {
		return
	}
	keep := map[string]bool{vectorindex.PgvectorTable(st.manifest.Version): true}
	versions, err := artifact.Versions(s.cfg.ArtifactDir)
	if err != nil {
		s.log.Warn().Err(err).Msg("列出索引版本失败，跳过清理 pgvector 表")
		return
	}
	for _, v := range versions {
		keep[vectorindex.PgvectorTable(v)] = true
	}

	dropped, err := vectorindex.DropPgvectorTables(ctx, s.db, keep)
	if err != nil {
		s.log.Warn().Err(err).Msg("清理 pgvector 旧表失败")
	}
	if len(dropped) > 0 {
		s.log.Info().Strs("tables", dropped).Msg("已删除旧版本的 pgvector 表")
	}
}

func (s *SemanticSearchService) load(ctx context.Context) (*searchState, error) {
	bundle, err := artifact.Load(s.cfg.ArtifactDir)
	if err != nil {
		return nil, err
	}
	if dim := s.encoder.Dimension(); bundle.Index.Dimension() != dim {
		return nil, fmt.Errorf("%w: index %d, encoder %d", vectorindex.ErrDimensionMismatch, bundle.Index.Dimension(), dim)
	}

	index := vectorindex.Select(ctx, s.cfg.Accelerator, s.db, bundle.Index, bundle.Manifest.Version)
	metrics.IndexSize.Set(float64(index.Len()))
	s.log.Info().
		Str("version", bundle.Manifest.Version).
		Str("backend", index.Backend()).
		Int("size", index.Len()).
		Msg("索引已加载")

	return &searchState{
		index:    index,
		meta:     bundle.Metadata,
		manifest: bundle.Manifest,
		dir:      bundle.Dir,
	}, nil
}

// Available 索引是否已加载
func (s *SemanticSearchService) Available() bool {
	return s.state.Load() != nil
}

// Health 返回编码器、索引和 ID 解析的状态
func (s *SemanticSearchService) Health() SearchHealth {
	h := SearchHealth{Encoder: s.encoder.Health()}

	if st := s.state.Load(); st != nil {
		h.Index = IndexHealth{
			Available: true,
			Backend:   st.index.Backend(),
			Size:      st.index.Len(),
			Version:   st.manifest.Version,
			Model:     st.manifest.Model,
		}
	}
	s.mu.Lock()
	attempted := s.attempted
	if s.loadErr != nil {
		h.Index.LoadError = s.loadErr.Error()
	}
	s.mu.Unlock()

	resolved, mismatched := s.resolved.Load(), s.mismatched.Load()
	h.IDs = IDHealth{Resolved: resolved, Mismatched: mismatched}
	if total := resolved + mismatched; total > 0 {
		h.IDs.Ratio = float64(mismatched) / float64(total)
		h.IDs.Drift = total >= minDriftSamples && s.cfg.IDDriftThreshold > 0 && h.IDs.Ratio > s.cfg.IDDriftThreshold
	}

	switch {
	case !h.Index.Available && !attempted:
		h.Status = StatusPending
	case !h.Index.Available:
		h.Status = StatusUnavailable
	case h.IDs.Drift:
		h.Status = StatusIDDrift
	case h.Encoder.Degraded:
		h.Status = StatusDegraded
	default:
		h.Status = StatusOK
	}
	return h
}

// IsOutOfRange 判断错误是否为索引与元数据不一致
func IsOutOfRange(err error) bool {
	return errors.Is(err, metastore.ErrOutOfRange)
}
