package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/moovie-recommender/internal/document"
	"github.com/user/moovie-recommender/internal/model"
)

const (
	// MaxThemesLength 剧情简介拼接后的最大字符数
	MaxThemesLength = 500
	// QueryCastLimit 每部已看电影取前几位演员
	QueryCastLimit = 5
)

// MovieSource 按 ID 读取电影
type MovieSource interface {
	FindByIDs(ctx context.Context, ids []int) ([]model.Movie, error)
}

// Features 从一部电影中提取的查询特征
type Features struct {
	Title     string
	Overview  string
	Genres    []string
	Cast      []string
	Directors []string
	Keywords  []string
	Year      int
	Rating    float64
}

// Builder 根据用户信号生成检索文本
type Builder struct {
	movies     MovieSource
	normalizer *document.Normalizer
}

// NewBuilder 创建查询构建器，读取库内数据时使用宽松解析
func NewBuilder(movies MovieSource) *Builder {
	return &Builder{
		movies: movies,
		normalizer: document.NewNormalizer(document.Options{
			CastLimit:  QueryCastLimit,
			Strategies: document.LenientStrategies,
		}),
	}
}

// FromPreferences 非空的偏好字段用逗号拼接；全部为空返回 ""，调用方不应再检索
func FromPreferences(genres, actors, directors string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{genres, actors, directors} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ",")
}

// FromHistoryAndPreferences 按调用方给出的顺序汇总已看电影的特征，再附上偏好字段
// watchedIDs 为空时等同于 FromPreferences
func (b *Builder) FromHistoryAndPreferences(ctx context.Context, watchedIDs []int, genres, actors, directors string) (string, error) {
	if len(watchedIDs) == 0 {
		return FromPreferences(genres, actors, directors), nil
	}

	movies, err := b.WatchedMovies(ctx, watchedIDs)
	if err != nil {
		return "", err
	}
	features := make([]Features, len(movies))
	for i, m := range movies {
		features[i] = b.Extract(m)
	}
	return Compose(features, genres, actors, directors), nil
}

// Compose 用已提取的特征按段落拼接检索文本，空段省略
func Compose(features []Features, genres, actors, directors string) string {
	var titles, overviews, genreList, castList, directorList, keywordList []string
	for _, f := range features {
		if f.Title != "" {
			titles = append(titles, f.Title)
		}
		if f.Overview != "" {
			overviews = append(overviews, f.Overview)
		}
		if len(f.Genres) > 0 {
			genreList = append(genreList, strings.Join(f.Genres, ", "))
		}
		if len(f.Cast) > 0 {
			castList = append(castList, strings.Join(f.Cast, ", "))
		}
		if len(f.Directors) > 0 {
			directorList = append(directorList, strings.Join(f.Directors, ", "))
		}
		if len(f.Keywords) > 0 {
			keywordList = append(keywordList, strings.Join(f.Keywords, ", "))
		}
	}

	parts := make([]string, 0, 9)
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Movies", strings.Join(titles, ", "))
	add("Themes", truncate(strings.Join(overviews, " "), MaxThemesLength))
	add("Genres", strings.Join(genreList, ", "))
	add("Actors", strings.Join(castList, ", "))
	add("Directors", strings.Join(directorList, ", "))
	add("Keywords", strings.Join(keywordList, ", "))
	add("Favorite Genres", strings.TrimSpace(genres))
	add("Favorite Actors", strings.TrimSpace(actors))
	add("Favorite Directors", strings.TrimSpace(directors))

	return strings.Join(parts, " ")
}

// WatchedMovies 读取已看电影并按 watchedIDs 的顺序排列，重复与不存在的 ID 被忽略
func (b *Builder) WatchedMovies(ctx context.Context, watchedIDs []int) ([]model.Movie, error) {
	found, err := b.movies.FindByIDs(ctx, watchedIDs)
	if err != nil {
		return nil, fmt.Errorf("load watched movies: %w", err)
	}
	byID := make(map[int]model.Movie, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}

	out := make([]model.Movie, 0, len(watchedIDs))
	seen := make(map[int]bool, len(watchedIDs))
	for _, id := range watchedIDs {
		m, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m)
	}
	return out, nil
}

// Extract 用与文档归一化相同的规则提取特征
func (b *Builder) Extract(m model.Movie) Features {
	doc := b.normalizer.Normalize(m.Raw())
	f := Features{
		Title:     doc.Title,
		Overview:  doc.Overview,
		Genres:    doc.Genres,
		Cast:      doc.Cast,
		Directors: doc.Crew,
		Keywords:  doc.Keywords,
	}
	if m.ReleaseDate != nil {
		f.Year = m.ReleaseDate.Year()
	}
	if m.VoteAverage != nil {
		f.Rating = *m.VoteAverage
	}
	return f
}

// truncate 按字符截断，超出时加省略号
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
