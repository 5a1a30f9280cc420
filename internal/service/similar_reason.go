package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/user/moovie-recommender/internal/query"
)

// 推荐理由类型
const (
	ReasonDirector   = "director"
	ReasonActor      = "actor"
	ReasonGenre      = "genre"
	ReasonEraRating  = "era_rating"
	ReasonEra        = "era"
	ReasonRating     = "rating"
	ReasonSemantic   = "semantic"
	ReasonGeneral    = "general"
	ReasonPreference = "preference"
	ReasonPopular    = "popular"
)

// Reason 推荐理由
type Reason struct {
	Text  string  `json:"reason"`
	Type  string  `json:"reason_type"`
	Score float64 `json:"reason_score"`
}

// 各维度权重（用于综合相似度）
const (
	weightGenre    = 0.4
	weightDirector = 0.25
	weightActor    = 0.2
	weightRating   = 0.1
	weightEra      = 0.05
)

// coreGenres 参与类型理由的核心类型
var coreGenres = []string{
	"Science Fiction", "Mystery", "Thriller", "Action", "Comedy",
	"Romance", "Drama", "War", "History", "Animation", "Horror", "Crime",
}

// ReasonAgainstHistory 在已看电影里找与目标最相关的一部生成理由
func ReasonAgainstHistory(watched []query.Features, target query.Features) Reason {
	best := Reason{Text: "Similar in content to movies you watched", Type: ReasonGeneral}
	bestRank := rankOf(best.Type)
	for _, w := range watched {
		r := GenerateRecommendationReason(w, target)
		rank := rankOf(r.Type)
		if rank < bestRank || rank == bestRank && r.Score > best.Score {
			best, bestRank = r, rank
		}
	}
	return best
}

func rankOf(reasonType string) int {
	switch reasonType {
	case ReasonDirector:
		return 0
	case ReasonActor:
		return 1
	case ReasonGenre:
		return 2
	case ReasonEraRating:
		return 3
	case ReasonEra:
		return 4
	case ReasonRating:
		return 5
	case ReasonSemantic:
		return 6
	default:
		return 7
	}
}

// GenerateRecommendationReason 生成推荐理由（按优先级依次检查各维度）
func GenerateRecommendationReason(source, target query.Features) Reason {
	genreSimilarity, commonGenres := overlap(source.Genres, target.Genres)
	directorSimilarity, commonDirectors := overlap(source.Directors, target.Directors)
	actorSimilarity, commonActors := overlap(source.Cast, target.Cast)
	ratingSimilarity := calculateRatingSimilarity(source.Rating, target.Rating)
	eraSimilarity := calculateEraSimilarity(source.Year, target.Year)

	total := genreSimilarity*weightGenre +
		directorSimilarity*weightDirector +
		actorSimilarity*weightActor +
		ratingSimilarity*weightRating +
		eraSimilarity*weightEra

	reason := func(typ, format string, args ...any) Reason {
		return Reason{Text: fmt.Sprintf(format, args...), Type: typ, Score: total}
	}

	// 1. 同导演
	if directorSimilarity > 0.5 && len(commonDirectors) > 0 {
		return reason(ReasonDirector, "Directed by %s, like %s", strings.Join(commonDirectors, " & "), source.Title)
	}

	// 2. 同主演
	if actorSimilarity > 0.3 && len(commonActors) > 0 {
		return reason(ReasonActor, "Stars %s, as in %s", commonActors[0], source.Title)
	}

	// 3. 核心类型重合
	var core []string
	for _, g := range commonGenres {
		if contains(coreGenres, g) {
			core = append(core, g)
		}
	}
	if len(core) > 0 {
		return reason(ReasonGenre, "Another %s pick, in the spirit of %s", strings.Join(core, "/"), source.Title)
	}

	// 4. 年代和评分都接近
	if eraSimilarity > 0.6 && ratingSimilarity > 0.7 {
		return reason(ReasonEraRating, "A well-rated film from the same era as %s (%.1f vs %.1f)", source.Title, target.Rating, source.Rating)
	}

	// 5. 年代接近
	if eraSimilarity > 0.6 {
		return reason(ReasonEra, "From around %d, like %s", source.Year, source.Title)
	}

	// 6. 评分接近
	if ratingSimilarity > 0.8 && source.Rating > 0 && target.Rating > 0 {
		return reason(ReasonRating, "Rated about as highly as %s (%.1f vs %.1f)", source.Title, target.Rating, source.Rating)
	}

	// 7. 关键词重合
	if _, shared := overlap(source.Keywords, target.Keywords); len(shared) > 0 {
		if len(shared) > 3 {
			shared = shared[:3]
		}
		return reason(ReasonSemantic, "Explores similar themes: %s", strings.Join(shared, ", "))
	}

	return reason(ReasonGeneral, "Similar in content to %s", source.Title)
}

// overlap 两个列表的重合度，按 source 顺序返回共同项（忽略大小写）
func overlap(source, target []string) (float64, []string) {
	targetSet := make(map[string]bool, len(target))
	for _, t := range target {
		targetSet[strings.ToLower(strings.TrimSpace(t))] = true
	}

	common := []string{}
	seen := make(map[string]bool)
	for _, s := range source {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] || !targetSet[key] {
			continue
		}
		seen[key] = true
		common = append(common, strings.TrimSpace(s))
	}

	maxLen := math.Max(float64(len(source)), float64(len(target)))
	if maxLen == 0 {
		return 0, common
	}
	return float64(len(common)) / maxLen, common
}

// calculateRatingSimilarity 评分差异越小相似度越高，任一方无评分时为 0
func calculateRatingSimilarity(sourceRating, targetRating float64) float64 {
	if sourceRating <= 0 || targetRating <= 0 {
		return 0
	}
	return math.Max(0, 1-math.Abs(sourceRating-targetRating)/10.0)
}

// calculateEraSimilarity 计算年代相似度
func calculateEraSimilarity(sourceYear, targetYear int) float64 {
	if sourceYear == 0 || targetYear == 0 {
		return 0.5 // 年份未知时给中等相似度
	}

	diff := math.Abs(float64(sourceYear - targetYear))
	switch {
	case diff <= 1:
		return 1.0
	case diff <= 3:
		return 0.8
	case diff <= 5:
		return 0.6
	case diff <= 10:
		return 0.4
	default:
		return 0.2
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
