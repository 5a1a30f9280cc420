package document

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/model"
)

// DefaultCastLimit 文档中保留的主演数量
const DefaultCastLimit = 10

// MovieDocument 归一化后的电影文档
type MovieDocument struct {
	ID                  string
	TMDBID              string
	IMDbID              string
	Title               string
	OriginalTitle       string
	Overview            string
	Genres              []string
	Cast                []string
	Crew                []string
	Keywords            []string
	ProductionCompanies []string
	ReleaseDate         string
	VoteAverage         *float64
	VoteCount           *float64
	PosterPath          string
	BackdropPath        string
}

// Options 归一化参数
type Options struct {
	// CastLimit 保留前 N 位演员，<=0 表示不截断
	CastLimit int
	// Strategies 列表字段解析策略，为空时使用 DocumentStrategies
	Strategies []Strategy
}

// Normalizer 将原始电影字段转换为可编码的文档
type Normalizer struct {
	castLimit  int
	strategies []Strategy
	log        zerolog.Logger
}

// NewNormalizer 创建归一化器
func NewNormalizer(opts Options) *Normalizer {
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DocumentStrategies
	}
	return &Normalizer{
		castLimit:  opts.CastLimit,
		strategies: strategies,
		log:        logging.Component("Normalizer"),
	}
}

// Normalize 构建文档，字段格式错误时该字段为空，不会失败
func (n *Normalizer) Normalize(raw model.RawMovie) MovieDocument {
	cast := Names(n.parse(raw.ID, "cast", raw.Cast))
	if n.castLimit > 0 && len(cast) > n.castLimit {
		cast = cast[:n.castLimit]
	}

	return MovieDocument{
		ID:                  strings.TrimSpace(raw.ID),
		TMDBID:              strings.TrimSpace(raw.TMDBID),
		IMDbID:              strings.TrimSpace(raw.IMDbID),
		Title:               strings.TrimSpace(raw.Title),
		OriginalTitle:       strings.TrimSpace(raw.OriginalTitle),
		Overview:            strings.TrimSpace(raw.Overview),
		Genres:              Names(n.parse(raw.ID, "genres", raw.Genres)),
		Cast:                cast,
		Crew:                Directors(n.parse(raw.ID, "crew", raw.Crew)),
		Keywords:            Names(n.parse(raw.ID, "keywords", raw.Keywords)),
		ProductionCompanies: Names(n.parse(raw.ID, "production_companies", raw.ProductionCompanies)),
		ReleaseDate:         strings.TrimSpace(raw.ReleaseDate),
		VoteAverage:         raw.VoteAverage,
		VoteCount:           raw.VoteCount,
		PosterPath:          raw.PosterPath,
		BackdropPath:        raw.BackdropPath,
	}
}

func (n *Normalizer) parse(id, field, raw string) []Entry {
	entries, ok := ParseList(raw, n.strategies)
	if !ok {
		n.log.Debug().Str("movie_id", id).Str("field", field).Msg("字段解析失败，按空列表处理")
		return nil
	}
	return entries
}

// Text 生成用于编码的文本，各段按固定顺序换行拼接，空段省略
func (d MovieDocument) Text() string {
	parts := make([]string, 0, 10)
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, label+": "+value)
		}
	}

	add("Title", d.Title)
	add("Overview", d.Overview)
	add("Genres", strings.Join(d.Genres, ", "))
	add("Release Date", d.ReleaseDate)
	if d.VoteAverage != nil {
		add("Rating", formatNumber(*d.VoteAverage))
	}
	if d.VoteCount != nil {
		add("Votes", formatNumber(*d.VoteCount))
	}
	add("Production Companies", strings.Join(d.ProductionCompanies, ", "))
	add("Keywords", strings.Join(d.Keywords, ", "))
	add("Cast", strings.Join(d.Cast, ", "))
	add("Crew", strings.Join(d.Crew, ", "))

	return strings.Join(parts, "\n")
}

// Metadata 生成索引对应的元数据快照
func (d MovieDocument) Metadata() model.MetadataRecord {
	return model.MetadataRecord{
		RawID:               d.ID,
		TMDBID:              d.TMDBID,
		IMDbID:              d.IMDbID,
		Title:               d.Title,
		OriginalTitle:       d.OriginalTitle,
		Overview:            d.Overview,
		Genres:              nonNil(d.Genres),
		ReleaseDate:         d.ReleaseDate,
		VoteAverage:         d.VoteAverage,
		VoteCount:           d.VoteCount,
		ProductionCompanies: nonNil(d.ProductionCompanies),
		Keywords:            nonNil(d.Keywords),
		Cast:                nonNil(d.Cast),
		Crew:                nonNil(d.Crew),
		PosterPath:          d.PosterPath,
		BackdropPath:        d.BackdropPath,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
