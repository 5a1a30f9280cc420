package model

import (
	"strconv"
	"time"
)

// Movie 电影模型（TMDB 信息）
// genres / cast / crew / keywords / production_companies 以原始 JSON 文本存储，
// 内容可能是标准 JSON、单引号伪 JSON 或纯字符串，由 document 包统一解析
type Movie struct {
	ID                  int        `json:"id" gorm:"primaryKey"`
	TMDBID              *int       `json:"tmdb_id" gorm:"column:tmdb_id;unique"`
	IMDbID              *string    `json:"imdb_id" gorm:"column:imdb_id;size:20;unique"`
	Title               string     `json:"title" gorm:"size:255;not null"`
	OriginalTitle       string     `json:"original_title" gorm:"size:255"`
	Overview            string     `json:"overview" gorm:"type:text"`
	Genres              string     `json:"genres" gorm:"type:text"`
	ReleaseDate         *time.Time `json:"release_date" gorm:"type:date"`
	Runtime             *int       `json:"runtime"`
	Popularity          *float64   `json:"popularity"`
	VoteAverage         *float64   `json:"vote_average"`
	VoteCount           *int       `json:"vote_count"`
	WR                  *float64   `json:"wr" gorm:"column:wr;index"`
	PosterPath          string     `json:"poster_path" gorm:"size:255"`
	BackdropPath        string     `json:"backdrop_path" gorm:"size:255"`
	ProductionCompanies string     `json:"production_companies" gorm:"type:text"`
	Keywords            string     `json:"keywords" gorm:"type:text"`
	Cast                string     `json:"cast" gorm:"type:text"`
	Crew                string     `json:"crew" gorm:"type:text"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName 表名
func (Movie) TableName() string {
	return "movies"
}

// Raw 转换为归一化前的原始字段
func (m Movie) Raw() RawMovie {
	raw := RawMovie{
		ID:                  strconv.Itoa(m.ID),
		Title:               m.Title,
		OriginalTitle:       m.OriginalTitle,
		Overview:            m.Overview,
		Genres:              m.Genres,
		Cast:                m.Cast,
		Crew:                m.Crew,
		Keywords:            m.Keywords,
		ProductionCompanies: m.ProductionCompanies,
		VoteAverage:         m.VoteAverage,
		PosterPath:          m.PosterPath,
		BackdropPath:        m.BackdropPath,
	}
	if m.TMDBID != nil {
		raw.TMDBID = strconv.Itoa(*m.TMDBID)
	}
	if m.IMDbID != nil {
		raw.IMDbID = *m.IMDbID
	}
	if m.ReleaseDate != nil {
		raw.ReleaseDate = m.ReleaseDate.Format(time.DateOnly)
	}
	if m.VoteCount != nil {
		v := float64(*m.VoteCount)
		raw.VoteCount = &v
	}
	return raw
}

// RawMovie 一部电影的原始字段（来自 CSV 或数据库），列表字段未解析
type RawMovie struct {
	ID                  string
	TMDBID              string
	IMDbID              string
	Title               string
	OriginalTitle       string
	Overview            string
	Genres              string
	Cast                string
	Crew                string
	Keywords            string
	ProductionCompanies string
	ReleaseDate         string
	VoteAverage         *float64
	VoteCount           *float64
	PosterPath          string
	BackdropPath        string
}

// MetadataRecord 索引位置对应的展示快照，构建时写入，之后只读
type MetadataRecord struct {
	// RawID 构建时写入的外部 ID 原文，可能是 "862"、"862.0" 或 "tt0114709"
	RawID               string   `json:"id" msgpack:"id"`
	TMDBID              string   `json:"tmdb_id" msgpack:"tmdb_id"`
	IMDbID              string   `json:"imdb_id" msgpack:"imdb_id"`
	Title               string   `json:"title" msgpack:"title"`
	OriginalTitle       string   `json:"original_title" msgpack:"original_title"`
	Overview            string   `json:"overview" msgpack:"overview"`
	Genres              []string `json:"genres" msgpack:"genres"`
	ReleaseDate         string   `json:"release_date" msgpack:"release_date"`
	VoteAverage         *float64 `json:"vote_average" msgpack:"vote_average"`
	VoteCount           *float64 `json:"vote_count" msgpack:"vote_count"`
	ProductionCompanies []string `json:"production_companies" msgpack:"production_companies"`
	Keywords            []string `json:"keywords" msgpack:"keywords"`
	Cast                []string `json:"cast" msgpack:"cast"`
	Crew                []string `json:"crew" msgpack:"crew"`
	PosterPath          string   `json:"poster_path" msgpack:"poster_path"`
	BackdropPath        string   `json:"backdrop_path" msgpack:"backdrop_path"`
}
