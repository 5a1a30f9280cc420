package model

import (
	"strings"
	"time"
)

// UserPreference 用户偏好，三个字段均为逗号分隔的自由文本
type UserPreference struct {
	ID                int       `json:"id" gorm:"primaryKey"`
	UserID            int       `json:"user_id" gorm:"uniqueIndex;not null"`
	FavoriteGenres    string    `json:"favorite_genres" gorm:"type:text"`
	FavoriteActors    string    `json:"favorite_actors" gorm:"type:text"`
	FavoriteDirectors string    `json:"favorite_directors" gorm:"type:text"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName 表名
func (UserPreference) TableName() string {
	return "user_preferences"
}

// IsEmpty 三个偏好字段是否全部为空
func (p *UserPreference) IsEmpty() bool {
	return p == nil ||
		strings.TrimSpace(p.FavoriteGenres) == "" &&
			strings.TrimSpace(p.FavoriteActors) == "" &&
			strings.TrimSpace(p.FavoriteDirectors) == ""
}

// UserWatchHistory 观影历史
type UserWatchHistory struct {
	ID        int       `json:"id" gorm:"primaryKey"`
	UserID    int       `json:"user_id" gorm:"index;not null"`
	MovieID   int       `json:"movie_id" gorm:"not null"`
	WatchedAt time.Time `json:"watched_at" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名
func (UserWatchHistory) TableName() string {
	return "user_watch_history"
}
