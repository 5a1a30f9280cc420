package repository

import (
	"context"
	"time"

	"github.com/user/moovie-recommender/internal/model"
	"gorm.io/gorm"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Add 记录一次观看
func (r *HistoryRepository) Add(ctx context.Context, userID, movieID int) error {
	now := time.Now()
	return r.db.WithContext(ctx).Create(&model.UserWatchHistory{
		UserID:    userID,
		MovieID:   movieID,
		WatchedAt: now,
		CreatedAt: now,
	}).Error
}

// ListMovieIDs 用户看过的电影 ID，最近观看的在前，去重
func (r *HistoryRepository) ListMovieIDs(ctx context.Context, userID, limit int) ([]int, error) {
	var histories []model.UserWatchHistory
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("watched_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&histories).Error; err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(histories))
	seen := make(map[int]bool, len(histories))
	for _, h := range histories {
		if seen[h.MovieID] {
			continue
		}
		seen[h.MovieID] = true
		ids = append(ids, h.MovieID)
	}
	return ids, nil
}

