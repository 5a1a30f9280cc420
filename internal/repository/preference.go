package repository

import (
	"context"
	"errors"
	"time"

	"github.com/user/moovie-recommender/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// FindByUser 查询用户偏好，不存在返回 nil
func (r *PreferenceRepository) FindByUser(ctx context.Context, userID int) (*model.UserPreference, error) {
	var pref model.UserPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// Upsert 创建或更新用户偏好（按 user_id 唯一）
func (r *PreferenceRepository) Upsert(ctx context.Context, p *model.UserPreference) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"favorite_genres", "favorite_actors", "favorite_directors", "updated_at"}),
	}).Create(p).Error
}
