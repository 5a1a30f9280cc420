package repository

import (
	"context"

	"github.com/lib/pq"
	"github.com/user/moovie-recommender/internal/model"
	"gorm.io/gorm"
)

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// RatingRow 计算加权评分所需的字段
type RatingRow struct {
	ID          int
	VoteAverage *float64
	VoteCount   *int
}

// FindByIDs 批量查询，结果顺序不保证
func (r *MovieRepository) FindByIDs(ctx context.Context, ids []int) ([]model.Movie, error) {
	if len(ids) == 0 {
		return []model.Movie{}, nil
	}
	var movies []model.Movie
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&movies).Error
	return movies, err
}

// ExistingIDs 返回 ids 中在库里存在的那些
func (r *MovieRepository) ExistingIDs(ctx context.Context, ids []int) (map[int]bool, error) {
	out := make(map[int]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []int
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Where("id IN ?", ids).Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// IDsByIMDb 按 imdb_id 查主键
func (r *MovieRepository) IDsByIMDb(ctx context.Context, imdbIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(imdbIDs))
	if len(imdbIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ID     int
		IMDbID string `gorm:"column:imdb_id"`
	}
	err := r.db.WithContext(ctx).Model(&model.Movie{}).
		Select("id", "imdb_id").
		Where("imdb_id = ANY(?)", pq.Array(imdbIDs)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.IMDbID] = row.ID
	}
	return out, nil
}

// TopByWeightedRating 加权评分高于 minWR 的电影，按评分降序
func (r *MovieRepository) TopByWeightedRating(ctx context.Context, minWR float64, limit int) ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.WithContext(ctx).
		Where("wr IS NOT NULL AND wr > ?", minWR).
		Order("wr DESC").Order("id").
		Limit(limit).
		Find(&movies).Error
	return movies, err
}

// AverageWR 全库加权评分均值，没有数据时为 0
func (r *MovieRepository) AverageWR(ctx context.Context) (float64, error) {
	var avg float64
	err := r.db.WithContext(ctx).Model(&model.Movie{}).
		Where("wr IS NOT NULL").
		Select("COALESCE(AVG(wr), 0)").
		Scan(&avg).Error
	return avg, err
}

// EachBatch 按主键顺序分批遍历全部电影
func (r *MovieRepository) EachBatch(ctx context.Context, batchSize int, fn func([]model.Movie) error) error {
	var batch []model.Movie
	result := r.db.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	return result.Error
}

// RatingRows 读取全部评分字段
func (r *MovieRepository) RatingRows(ctx context.Context) ([]RatingRow, error) {
	var rows []RatingRow
	err := r.db.WithContext(ctx).Model(&model.Movie{}).
		Select("id", "vote_average", "vote_count").
		Order("id").
		Scan(&rows).Error
	return rows, err
}

// UpdateWeightedRatings 在一个事务里写回加权评分
func (r *MovieRepository) UpdateWeightedRatings(ctx context.Context, wr map[int]float64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, score := range wr {
			if err := tx.Model(&model.Movie{}).Where("id = ?", id).Update("wr", score).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
