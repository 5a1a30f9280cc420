package indexer

import (
	"context"

	"github.com/user/moovie-recommender/internal/importer"
	"github.com/user/moovie-recommender/internal/model"
)

// Source 提供待索引的原始电影
type Source interface {
	Name() string
	Movies(ctx context.Context) ([]model.RawMovie, error)
}

// CSVSource 处理后的电影 CSV
type CSVSource struct {
	Path string
}

func (s CSVSource) Name() string { return "csv:" + s.Path }

func (s CSVSource) Movies(_ context.Context) ([]model.RawMovie, error) {
	return importer.LoadCSV(s.Path)
}

// MovieBatcher 按批读取电影表
type MovieBatcher interface {
	EachBatch(ctx context.Context, batchSize int, fn func([]model.Movie) error) error
}

// DBSource 数据库 movies 表
type DBSource struct {
	Repo      MovieBatcher
	BatchSize int
}

func (s DBSource) Name() string { return "db:movies" }

func (s DBSource) Movies(ctx context.Context) ([]model.RawMovie, error) {
	size := s.BatchSize
	if size <= 0 {
		size = 1000
	}
	var out []model.RawMovie
	err := s.Repo.EachBatch(ctx, size, func(batch []model.Movie) error {
		for _, m := range batch {
			out = append(out, m.Raw())
		}
		return nil
	})
	return out, err
}
