package indexer

import (
	"context"
	"fmt"

	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/rating"
	"github.com/user/moovie-recommender/internal/repository"
)

// RatingStore 读写电影评分
type RatingStore interface {
	RatingRows(ctx context.Context) ([]repository.RatingRow, error)
	UpdateWeightedRatings(ctx context.Context, wr map[int]float64) error
}

// RefreshWeightedRatings 重新计算并写回全部电影的加权评分，返回更新条数
func RefreshWeightedRatings(ctx context.Context, store RatingStore, minVotes int) (int, error) {
	rows, err := store.RatingRows(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取评分失败: %w", err)
	}

	samples := make([]rating.Sample, len(rows))
	for i, r := range rows {
		samples[i] = rating.Sample{ID: r.ID, VoteAverage: r.VoteAverage, VoteCount: r.VoteCount}
	}
	params := rating.Estimate(samples, minVotes)
	wr := rating.Compute(samples, minVotes)

	if err := store.UpdateWeightedRatings(ctx, wr); err != nil {
		return 0, fmt.Errorf("写回加权评分失败: %w", err)
	}

	log := logging.Component("Indexer")
	log.Info().Int("updated", len(wr)).Float64("C", params.C).Float64("m", params.M).Msg("加权评分已更新")
	return len(wr), nil
}
