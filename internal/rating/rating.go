package rating

import (
	"math"
	"sort"
)

// Sample 单部电影的投票数据
type Sample struct {
	ID          int
	VoteAverage *float64
	VoteCount   *int
}

// Params 加权评分的全局参数
// C 为全部电影的平均分，M 为可信投票数阈值
type Params struct {
	C float64
	M float64
}

// Estimate 从样本计算全局参数，minVotes <= 0 时取投票数中位数作为阈值
func Estimate(samples []Sample, minVotes int) Params {
	var sum float64
	var n int
	counts := make([]int, 0, len(samples))
	for _, s := range samples {
		if s.VoteAverage != nil {
			sum += *s.VoteAverage
			n++
		}
		if s.VoteCount != nil {
			counts = append(counts, *s.VoteCount)
		}
	}

	var p Params
	if n > 0 {
		p.C = sum / float64(n)
	}
	if minVotes > 0 {
		p.M = float64(minVotes)
	} else if len(counts) > 0 {
		sort.Ints(counts)
		p.M = float64(counts[len(counts)/2])
	}
	return p
}

// Weighted WR = v/(v+m)·R + m/(v+m)·C，保留两位小数
func (p Params) Weighted(voteAverage float64, voteCount int) float64 {
	v := float64(voteCount)
	denom := v + p.M
	if denom <= 0 {
		return round2(p.C)
	}
	return round2(v/denom*voteAverage + p.M/denom*p.C)
}

// Compute 为投票数据完整的电影计算加权评分
func Compute(samples []Sample, minVotes int) map[int]float64 {
	p := Estimate(samples, minVotes)
	out := make(map[int]float64, len(samples))
	for _, s := range samples {
		if s.VoteAverage == nil || s.VoteCount == nil {
			continue
		}
		out[s.ID] = p.Weighted(*s.VoteAverage, *s.VoteCount)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
