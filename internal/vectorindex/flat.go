package vectorindex

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/user/moovie-recommender/internal/utils"
)

// ctxCheckEvery 扫描多少行检查一次 ctx
const ctxCheckEvery = 4096

// FlatIndex 内存暴力检索，向量按行连续存放，位置即插入顺序
type FlatIndex struct {
	mu   sync.RWMutex
	dim  int
	data []float32
}

// NewFlatIndex 创建空索引
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// BuildFlatIndex 用一组向量直接构建索引
func BuildFlatIndex(dim int, vectors [][]float32) (*FlatIndex, error) {
	f := NewFlatIndex(dim)
	if err := f.Add(vectors...); err != nil {
		return nil, err
	}
	return f, nil
}

// Add 追加向量，任何一条维度不符则整批不写入
func (f *FlatIndex) Add(vectors ...[]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d dims, index has %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Len 向量条数
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Dimension 维度
func (f *FlatIndex) Dimension() int {
	return f.dim
}

// Backend 后端名称
func (f *FlatIndex) Backend() string {
	return BackendFlat
}

// Vectors 返回全部向量的副本
func (f *FlatIndex) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	if f.dim > 0 {
		n = len(f.data) / f.dim
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = slices.Clone(f.data[i*f.dim : (i+1)*f.dim])
	}
	return out
}

// Search 精确检索，不修改索引
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.data) / f.dim
	hits := make([]Hit, 0, n)
	for pos := 0; pos < n; pos++ {
		if pos%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := f.data[pos*f.dim : (pos+1)*f.dim]
		hits = append(hits, Hit{Position: pos, Distance: utils.SquaredL2(query, row)})
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func compareHits(a, b Hit) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.Position, b.Position)
}
