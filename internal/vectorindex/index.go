package vectorindex

import (
	"context"
	"errors"

	"github.com/user/moovie-recommender/internal/logging"
	"gorm.io/gorm"
)

var (
	// ErrDimensionMismatch 向量维度与索引不一致
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCorruptIndex 索引文件损坏或格式不对
	ErrCorruptIndex = errors.New("corrupt index file")
)

const (
	BackendFlat     = "flat"
	BackendPgvector = "pgvector"
)

// Hit 一条检索结果，Distance 为平方欧氏距离
type Hit struct {
	Position int     `json:"position"`
	Distance float32 `json:"distance"`
}

// Index 精确 k 近邻检索，按距离升序返回，距离相同按位置升序
type Index interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Len() int
	Dimension() int
	Backend() string
}

// Select 根据配置选择检索后端，加速后端初始化失败时回退到内存暴力检索
// 只在加载索引时调用一次，version 决定 pgvector 使用的表，选择结果通过 Backend() 暴露
func Select(ctx context.Context, accelerator string, db *gorm.DB, flat *FlatIndex, version string) Index {
	log := logging.Component("VectorIndex")
	if accelerator != BackendPgvector {
		return flat
	}
	if db == nil {
		log.Warn().Msg("未配置数据库，pgvector 不可用，使用内存检索")
		return flat
	}

	pg, err := OpenPgvector(ctx, db, flat, PgvectorTable(version))
	if err != nil {
		log.Warn().Err(err).Msg("pgvector 初始化失败，使用内存检索")
		return flat
	}
	return pg
}
