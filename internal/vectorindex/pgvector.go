package vectorindex

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/user/moovie-recommender/internal/logging"
	"gorm.io/gorm"
)

// PgvectorTablePrefix 每个索引版本一张向量表，表名为前缀加版本号
const PgvectorTablePrefix = "movie_vectors_"

const (
	uploadBatchSize = 500
	// maxIdentifierLen PostgreSQL 标识符长度上限
	maxIdentifierLen = 63
)

// PgvectorTable 索引版本对应的向量表名，版本号中的非字母数字字符替换为下划线，过长时截断并追加哈希
func PgvectorTable(version string) string {
	var b strings.Builder
	b.WriteString(PgvectorTablePrefix)
	for _, r := range strings.ToLower(version) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) <= maxIdentifierLen {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(version))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return name[:maxIdentifierLen-len(suffix)] + suffix
}

// vectorRow 向量表的一行
type vectorRow struct {
	Position  int             `gorm:"column:position;primaryKey;autoIncrement:false"`
	Embedding pgvector.Vector `gorm:"column:embedding"`
}

type pgHit struct {
	Position int
	Distance float64
}

// PgvectorIndex 在 PostgreSQL 中做精确 L2 检索（不建 ANN 索引，结果与内存检索一致）
// 内存索引保留为数据来源，查询出错时直接用它兜底
type PgvectorIndex struct {
	db    *gorm.DB
	flat  *FlatIndex
	table string
	log   zerolog.Logger
}

func newPgvectorIndex(db *gorm.DB, flat *FlatIndex, table string) *PgvectorIndex {
	return &PgvectorIndex{
		db:    db,
		flat:  flat,
		table: table,
		log:   logging.Component("Pgvector"),
	}
}

// OpenPgvector 确认扩展可用，把向量上传到该版本的表；其他副本已上传完整的同版本表时直接复用
// 其他版本的表不受影响，仍在服务旧版本的副本可以继续查询
func OpenPgvector(ctx context.Context, db *gorm.DB, flat *FlatIndex, table string) (*PgvectorIndex, error) {
	p := newPgvectorIndex(db, flat, table)
	reused, err := p.sync(ctx)
	if err != nil {
		return nil, err
	}
	p.log.Info().Int("vectors", flat.Len()).Str("table", table).Bool("reused", reused).Msg("向量已同步到 pgvector")
	return p, nil
}

func (p *PgvectorIndex) sync(ctx context.Context) (bool, error) {
	db := p.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return false, fmt.Errorf("enable vector extension: %w", err)
	}

	table := pq.QuoteIdentifier(p.table)
	reused := false
	err := db.Transaction(func(tx *gorm.DB) error {
		// 同一版本的表同一时间只由一个副本写入
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", p.table).Error; err != nil {
			return fmt.Errorf("lock vector table: %w", err)
		}
		var exists bool
		if err := tx.Raw("SELECT to_regclass(?) IS NOT NULL", table).Scan(&exists).Error; err != nil {
			return fmt.Errorf("check vector table: %w", err)
		}
		if exists {
			var n int64
			if err := tx.Table(p.table).Count(&n).Error; err != nil {
				return fmt.Errorf("count vector table: %w", err)
			}
			if int(n) == p.flat.Len() {
				reused = true
				return nil
			}
		}

		if err := tx.Exec("DROP TABLE IF EXISTS " + table).Error; err != nil {
			return fmt.Errorf("drop vector table: %w", err)
		}
		create := fmt.Sprintf("CREATE TABLE %s (position integer PRIMARY KEY, embedding vector(%d) NOT NULL)",
			table, p.flat.Dimension())
		if err := tx.Exec(create).Error; err != nil {
			return fmt.Errorf("create vector table: %w", err)
		}

		vectors := p.flat.Vectors()
		for start := 0; start < len(vectors); start += uploadBatchSize {
			end := min(start+uploadBatchSize, len(vectors))
			rows := make([]vectorRow, 0, end-start)
			for pos := start; pos < end; pos++ {
				rows = append(rows, vectorRow{Position: pos, Embedding: pgvector.NewVector(vectors[pos])})
			}
			if err := tx.Table(p.table).Create(&rows).Error; err != nil {
				return fmt.Errorf("upload vectors %d-%d: %w", start, end, err)
			}
		}
		return nil
	})
	return reused, err
}

// DropPgvectorTables 删除 keep 之外的版本向量表，返回被删除的表名
func DropPgvectorTables(ctx context.Context, db *gorm.DB, keep map[string]bool) ([]string, error) {
	db = db.WithContext(ctx)
	var tables []string
	err := db.Table("pg_tables").
		Where("schemaname = current_schema() AND tablename LIKE ?", PgvectorTablePrefix+"%").
		Pluck("tablename", &tables).Error
	if err != nil {
		return nil, fmt.Errorf("list vector tables: %w", err)
	}

	var dropped []string
	for _, t := range tables {
		if keep[t] || !strings.HasPrefix(t, PgvectorTablePrefix) {
			continue
		}
		if err := db.Exec("DROP TABLE IF EXISTS " + pq.QuoteIdentifier(t)).Error; err != nil {
			return dropped, fmt.Errorf("drop vector table %s: %w", t, err)
		}
		dropped = append(dropped, t)
	}
	return dropped, nil
}

// Search 由数据库计算距离；<-> 返回欧氏距离，这里转成平方距离与内存检索保持一致
func (p *PgvectorIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != p.flat.Dimension() {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), p.flat.Dimension())
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	var rows []pgHit
	err := p.db.WithContext(ctx).Raw(
		fmt.Sprintf("SELECT position, embedding <-> ? AS distance FROM %s ORDER BY distance, position LIMIT ?", pq.QuoteIdentifier(p.table)),
		pgvector.NewVector(query), k,
	).Scan(&rows).Error
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Warn().Err(err).Msg("pgvector 查询失败，本次使用内存检索")
		return p.flat.Search(ctx, query, k)
	}

	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = Hit{Position: r.Position, Distance: float32(r.Distance * r.Distance)}
	}
	return hits, nil
}

// Len 向量条数
func (p *PgvectorIndex) Len() int {
	return p.flat.Len()
}

// Dimension 维度
func (p *PgvectorIndex) Dimension() int {
	return p.flat.Dimension()
}

// Backend 后端名称
func (p *PgvectorIndex) Backend() string {
	return BackendPgvector
}
