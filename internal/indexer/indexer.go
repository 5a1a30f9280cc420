package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/user/moovie-recommender/internal/artifact"
	"github.com/user/moovie-recommender/internal/document"
	"github.com/user/moovie-recommender/internal/embedding"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/metastore"
	"github.com/user/moovie-recommender/internal/model"
	"github.com/user/moovie-recommender/internal/vectorindex"
	"golang.org/x/sync/errgroup"
)

// ErrNoMovies 数据源为空
var ErrNoMovies = errors.New("no movies to index")

// Encoder 批量编码文档
type Encoder interface {
	Encode(ctx context.Context, texts []string, role embedding.Role) ([][]float32, error)
	Dimension() int
}

// Options 构建参数
type Options struct {
	OutDir    string
	ModelName string
	// ChunkSize 每次交给编码器的文档数，只影响进度日志粒度
	ChunkSize int
	Workers   int
	CastLimit int
	// Keep 保留的历史版本数，<=0 不清理
	Keep int
}

// Result 构建结果
type Result struct {
	Dir      string
	Version  string
	Count    int
	Duration time.Duration
}

// Build 读取数据源，归一化并编码全部电影，发布新版本的索引产物
// 索引位置 i 与元数据第 i 条始终对应同一部电影
func Build(ctx context.Context, src Source, enc Encoder, opts Options) (*Result, error) {
	log := logging.Component("Indexer")
	start := time.Now()

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.CastLimit == 0 {
		opts.CastLimit = document.DefaultCastLimit
	}

	raws, err := src.Movies(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取数据源失败: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrNoMovies
	}
	log.Info().Str("source", src.Name()).Int("count", len(raws)).Msg("开始构建索引")

	docs, err := normalizeAll(ctx, raws, opts)
	if err != nil {
		return nil, err
	}

	index := vectorindex.NewFlatIndex(enc.Dimension())
	records := make([]model.MetadataRecord, 0, len(docs))
	for lo := 0; lo < len(docs); lo += opts.ChunkSize {
		hi := min(lo+opts.ChunkSize, len(docs))

		texts := make([]string, 0, hi-lo)
		for _, d := range docs[lo:hi] {
			texts = append(texts, d.Text())
		}
		vecs, err := enc.Encode(ctx, texts, embedding.RolePassage)
		if err != nil {
			return nil, fmt.Errorf("编码第 %d-%d 条失败: %w", lo, hi, err)
		}
		if err := index.Add(vecs...); err != nil {
			return nil, err
		}
		for _, d := range docs[lo:hi] {
			records = append(records, d.Metadata())
		}
		log.Info().Int("done", hi).Int("total", len(docs)).Msg("编码进度")
	}

	dir, err := artifact.Write(opts.OutDir, artifact.Manifest{
		Model:  opts.ModelName,
		Source: src.Name(),
	}, index, metastore.New(records))
	if err != nil {
		return nil, err
	}

	if opts.Keep > 0 {
		removed, err := artifact.Prune(opts.OutDir, opts.Keep)
		if err != nil {
			log.Warn().Err(err).Msg("清理旧版本失败")
		} else if len(removed) > 0 {
			log.Info().Strs("removed", removed).Msg("已清理旧版本")
		}
	}

	res := &Result{
		Dir:      dir,
		Version:  filepath.Base(dir),
		Count:    index.Len(),
		Duration: time.Since(start),
	}
	log.Info().Str("version", res.Version).Int("count", res.Count).Dur("duration", res.Duration).Msg("索引构建完成")
	return res, nil
}

// normalizeAll 并行归一化，结果顺序与输入一致
func normalizeAll(ctx context.Context, raws []model.RawMovie, opts Options) ([]document.MovieDocument, error) {
	normalizer := document.NewNormalizer(document.Options{CastLimit: opts.CastLimit})
	docs := make([]document.MovieDocument, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			docs[i] = normalizer.Normalize(raws[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
