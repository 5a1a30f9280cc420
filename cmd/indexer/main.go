package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/user/moovie-recommender/internal/config"
	"github.com/user/moovie-recommender/internal/embedding"
	"github.com/user/moovie-recommender/internal/indexer"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/repository"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}

	sourceFlag := flag.String("source", "csv", "数据源: csv 或 db")
	csvFlag := flag.String("csv", "data/movies.csv", "CSV 文件路径（-source csv 时使用）")
	outFlag := flag.String("out", cfg.Index.ArtifactDir, "索引产物根目录")
	batchFlag := flag.Int("batch-size", cfg.Embedding.BatchSize, "编码批大小")
	gpuFlag := flag.String("gpu", cfg.Embedding.UseGPU, "是否使用 GPU: auto / true / false")
	workersFlag := flag.Int("workers", 0, "文档归一化并发数，0 表示 CPU 核数")
	keepFlag := flag.Int("keep", 3, "保留的历史版本数，0 表示不清理")
	computeWRFlag := flag.Bool("compute-wr", false, "构建前重新计算加权评分（需要数据库）")
	minVotesFlag := flag.Int("min-votes", 0, "加权评分的最少投票数 m，0 表示取中位数")
	flag.Parse()

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := logging.Component("IndexerCLI")
	if envErr != nil {
		logger.Debug().Msg("未找到 .env 文件，使用系统环境变量")
	}

	gpu := strings.ToLower(*gpuFlag)
	if gpu != "auto" && gpu != "true" && gpu != "false" {
		logger.Fatal().Str("gpu", *gpuFlag).Msg("-gpu 只能是 auto / true / false")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options{
		source:    *sourceFlag,
		csvPath:   *csvFlag,
		outDir:    *outFlag,
		batchSize: *batchFlag,
		gpu:       gpu,
		workers:   *workersFlag,
		keep:      *keepFlag,
		computeWR: *computeWRFlag,
		minVotes:  *minVotesFlag,
	}); err != nil {
		logger.Error().Err(err).Msg("索引构建失败")
		os.Exit(1)
	}
}

type options struct {
	source    string
	csvPath   string
	outDir    string
	batchSize int
	gpu       string
	workers   int
	keep      int
	computeWR bool
	minVotes  int
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	logger := logging.Component("IndexerCLI")

	var repos *repository.Repositories
	if opts.source == "db" || opts.computeWR {
		db, err := repository.InitDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		sqlDB, _ := db.DB()
		defer sqlDB.Close()
		repos = repository.NewRepositories(db)
	}

	if opts.computeWR {
		n, err := indexer.RefreshWeightedRatings(ctx, repos.Movie, opts.minVotes)
		if err != nil {
			return err
		}
		logger.Info().Int("updated", n).Msg("加权评分计算完成")
	}

	var src indexer.Source
	switch opts.source {
	case "csv":
		src = indexer.CSVSource{Path: opts.csvPath}
	case "db":
		src = indexer.DBSource{Repo: repos.Movie, BatchSize: 1000}
	default:
		return fmt.Errorf("未知数据源 %q，可选 csv / db", opts.source)
	}

	// 离线构建使用严格模式，模型不可用时直接失败
	encoder := embedding.NewEncoder(embedding.Config{
		ModelName: cfg.Embedding.ModelName,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: opts.batchSize,
		UseGPU:    opts.gpu,
		Strict:    true,
	}, embedding.NewOllamaLoader(embedding.OllamaConfig{
		Host:      cfg.Embedding.OllamaHost,
		Model:     cfg.Embedding.ModelName,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}))
	if err := encoder.Warmup(ctx); err != nil {
		return fmt.Errorf("向量模型不可用: %w", err)
	}

	start := time.Now()
	res, err := indexer.Build(ctx, src, encoder, indexer.Options{
		OutDir:    opts.outDir,
		ModelName: cfg.Embedding.ModelName,
		Workers:   opts.workers,
		Keep:      opts.keep,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("dir", res.Dir).
		Str("version", res.Version).
		Int("count", res.Count).
		Str("backend", string(encoder.Backend())).
		Dur("elapsed", time.Since(start)).
		Msg("索引已发布，调用 POST /admin/index/reload 让服务端切换")
	return nil
}
