package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/user/moovie-recommender/internal/config"
	"github.com/user/moovie-recommender/internal/embedding"
	"github.com/user/moovie-recommender/internal/handler"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/repository"
	"github.com/user/moovie-recommender/internal/router"
	"github.com/user/moovie-recommender/internal/service"
)

func main() {
	// 加载环境变量
	envErr := godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := logging.Component("Server")
	if envErr != nil {
		logger.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化数据库
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	// 初始化仓库
	repos := repository.NewRepositories(db)

	// 向量模型，服务端模型不可用时降级为占位向量
	encoder := embedding.NewEncoder(embedding.Config{
		ModelName:      cfg.Embedding.ModelName,
		Dimension:      cfg.Embedding.Dimension,
		BatchSize:      cfg.Embedding.BatchSize,
		UseGPU:         cfg.Embedding.UseGPU,
		QueryCacheSize: cfg.Embedding.QueryCacheSize,
		QueryCacheTTL:  cfg.Embedding.QueryCacheTTL,
	}, embedding.NewOllamaLoader(embedding.OllamaConfig{
		Host:      cfg.Embedding.OllamaHost,
		Model:     cfg.Embedding.ModelName,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}))

	search := service.NewSemanticSearchService(service.SearchConfig{
		ArtifactDir:      cfg.Index.ArtifactDir,
		Accelerator:      cfg.Index.Accelerator,
		IDDriftThreshold: cfg.Index.IDDriftThreshold,
	}, encoder, repos.Movie, repos.DB)

	if !cfg.Embedding.LazyLoad {
		warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := encoder.Warmup(warmCtx); err != nil {
			logger.Warn().Err(err).Msg("向量模型预热失败，将使用占位向量")
		}
		if err := search.Warmup(warmCtx); err != nil {
			logger.Warn().Err(err).Msg("索引加载失败，语义检索暂不可用")
		}
		cancel()
	}

	recommend := service.NewRecommendationService(service.RecommendConfig{
		DefaultLimit: cfg.Recommend.DefaultLimit,
		MaxLimit:     cfg.Recommend.MaxLimit,
		CacheTTL:     cfg.Recommend.CacheTTL,
		HistoryLimit: cfg.Recommend.HistoryLimit,
	}, repos.Movie, repos.Preference, repos.History, search)

	// 定时检查索引版本
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	service.NewIndexWatcher(cfg.Index.ArtifactDir, cfg.Index.ReloadInterval, search, recommend).Start(watchCtx)

	// 初始化 Gin 与路由
	r := router.New(cfg.Env)
	h := handler.NewHandler(cfg, search, recommend)
	router.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		logger.Info().Str("addr", "http://localhost:"+cfg.Port).Msg("服务器启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("正在关闭服务器...")
	stopWatch()

	// 5 秒超时上下文用于关闭过程
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("服务器强制关闭")
	}

	logger.Info().Msg("服务器已退出")
}
