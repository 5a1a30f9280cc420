package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config 应用配置
type Config struct {
	Env         string `validate:"oneof=development production test"`
	DatabaseURL string `validate:"required"`
	Port        string `validate:"required,numeric"`
	AdminToken  string

	Log       LogConfig
	Embedding EmbeddingConfig
	Index     IndexConfig
	Recommend RecommendConfig
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// EmbeddingConfig 向量模型配置
type EmbeddingConfig struct {
	OllamaHost string `validate:"required,url"`
	ModelName  string `validate:"required"`
	Dimension  int    `validate:"gt=0"`
	// UseGPU auto / true / false
	UseGPU    string        `validate:"oneof=auto true false"`
	BatchSize int           `validate:"gt=0"`
	LazyLoad  bool          `validate:"-"`
	Timeout   time.Duration `validate:"gt=0"`

	QueryCacheSize int           `validate:"gte=0"`
	QueryCacheTTL  time.Duration `validate:"gte=0"`
}

// IndexConfig 向量索引配置
type IndexConfig struct {
	ArtifactDir string `validate:"required"`
	// Accelerator none / pgvector
	Accelerator      string  `validate:"oneof=none pgvector"`
	IDDriftThreshold float64 `validate:"gte=0,lte=1"`
	// ReloadInterval 检查 CURRENT 版本的间隔，0 表示只能通过管理接口切换
	ReloadInterval time.Duration `validate:"gte=0"`
}

// RecommendConfig 推荐服务配置
type RecommendConfig struct {
	CacheTTL     time.Duration `validate:"gte=0"`
	DefaultLimit int           `validate:"gt=0"`
	MaxLimit     int           `validate:"gtefield=DefaultLimit"`
	HistoryLimit int           `validate:"gt=0"`
}

// Load 加载配置
func Load() (*Config, error) {
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "moovie")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := getEnv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL))

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: dbURL,
		Port:        getEnv("PORT", "5005"),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Embedding: EmbeddingConfig{
			OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
			ModelName:      getEnv("EMBEDDER_MODEL_NAME", "jeffh/intfloat-multilingual-e5-large-instruct:f16"),
			Dimension:      getEnvInt("EMBEDDING_DIM", 1024),
			UseGPU:         strings.ToLower(getEnv("USE_GPU", "auto")),
			BatchSize:      getEnvInt("EMBED_BATCH_SIZE", 32),
			LazyLoad:       getEnvBool("LAZY_LOAD_MODEL", true),
			Timeout:        getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
			QueryCacheSize: getEnvInt("SEARCH_CACHE_SIZE", 1000),
			QueryCacheTTL:  getEnvDuration("SEARCH_CACHE_TTL", time.Hour),
		},
		Index: IndexConfig{
			ArtifactDir:      getEnv("ARTIFACT_DIR", "./data/index"),
			Accelerator:      strings.ToLower(getEnv("INDEX_ACCELERATOR", "none")),
			IDDriftThreshold: getEnvFloat("ID_DRIFT_THRESHOLD", 0.2),
			ReloadInterval:   getEnvDuration("INDEX_RELOAD_INTERVAL", 0),
		},
		Recommend: RecommendConfig{
			CacheTTL:     getEnvDuration("RECOMMEND_CACHE_TTL", 5*time.Minute),
			DefaultLimit: getEnvInt("RECOMMEND_DEFAULT_LIMIT", 10),
			MaxLimit:     getEnvInt("RECOMMEND_MAX_LIMIT", 100),
			HistoryLimit: getEnvInt("RECOMMEND_HISTORY_LIMIT", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration 支持 "30s" 形式，也支持纯数字（秒）
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
