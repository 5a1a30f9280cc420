package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config 日志配置
type Config struct {
	Level  string
	Format string // json / console
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init 初始化全局日志
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger 返回全局日志实例
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component 返回带组件名的子日志，输出形如 component=Encoder
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// SetLogger 替换全局日志（测试用）
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
