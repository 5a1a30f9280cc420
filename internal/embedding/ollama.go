package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/utils"
)

// OllamaConfig Ollama 向量服务配置
type OllamaConfig struct {
	Host      string
	Model     string
	Dimension int
	Timeout   time.Duration
	// ProbeRetries 加载探测的最大重试次数
	ProbeRetries uint64
}

// embedRequest Ollama /api/embed 请求结构
type embedRequest struct {
	Model    string         `json:"model"`
	Input    []string       `json:"input"`
	Truncate bool           `json:"truncate"`
	Options  map[string]any `json:"options,omitempty"`
}

// embedResponse Ollama /api/embed 响应结构
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type psResponse struct {
	Models []struct {
		Name     string `json:"name"`
		Model    string `json:"model"`
		SizeVRAM int64  `json:"size_vram"`
	} `json:"models"`
}

// OllamaModel 调用本地 Ollama 服务生成向量
type OllamaModel struct {
	host    string
	name    string
	dim     int
	client  *utils.HTTPClient
	breaker *gobreaker.CircuitBreaker[[][]float32]
	log     zerolog.Logger
}

// NewOllamaModel 创建 Ollama 客户端，连续失败 5 次后熔断 30 秒
func NewOllamaModel(cfg OllamaConfig) *OllamaModel {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	log := logging.Component("Ollama")
	breaker := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "ollama-embed",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("熔断器状态变化")
		},
	})

	return &OllamaModel{
		host:    host,
		name:    cfg.Model,
		dim:     cfg.Dimension,
		client:  utils.NewHTTPClient(cfg.Timeout),
		breaker: breaker,
		log:     log,
	}
}

// NewOllamaLoader 返回加载器：创建客户端并用一次探测请求确认模型可用
func NewOllamaLoader(cfg OllamaConfig) Loader {
	return func(ctx context.Context) (Model, error) {
		m := NewOllamaModel(cfg)

		retries := cfg.ProbeRetries
		if retries == 0 {
			retries = 3
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxElapsedTime = 30 * time.Second

		ping := func() error {
			_, err := m.embed(ctx, []string{passagePrefix + "ping"}, BackendGPU)
			if errors.Is(err, ErrDimensionMismatch) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
			return nil, fmt.Errorf("check model %s failed: %w", cfg.Model, err)
		}

		m.log.Info().Str("model", cfg.Model).Str("host", m.host).Msg("向量模型加载完成")
		return m, nil
	}
}

// Embed 批量编码，经过熔断器
func (m *OllamaModel) Embed(ctx context.Context, texts []string, backend Backend) ([][]float32, error) {
	return m.breaker.Execute(func() ([][]float32, error) {
		return m.embed(ctx, texts, backend)
	})
}

func (m *OllamaModel) embed(ctx context.Context, texts []string, backend Backend) ([][]float32, error) {
	reqBody := embedRequest{
		Model:    m.name,
		Input:    texts,
		Truncate: true,
	}
	if backend == BackendCPU {
		// num_gpu=0 强制 Ollama 在 CPU 上运行
		reqBody.Options = map[string]any{"num_gpu": 0}
	}

	var result embedResponse
	if err := m.client.PostJSON(ctx, m.host+"/api/embed", reqBody, &result); err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}
	if m.dim > 0 {
		for _, v := range result.Embeddings {
			if len(v) != m.dim {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), m.dim)
			}
		}
	}
	return result.Embeddings, nil
}

// SupportsGPU 通过 /api/ps 查看模型是否加载到显存
func (m *OllamaModel) SupportsGPU(ctx context.Context) bool {
	var ps psResponse
	if err := m.client.GetJSON(ctx, m.host+"/api/ps", &ps); err != nil {
		m.log.Debug().Err(err).Msg("查询模型运行状态失败")
		return false
	}
	for _, running := range ps.Models {
		if sameModel(running.Name, m.name) || sameModel(running.Model, m.name) {
			return running.SizeVRAM > 0
		}
	}
	return false
}

// sameModel 比较模型名，忽略默认的 :latest 标签
func sameModel(a, b string) bool {
	return strings.TrimSuffix(a, ":latest") == strings.TrimSuffix(b, ":latest")
}
