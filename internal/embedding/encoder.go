package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/metrics"
	"github.com/user/moovie-recommender/internal/utils"
)

// Config 编码器配置
type Config struct {
	ModelName string
	Dimension int
	BatchSize int
	// UseGPU auto / true / false
	UseGPU string
	// Strict 为 true 时模型不可用直接报错，离线构建索引时使用，避免把占位向量写进索引
	Strict bool

	QueryCacheSize int
	QueryCacheTTL  time.Duration
}

// Health 编码器状态
type Health struct {
	ModelName     string  `json:"model_name"`
	ModelLoaded   bool    `json:"model_loaded"`
	Degraded      bool    `json:"degraded"`
	Backend       Backend `json:"backend"`
	FallbackCalls int64   `json:"fallback_calls"`
	LoadError     string  `json:"load_error,omitempty"`
}

// Encoder 文本向量编码器
// 模型在首次使用时加载（或通过 Warmup 提前加载），加载失败或运行期编码失败时进入降级模式
type Encoder struct {
	cfg    Config
	loader Loader

	// loadMu 串行化模型加载，mu 只保护下面三个字段，加载期间 Health 不会被阻塞
	loadMu    sync.Mutex
	mu        sync.Mutex
	model     Model
	attempted bool
	loadErr   error

	backend       atomic.Value // Backend
	degraded      atomic.Bool
	fallbackCalls atomic.Int64

	queryCache *utils.TTLCache[[]float32]
	log        zerolog.Logger
}

// NewEncoder 创建编码器
func NewEncoder(cfg Config, loader Loader) *Encoder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}
	e := &Encoder{
		cfg:        cfg,
		loader:     loader,
		queryCache: utils.NewTTLCache[[]float32](cfg.QueryCacheSize, cfg.QueryCacheTTL),
		log:        logging.Component("Encoder"),
	}
	e.backend.Store(BackendCPU)
	return e
}

// Dimension 向量维度
func (e *Encoder) Dimension() int {
	return e.cfg.Dimension
}

// Backend 当前执行路径
func (e *Encoder) Backend() Backend {
	return e.backend.Load().(Backend)
}

// Warmup 立即加载模型，非懒加载模式下启动时调用
func (e *Encoder) Warmup(ctx context.Context) error {
	_, err := e.ensureModel(ctx)
	return err
}

// Health 返回编码器状态
func (e *Encoder) Health() Health {
	m, _, loadErr := e.snapshot()
	loaded := m != nil

	h := Health{
		ModelName:     e.cfg.ModelName,
		ModelLoaded:   loaded,
		Degraded:      e.degraded.Load(),
		Backend:       e.Backend(),
		FallbackCalls: e.fallbackCalls.Load(),
	}
	if loadErr != nil {
		h.LoadError = loadErr.Error()
	}
	return h
}

// Encode 按 BatchSize 顺序分批编码，输出与输入一一对应且已 L2 归一化
// 非严格模式下模型不可用时返回占位向量，只有 ctx 取消才会返回错误
func (e *Encoder) Encode(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	vecs, _, err := e.encode(ctx, texts, role)
	return vecs, err
}

// EncodeQuery 编码单条查询，真实模型的结果会被缓存
func (e *Encoder) EncodeQuery(ctx context.Context, text string) ([]float32, error) {
	key := WithPrefix(text, RoleQuery)
	if v, ok := e.queryCache.Get(key); ok {
		return v, nil
	}

	vecs, usedFallback, err := e.encode(ctx, []string{key}, RoleQuery)
	if err != nil {
		return nil, err
	}
	if !usedFallback {
		e.queryCache.Set(key, vecs[0])
	}
	return vecs[0], nil
}

func (e *Encoder) encode(ctx context.Context, texts []string, role Role) ([][]float32, bool, error) {
	if len(texts) == 0 {
		return [][]float32{}, false, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = WithPrefix(t, role)
	}

	m, err := e.ensureModel(ctx)
	if err != nil && (e.cfg.Strict || ctx.Err() != nil) {
		return nil, false, err
	}

	out := make([][]float32, 0, len(prepared))
	usedFallback := false
	for start := 0; start < len(prepared); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		end := min(start+e.cfg.BatchSize, len(prepared))

		vecs, fb, err := e.encodeBatch(ctx, m, prepared[start:end], role)
		if err != nil {
			return nil, false, err
		}
		usedFallback = usedFallback || fb
		out = append(out, vecs...)
	}
	return out, usedFallback, nil
}

func (e *Encoder) encodeBatch(ctx context.Context, m Model, batch []string, role Role) ([][]float32, bool, error) {
	if m == nil {
		return e.fallback(batch), true, nil
	}

	start := time.Now()
	backend := e.Backend()
	vecs, err := m.Embed(ctx, batch, backend)
	if err != nil && backend == BackendGPU && ctx.Err() == nil {
		e.log.Warn().Err(err).Msg("GPU 编码失败，后续改用 CPU")
		backend = BackendCPU
		e.backend.Store(BackendCPU)
		vecs, err = m.Embed(ctx, batch, BackendCPU)
	}
	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("model returned %d vectors for %d texts", len(vecs), len(batch))
	}
	if err == nil {
		for _, v := range vecs {
			if len(v) != e.cfg.Dimension {
				err = fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), e.cfg.Dimension)
				break
			}
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		if e.cfg.Strict {
			return nil, false, fmt.Errorf("encode batch failed: %w", err)
		}
		e.log.Error().Err(err).Int("batch", len(batch)).Msg("编码失败，使用占位向量")
		e.setDegraded(true)
		return e.fallback(batch), true, nil
	}
	e.setDegraded(false)

	for _, v := range vecs {
		utils.NormalizeL2(v)
	}
	metrics.EncodeDuration.WithLabelValues(role.String(), string(backend)).Observe(time.Since(start).Seconds())
	return vecs, false, nil
}

func (e *Encoder) fallback(batch []string) [][]float32 {
	out := make([][]float32, len(batch))
	for i, text := range batch {
		out[i] = fallbackVector(text, e.cfg.Dimension)
	}
	e.fallbackCalls.Add(int64(len(batch)))
	metrics.FallbackEncodes.Add(float64(len(batch)))
	return out
}

// ensureModel 加载一次模型；ctx 取消导致的失败不记为加载失败，下次调用会重试
func (e *Encoder) ensureModel(ctx context.Context) (Model, error) {
	if m, attempted, err := e.snapshot(); attempted {
		return m, err
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if m, attempted, err := e.snapshot(); attempted {
		return m, err
	}
	if e.loader == nil {
		return nil, e.markDegraded(errors.New("no model loader configured"))
	}

	m, err := e.loader(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.markDegraded(err)
	}

	backend := e.selectBackend(ctx, m)
	e.backend.Store(backend)
	e.mu.Lock()
	e.attempted = true
	e.model = m
	e.mu.Unlock()
	e.log.Info().Str("model", e.cfg.ModelName).Str("backend", string(backend)).Msg("编码器就绪")
	return m, nil
}

func (e *Encoder) snapshot() (Model, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model, e.attempted, e.loadErr
}

// markDegraded 记录加载失败，调用方持有 e.loadMu
func (e *Encoder) markDegraded(err error) error {
	loadErr := fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	e.mu.Lock()
	e.attempted = true
	e.loadErr = loadErr
	e.mu.Unlock()

	e.degraded.Store(true)
	e.backend.Store(BackendFallback)
	metrics.EncoderDegraded.Set(1)
	e.log.Error().Err(err).Str("model", e.cfg.ModelName).Msg("模型加载失败，进入降级模式")
	return loadErr
}

// setDegraded 模型已加载时按最近一批的编码结果切换降级标记
func (e *Encoder) setDegraded(on bool) {
	if !e.degraded.CompareAndSwap(!on, on) {
		return
	}
	if on {
		metrics.EncoderDegraded.Set(1)
		e.log.Warn().Str("model", e.cfg.ModelName).Msg("模型编码失败，进入降级模式")
		return
	}
	metrics.EncoderDegraded.Set(0)
	e.log.Info().Str("model", e.cfg.ModelName).Msg("模型编码恢复")
}

// selectBackend 只在加载时探测一次
func (e *Encoder) selectBackend(ctx context.Context, m Model) Backend {
	switch e.cfg.UseGPU {
	case "false":
		return BackendCPU
	case "true":
		if m.SupportsGPU(ctx) {
			return BackendGPU
		}
		e.log.Warn().Msg("配置要求使用 GPU，但模型未运行在显存中，改用 CPU")
		return BackendCPU
	default:
		if m.SupportsGPU(ctx) {
			return BackendGPU
		}
		return BackendCPU
	}
}
