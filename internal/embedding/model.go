package embedding

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrModelUnavailable 模型无法加载
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrDimensionMismatch 模型输出维度与配置不一致
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Role 文本在检索中的角色，决定编码前缀
type Role int

const (
	RoleQuery Role = iota
	RolePassage
)

const (
	queryPrefix   = "query: "
	passagePrefix = "passage: "
)

// Prefix 角色前缀
func (r Role) Prefix() string {
	if r == RolePassage {
		return passagePrefix
	}
	return queryPrefix
}

func (r Role) String() string {
	if r == RolePassage {
		return "passage"
	}
	return "query"
}

// WithPrefix 加上角色前缀；已经带有本角色前缀的文本原样返回
func WithPrefix(text string, role Role) string {
	if strings.HasPrefix(text, role.Prefix()) {
		return text
	}
	return role.Prefix() + text
}

// Backend 编码执行路径
type Backend string

const (
	BackendGPU      Backend = "gpu"
	BackendCPU      Backend = "cpu"
	BackendFallback Backend = "fallback"
)

// Model 预训练文本向量模型
type Model interface {
	// Embed 编码一批已加前缀的文本，返回未归一化的向量
	Embed(ctx context.Context, texts []string, backend Backend) ([][]float32, error)
	// SupportsGPU 探测模型是否运行在加速器上
	SupportsGPU(ctx context.Context) bool
}

// Loader 加载模型，失败时编码器进入降级模式
type Loader func(ctx context.Context) (Model, error)
