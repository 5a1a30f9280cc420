package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/moovie-recommender/internal/artifact"
	"github.com/user/moovie-recommender/internal/logging"
)

// Reloader 可重新加载索引的检索服务
type Reloader interface {
	Reload(ctx context.Context) (string, error)
}

// CacheFlusher 索引切换后需要清空的缓存
type CacheFlusher interface {
	FlushCache()
}

// IndexWatcher 定时检查 CURRENT 指向的版本，变化后自动重新加载
type IndexWatcher struct {
	root     string
	interval time.Duration
	search   Reloader
	caches   []CacheFlusher
	log      zerolog.Logger

	mu      sync.Mutex
	lastDir string
}

// NewIndexWatcher 创建索引版本监视器
func NewIndexWatcher(root string, interval time.Duration, search Reloader, caches ...CacheFlusher) *IndexWatcher {
	w := &IndexWatcher{
		root:     root,
		interval: interval,
		search:   search,
		caches:   caches,
		log:      logging.Component("IndexWatcher"),
	}
	if dir, err := artifact.Resolve(root); err == nil {
		w.lastDir = dir
	}
	return w
}

// Start 启动定时检查，ctx 结束时退出；interval<=0 时不启动
func (w *IndexWatcher) Start(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check(ctx)
			}
		}
	}()
	w.log.Info().Dur("interval", w.interval).Str("root", w.root).Msg("索引版本监视已启动")
}

// check 版本目录变化时重新加载，返回是否发生了切换
func (w *IndexWatcher) check(ctx context.Context) bool {
	dir, err := artifact.Resolve(w.root)
	if err != nil {
		w.log.Debug().Err(err).Msg("读取当前索引版本失败")
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if dir == w.lastDir {
		return false
	}

	version, err := w.search.Reload(ctx)
	if err != nil {
		w.log.Error().Err(err).Str("dir", dir).Msg("自动重新加载索引失败，继续使用旧版本")
		return false
	}
	w.lastDir = dir
	for _, c := range w.caches {
		c.FlushCache()
	}
	w.log.Info().Str("version", version).Msg("检测到新索引版本，已切换")
	return true
}
