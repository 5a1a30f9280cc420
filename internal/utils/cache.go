package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheItem 包装实际的数据，增加过期时间
type CacheItem[T any] struct {
	Value     T
	ExpiredAt time.Time
}

// TTLCache 带过期时间的 LRU 缓存，线程安全
type TTLCache[T any] struct {
	storage *lru.Cache[string, CacheItem[T]]
	ttl     time.Duration
}

// NewTTLCache size 是最大缓存条数，ttl<=0 表示不过期；size<=0 返回 nil（调用方视为关闭缓存）
func NewTTLCache[T any](size int, ttl time.Duration) *TTLCache[T] {
	if size <= 0 {
		return nil
	}
	c, _ := lru.New[string, CacheItem[T]](size)
	return &TTLCache[T]{
		storage: c,
		ttl:     ttl,
	}
}

// Set 写入或覆盖
func (c *TTLCache[T]) Set(key string, value T) {
	if c == nil {
		return
	}
	item := CacheItem[T]{Value: value}
	if c.ttl > 0 {
		item.ExpiredAt = time.Now().Add(c.ttl)
	}
	c.storage.Add(key, item)
}

// Get 读取，过期的条目会被顺手删除
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	item, ok := c.storage.Get(key)
	if !ok {
		return zero, false
	}

	if !item.ExpiredAt.IsZero() && time.Now().After(item.ExpiredAt) {
		c.storage.Remove(key)
		return zero, false
	}

	return item.Value, true
}

// Len 当前条数
func (c *TTLCache[T]) Len() int {
	if c == nil {
		return 0
	}
	return c.storage.Len()
}
