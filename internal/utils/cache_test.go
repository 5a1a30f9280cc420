package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTLCache[int](10, 20*time.Millisecond)
	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheEvictsOldest(t *testing.T) {
	c := NewTTLCache[string](2, 0)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := NewTTLCache[int](0, time.Minute)
	assert.Nil(t, c)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestNormalizeL2(t *testing.T) {
	v := NormalizeL2([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)

	zero := NormalizeL2([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 2.0, SquaredL2([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Equal(t, float32(0), SquaredL2([]float32{0.5, 0.5}, []float32{0.5, 0.5}))
}
