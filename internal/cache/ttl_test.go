package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache(t *testing.T) {
	now := time.Now()
	c := NewTTLWithClock[string, string](func() time.Time { return now })

	c.Set("key1", "value1", 30*time.Second)
	v, ok := c.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", v)

	now = now.Add(31 * time.Second)
	v, ok = c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestTTLCacheMiss(t *testing.T) {
	c := NewTTL[string, int]()
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestTTLCacheReplace(t *testing.T) {
	c := NewTTL[string, int]()
	c.Set("k", 1, time.Minute)
	c.Set("k", 2, time.Minute)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
