package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/promiselink/internal/model"
)

func TestEmbeddingKey(t *testing.T) {
	a, err := EmbeddingKey("openai", "text-embedding-3-small", "housing")
	require.NoError(t, err)
	b, err := EmbeddingKey("openai", "text-embedding-3-small", "housing")
	require.NoError(t, err)
	c, err := EmbeddingKey("openai", "text-embedding-3-large", "housing")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^promiselink:emb:v1:[0-9a-f]{64}$`, a)
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.4028235e38}
	back, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, back)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestDiskCache_RoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)

	key := "promiselink:emb:v1:abc"
	require.NoError(t, c.Set(ctx, key, []byte("vector"), 0))

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("vector"), got)

	_, err := os.Stat(filepath.Join(dir, "promiselink_emb_v1_abc.cache"))
	assert.NoError(t, err)

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Nanosecond))
	time.Sleep(2 * time.Millisecond)
	_, ok = c.Get(ctx, "short")
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, key))
	require.NoError(t, c.Delete(ctx, key), "deleting a missing key is not an error")
}

func TestLayeredCache_PromotesFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, NewDiskCache(dir, time.Hour).Set(ctx, "k", []byte("v"), 0))

	c := NewLayeredCache(time.Hour, dir, time.Hour)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok = c.memory.Get(ctx, "k")
	assert.True(t, ok, "disk hit should be promoted to memory")

	require.NoError(t, c.Clear(ctx))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	c, err := Open(ctx, model.CacheConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = Open(ctx, model.CacheConfig{Backend: "memory", TTL: time.Hour})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = Open(ctx, model.CacheConfig{Backend: "layered", Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)
	assert.IsType(t, &LayeredCache{}, c)

	_, err = Open(ctx, model.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)

	_, err = Open(ctx, model.CacheConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisCache(ctx, "127.0.0.1:1", time.Minute)
	assert.Error(t, err)
}
