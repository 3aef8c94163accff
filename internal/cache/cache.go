package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/util"
)

// Cache defines the interface for caching
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// EmbeddingKey derives the cache key of an embedding from the canonical JSON of
// (provider, model, text), so the same text embedded by two models never collides.
func EmbeddingKey(provider, modelName, text string) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"provider": provider,
		"model":    modelName,
		"text":     text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal embedding key: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize embedding key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "promiselink:emb:v1:" + hex.EncodeToString(sum[:]), nil
}

// EncodeVector packs an embedding as little-endian float32s
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector reverses EncodeVector
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}

// Open builds the cache selected by cfg. Backend "none" returns nil.
func Open(ctx context.Context, cfg model.CacheConfig) (Cache, error) {
	dir := util.ExpandHome(cfg.Dir)

	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(cfg.TTL, 10*time.Minute), nil
	case "disk":
		return NewDiskCache(dir, cfg.TTL), nil
	case "layered":
		return NewLayeredCache(cfg.TTL, dir, cfg.TTL), nil
	case "redis":
		rc, err := NewRedisCache(ctx, cfg.RedisAddr, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: none, memory, disk, layered, redis)", cfg.Backend)
	}
}

