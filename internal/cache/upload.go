package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/r2gen/internal/config"
	"github.com/redis/go-redis/v9"
)

const uploadKeyPrefix = "r2gen:upload:"

// UploadCache remembers the public URL of objects that were already uploaded from
// an unchanged local file, so repeated batch runs can skip the put.
type UploadCache interface {
	Get(ctx context.Context, objectKey, fingerprint string) (string, bool, error)
	Set(ctx context.Context, objectKey, fingerprint, publicURL string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

type uploadEntry struct {
	Fingerprint string `json:"fingerprint"`
	PublicURL   string `json:"public_url"`
}

type redisUploadCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopUploadCache struct{}

func NewUploadCache(cfg config.CacheConfig) (UploadCache, error) {
	if !cfg.Enabled {
		return &noopUploadCache{}, nil
	}

	client, ttl, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	return &redisUploadCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func NewNoopUploadCache() UploadCache {
	return &noopUploadCache{}
}

func (c *redisUploadCache) Get(ctx context.Context, objectKey, fingerprint string) (string, bool, error) {
	payload, err := c.client.Get(ctx, buildUploadKey(objectKey)).Bytes()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}

	var entry uploadEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return "", false, fmt.Errorf("decode upload cache entry: %w", err)
	}
	if entry.Fingerprint != fingerprint {
		return "", false, nil
	}

	return entry.PublicURL, true, nil
}

func (c *redisUploadCache) Set(ctx context.Context, objectKey, fingerprint, publicURL string) error {
	payload, err := json.Marshal(uploadEntry{Fingerprint: fingerprint, PublicURL: publicURL})
	if err != nil {
		return fmt.Errorf("encode upload cache entry: %w", err)
	}

	if err := c.client.Set(ctx, buildUploadKey(objectKey), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

func (c *redisUploadCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	return deleteKeysWithPrefix(ctx, c.client, buildUploadKey(prefix), scanBatchSize)
}

func (n *noopUploadCache) Get(ctx context.Context, objectKey, fingerprint string) (string, bool, error) {
	return "", false, nil
}

func (n *noopUploadCache) Set(ctx context.Context, objectKey, fingerprint, publicURL string) error {
	return nil
}

func (n *noopUploadCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	return nil
}

func buildUploadKey(objectKey string) string {
	return uploadKeyPrefix + objectKey
}
