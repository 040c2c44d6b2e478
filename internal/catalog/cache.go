// Package catalog aggregates external product/hotel search providers behind
// a uniform contract and shields them with a short-TTL redis cache.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Snapshot is one cached search result envelope. Entries past ExpiresAt are
// treated as absent on normal reads but stay in redis (up to the hard TTL)
// so they can serve as a stale-while-error fallback.
type Snapshot struct {
	Source    string          `json:"source"`
	Key       string          `json:"key"`
	Query     string          `json:"query"`
	Result    json.RawMessage `json:"result"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type Cache struct {
	rdb     *redis.Client
	hardTTL time.Duration
	log     *zap.Logger
}

// NewCache creates the search cache. hardTTL bounds how long an expired
// entry remains eligible for stale reads.
func NewCache(rdb *redis.Client, hardTTL time.Duration, log *zap.Logger) *Cache {
	if hardTTL <= 0 {
		hardTTL = 24 * time.Hour
	}
	return &Cache{rdb: rdb, hardTTL: hardTTL, log: log}
}

// KeyFor derives a deterministic key from normalized query parameters so
// that equivalent queries collide.
func KeyFor(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs,
			strings.ToLower(strings.TrimSpace(k))+"="+strings.ToLower(strings.TrimSpace(v)))
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return fmt.Sprintf("%x", sum[:8])
}

func (c *Cache) redisKey(source, key string) string {
	return "catalog:" + source + ":" + key
}

// Get returns a live snapshot or nil on miss/expiry.
func (c *Cache) Get(ctx context.Context, source, key string) (*Snapshot, error) {
	snap, err := c.fetch(ctx, source, key)
	if err != nil || snap == nil {
		return nil, err
	}
	if time.Now().After(snap.ExpiresAt) {
		return nil, nil
	}
	return snap, nil
}

// GetStale returns a snapshot regardless of soft expiry; used only when a
// live provider call has already failed.
func (c *Cache) GetStale(ctx context.Context, source, key string) (*Snapshot, error) {
	return c.fetch(ctx, source, key)
}

func (c *Cache) fetch(ctx context.Context, source, key string) (*Snapshot, error) {
	val, err := c.rdb.Get(ctx, c.redisKey(source, key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return &snap, nil
}

// Put stores a snapshot best-effort; a write failure is logged, never
// surfaced to the request path.
func (c *Cache) Put(ctx context.Context, source, key, query string, result interface{}, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		c.log.Warn("cache marshal failed", zap.String("source", source), zap.Error(err))
		return
	}

	now := time.Now()
	snap := Snapshot{
		Source:    source,
		Key:       key,
		Query:     query,
		Result:    data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	payload, _ := json.Marshal(snap)

	if err := c.rdb.Set(ctx, c.redisKey(source, key), payload, c.hardTTL).Err(); err != nil {
		c.log.Warn("cache write failed",
			zap.String("source", source),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
