// Package defcache caches sub-alarm definition lookups in Redis so a router seeing a
// metric stream for the first time does not always hit Postgres.
package defcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"thresholder/internal/aggregation"
	"thresholder/internal/domain"
	"thresholder/internal/events"
)

const (
	// KeyPrefix is the Redis key prefix of cached lookups.
	KeyPrefix = "thresholder:subalarms:"
	// DefaultTTL bounds how long a cached lookup may be served.
	DefaultTTL = 5 * time.Minute
)

// Cache is a read-through cache in front of a sub-alarm lookup. Redis failures fall back to
// the underlying lookup. A nil client disables caching.
type Cache struct {
	client *redis.Client
	next   aggregation.SubAlarmLookup
	ttl    time.Duration
}

// New creates a cache over next.
func New(client *redis.Client, next aggregation.SubAlarmLookup, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, next: next, ttl: ttl}
}

// CacheKey returns the Redis key of a routing key.
func CacheKey(key domain.MetricDefinitionAndTenantID) string {
	sum := sha256.Sum256([]byte(key.Key()))
	return KeyPrefix + hex.EncodeToString(sum[:16])
}

// FindSubAlarms serves the lookup from Redis when possible.
func (c *Cache) FindSubAlarms(ctx context.Context, key domain.MetricDefinitionAndTenantID) ([]*domain.SubAlarm, error) {
	if c.client == nil {
		return c.next.FindSubAlarms(ctx, key)
	}

	cacheKey := CacheKey(key)
	data, err := c.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		subAlarms, decodeErr := decode(data)
		if decodeErr == nil {
			slog.Debug("Sub-alarm lookup served from cache", "key", key.String(), "count", len(subAlarms))
			return subAlarms, nil
		}
		slog.Warn("Discarding undecodable cache entry", "key", key.String(), "error", decodeErr)
	case !errors.Is(err, redis.Nil):
		slog.Warn("Redis unavailable for sub-alarm lookup, querying storage", "key", key.String(), "error", err)
	}

	subAlarms, err := c.next.FindSubAlarms(ctx, key)
	if err != nil {
		return nil, err
	}

	payload, err := encode(subAlarms)
	if err != nil {
		slog.Warn("Failed to encode sub-alarms for cache", "key", key.String(), "error", err)
		return subAlarms, nil
	}
	if err := c.client.Set(ctx, cacheKey, payload, c.ttl).Err(); err != nil {
		slog.Warn("Failed to cache sub-alarm lookup", "key", key.String(), "error", err)
	}
	return subAlarms, nil
}

// Invalidate drops the cached lookup of key.
func (c *Cache) Invalidate(ctx context.Context, key domain.MetricDefinitionAndTenantID) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, CacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached sub-alarms: %w", err)
	}
	return nil
}

func encode(subAlarms []*domain.SubAlarm) ([]byte, error) {
	wire := make([]events.SubAlarm, len(subAlarms))
	for i, sa := range subAlarms {
		wire[i] = events.NewSubAlarm(sa)
	}
	return json.Marshal(wire)
}

func decode(data []byte) ([]*domain.SubAlarm, error) {
	var wire []events.SubAlarm
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached sub-alarms: %w", err)
	}
	subAlarms := make([]*domain.SubAlarm, 0, len(wire))
	for _, w := range wire {
		sa, err := w.ToDomain()
		if err != nil {
			return nil, err
		}
		subAlarms = append(subAlarms, sa)
	}
	return subAlarms, nil
}
