package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"go.uber.org/zap"
)

const routeKeyPrefix = "dispatch:route:"

// RouteCache stores successful estimates.
type RouteCache interface {
	Get(ctx context.Context, key string) (Estimate, bool, error)
	Set(ctx context.Context, key string, est Estimate, ttl time.Duration) error
}

// CachedRouter serves repeated origin/destination pairs from a RouteCache.
// Only successful estimates are stored; cache errors fall through to next.
type CachedRouter struct {
	next   Router
	cache  RouteCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRouter wraps next with cache.
func NewCachedRouter(next Router, cache RouteCache, ttl time.Duration, logger *zap.Logger) *CachedRouter {
	return &CachedRouter{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedRouter) Route(ctx context.Context, origin, destination geo.Coordinates) (Estimate, error) {
	key := CacheKey(origin, destination)

	est, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("route cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return est, nil
	}

	est, err = c.next.Route(ctx, origin, destination)
	if err != nil {
		return Estimate{}, err
	}

	if err := c.cache.Set(ctx, key, est, c.ttl); err != nil {
		c.logger.Warn("route cache write failed", zap.String("key", key), zap.Error(err))
	}
	return est, nil
}

// CacheKey rounds both points to 4 decimal places (about 11 m).
func CacheKey(origin, destination geo.Coordinates) string {
	return fmt.Sprintf("%s%.4f,%.4f:%.4f,%.4f", routeKeyPrefix,
		round4(origin.Lat), round4(origin.Lng), round4(destination.Lat), round4(destination.Lng))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// RedisRouteCache is a RouteCache backed by Redis string keys with TTL.
type RedisRouteCache struct {
	redis *redis.Client
}

func NewRedisRouteCache(client *redis.Client) *RedisRouteCache {
	return &RedisRouteCache{redis: client}
}

func (r *RedisRouteCache) Get(ctx context.Context, key string) (Estimate, bool, error) {
	raw, err := r.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Estimate{}, false, nil
	}
	if err != nil {
		return Estimate{}, false, err
	}
	var est Estimate
	if err := json.Unmarshal(raw, &est); err != nil {
		return Estimate{}, false, fmt.Errorf("decode cached route: %w", err)
	}
	return est, true, nil
}

func (r *RedisRouteCache) Set(ctx context.Context, key string, est Estimate, ttl time.Duration) error {
	raw, err := json.Marshal(est)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, key, raw, ttl).Err()
}
