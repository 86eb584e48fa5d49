package threat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vigilanteye/metrics"
)

const redisKeyPrefix = "vigilanteye:reputation:"

// RedisCache is an Oracle decorator sharing verdicts across processes.
// Redis failures fall through to the wrapped oracle.
type RedisCache struct {
	next   Oracle
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// NewRedisCache connects lazily; the first lookup dials.
func NewRedisCache(next Oracle, opts RedisOptions, logger *zap.SugaredLogger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	return &RedisCache{next: next, client: client, ttl: opts.TTL, logger: logger}
}

// Ping tests the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Check serves ip from Redis or delegates to the wrapped oracle.
func (c *RedisCache) Check(ctx context.Context, ip string) Verdict {
	if ip == "" {
		return c.next.Check(ctx, ip)
	}
	key := redisKeyPrefix + ip

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v Verdict
		if jsonErr := json.Unmarshal(data, &v); jsonErr == nil {
			metrics.ReputationCacheRequests.WithLabelValues("redis", "hit").Inc()
			return v
		}
		c.logger.Warnw("Discarding undecodable cached verdict", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		metrics.ReputationCacheRequests.WithLabelValues("redis", "error").Inc()
		c.logger.Warnw("Reputation cache read failed", "key", key, "error", err)
	}
	metrics.ReputationCacheRequests.WithLabelValues("redis", "miss").Inc()

	v := c.next.Check(ctx, ip)
	if v.Status == StatusInconclusive {
		return v
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.Warnw("Reputation cache write failed", "key", key, "error", err)
	}
	return v
}
