package threat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingOracle struct {
	calls   atomic.Int32
	verdict Verdict
}

func (o *countingOracle) Check(ctx context.Context, ip string) Verdict {
	o.calls.Add(1)
	if ip == "" {
		return Inconclusive(KindNoAddress, "")
	}
	return o.verdict
}

func TestLRUCacheServesRepeatLookups(t *testing.T) {
	inner := &countingOracle{verdict: Verdict{Status: StatusMalicious, Score: 90, Kind: KindNone}}
	c := NewLRUCache(inner, 16, time.Minute)

	first := c.Check(context.Background(), "1.2.3.4")
	second := c.Check(context.Background(), "1.2.3.4")

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestLRUCacheSkipsInconclusive(t *testing.T) {
	inner := &countingOracle{verdict: Inconclusive(KindTimeout, "slow")}
	c := NewLRUCache(inner, 16, time.Minute)

	c.Check(context.Background(), "1.2.3.4")
	c.Check(context.Background(), "1.2.3.4")

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestLRUCacheExpires(t *testing.T) {
	inner := &countingOracle{verdict: Verdict{Status: StatusClean, Score: 0, Kind: KindNone}}
	c := NewLRUCache(inner, 16, 20*time.Millisecond)

	c.Check(context.Background(), "1.2.3.4")
	time.Sleep(60 * time.Millisecond)
	c.Check(context.Background(), "1.2.3.4")

	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestLRUCacheEmptyAddressPassesThrough(t *testing.T) {
	inner := &countingOracle{verdict: Verdict{Status: StatusClean, Kind: KindNone}}
	c := NewLRUCache(inner, 16, time.Minute)

	v := c.Check(context.Background(), "")
	assert.Equal(t, KindNoAddress, v.Kind)
	assert.Equal(t, 0, c.Len())
}

func TestRedisCacheSharesVerdicts(t *testing.T) {
	mr := miniredis.RunT(t)

	inner := &countingOracle{verdict: Verdict{Status: StatusSuspicious, Score: 45, Kind: KindNone}}
	logger := zaptest.NewLogger(t).Sugar()

	c1 := NewRedisCache(inner, RedisOptions{Addr: mr.Addr(), PoolSize: 2, TTL: time.Minute}, logger)
	defer c1.Close()
	c2 := NewRedisCache(inner, RedisOptions{Addr: mr.Addr(), PoolSize: 2, TTL: time.Minute}, logger)
	defer c2.Close()

	require.NoError(t, c1.Ping(context.Background()))

	v1 := c1.Check(context.Background(), "9.9.9.9")
	v2 := c2.Check(context.Background(), "9.9.9.9")

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.True(t, mr.Exists(redisKeyPrefix+"9.9.9.9"))

	ttl := mr.TTL(redisKeyPrefix + "9.9.9.9")
	assert.Equal(t, time.Minute, ttl)
}

func TestRedisCacheSkipsInconclusive(t *testing.T) {
	mr := miniredis.RunT(t)

	inner := &countingOracle{verdict: Inconclusive(KindRateLimited, "")}
	c := NewRedisCache(inner, RedisOptions{Addr: mr.Addr()}, zaptest.NewLogger(t).Sugar())
	defer c.Close()

	c.Check(context.Background(), "9.9.9.9")
	assert.False(t, mr.Exists(redisKeyPrefix+"9.9.9.9"))
}

func TestRedisCacheFallsThroughWhenUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	inner := &countingOracle{verdict: Verdict{Status: StatusMalicious, Score: 99, Kind: KindNone}}
	c := NewRedisCache(inner, RedisOptions{Addr: addr}, zaptest.NewLogger(t).Sugar())
	defer c.Close()

	v := c.Check(context.Background(), "9.9.9.9")
	assert.Equal(t, StatusMalicious, v.Status)
	assert.Equal(t, int32(1), inner.calls.Load())
}
