// Package cache fronts job lookups with Redis. Only terminal jobs are
// cached, since nothing about them changes afterwards. Concurrent misses for
// the same job share one load, and Redis calls go through a circuit breaker
// so an unhealthy Redis degrades to direct loads instead of slowing every
// request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/resilience"
)

const keyPrefix = "topphrases:job:"

// KV is the subset of pkg/redis.Client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Loader reads a job from the system of record.
type Loader interface {
	Get(ctx context.Context, id int64) (*jobs.Job, error)
}

// ResultCache serves job state from Redis and falls back to the store.
type ResultCache struct {
	kv      KV
	loader  Loader
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a ResultCache. m may be nil.
func New(kv KV, loader Loader, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	return &ResultCache{
		kv:     kv,
		loader: loader,
		ttl:    ttl,
		breaker: resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
		}),
		metrics: m,
		logger:  slog.Default().With("component", "job-cache"),
	}
}

// Get returns the cached job, if any.
func (c *ResultCache) Get(ctx context.Context, id int64) (*jobs.Job, bool) {
	key := buildKey(id)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.kv.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss("error")
		return nil, false
	}
	if data == nil {
		c.miss("miss")
		return nil, false
	}
	var job jobs.Job
	if err := json.Unmarshal(data, &job); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss("error")
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheResult("hit")
	return &job, true
}

// Put caches job if it is terminal.
func (c *ResultCache) Put(ctx context.Context, job *jobs.Job) {
	if job == nil || !job.Status.Terminal() {
		return
	}
	key := buildKey(job.ID)
	data, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.kv.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops the cached copy of job id.
func (c *ResultCache) Invalidate(ctx context.Context, id int64) error {
	err := c.breaker.Execute(func() error {
		return c.kv.Del(ctx, buildKey(id))
	})
	if err != nil {
		return fmt.Errorf("invalidating job %d: %w", id, err)
	}
	return nil
}

// GetJob reads job id through the cache, loading it from the Loader on a
// miss. Concurrent misses for the same id share one load.
func (c *ResultCache) GetJob(ctx context.Context, id int64) (*jobs.Job, error) {
	if job, ok := c.Get(ctx, id); ok {
		return job, nil
	}
	val, err, _ := c.group.Do(buildKey(id), func() (any, error) {
		job, err := c.loader.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, job)
		return job, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*jobs.Job), nil
}

// Stats returns the hit and miss counts since creation.
func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResultCache) miss(result string) {
	c.misses.Add(1)
	c.metrics.CacheResult(result)
}

func buildKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}
