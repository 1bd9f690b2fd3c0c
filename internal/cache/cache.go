package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"torrentstream/streamservice/internal/metrics"
)

const (
	defaultCapacity = 256
	storeTimeout    = 2 * time.Second
)

// TTLPolicy decides how long an outcome stays cached. Zero or negative
// means the outcome is not cached.
type TTLPolicy[V any] func(value V, err error) time.Duration

func FixedTTL[V any](ttl time.Duration) TTLPolicy[V] {
	return func(V, error) time.Duration { return ttl }
}

// OutcomeTTL caches successes for success and failures for failure.
func OutcomeTTL[V any](success, failure time.Duration) TTLPolicy[V] {
	return func(_ V, err error) time.Duration {
		if err != nil {
			return failure
		}
		return success
	}
}

type Options[V any] struct {
	Capacity int
	TTL      TTLPolicy[V]
	// Store is the durable tier. Only successful values are written to it.
	Store Store
	Codec Codec[V]
	Now   func() time.Time
}

// Cache memoizes lookups per key with outcome-based expiry. Concurrent Gets
// of the same key share one lookup.
type Cache[V any] struct {
	name  string
	ttl   TTLPolicy[V]
	store Store
	codec Codec[V]
	now   func() time.Time

	mu      sync.Mutex
	entries *lru[V]
	calls   map[string]*call[V]
}

type call[V any] struct {
	done    chan struct{}
	value   V
	err     error
	waiters int
	cancel  context.CancelFunc
}

func New[V any](name string, opts Options[V]) *Cache[V] {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.TTL == nil {
		opts.TTL = FixedTTL[V](5 * time.Minute)
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec[V]{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		name:    name,
		ttl:     opts.TTL,
		store:   opts.Store,
		codec:   opts.Codec,
		now:     opts.Now,
		entries: newLRU[V](opts.Capacity),
		calls:   make(map[string]*call[V]),
	}
}

func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the cached outcome for key or runs lookup once for all
// concurrent callers. The lookup runs detached from ctx and is cancelled
// only when every caller waiting on it has gone.
func (c *Cache[V]) Get(ctx context.Context, key string, lookup func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if entry, ok := c.entries.get(key, c.now()); ok {
		c.mu.Unlock()
		c.observe("hit")
		return entry.value, entry.err
	}
	if cl, ok := c.calls[key]; ok {
		cl.waiters++
		c.mu.Unlock()
		c.observe("shared")
		return c.wait(ctx, key, cl)
	}
	flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cl := &call[V]{done: make(chan struct{}), waiters: 1, cancel: cancel}
	c.calls[key] = cl
	c.mu.Unlock()

	go c.run(flightCtx, key, cl, lookup)
	return c.wait(ctx, key, cl)
}

func (c *Cache[V]) wait(ctx context.Context, key string, cl *call[V]) (V, error) {
	select {
	case <-cl.done:
		return cl.value, cl.err
	case <-ctx.Done():
		c.mu.Lock()
		cl.waiters--
		if cl.waiters == 0 {
			cl.cancel()
			if c.calls[key] == cl {
				delete(c.calls, key)
			}
		}
		c.mu.Unlock()
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) run(ctx context.Context, key string, cl *call[V], lookup func(context.Context) (V, error)) {
	defer cl.cancel()

	out := c.load(ctx, key, lookup)
	value, err, ttl := out.value, out.err, out.ttl
	abandoned := err != nil && ctx.Err() != nil

	c.mu.Lock()
	if c.calls[key] == cl {
		delete(c.calls, key)
	}
	if ttl > 0 && !abandoned {
		evicted := c.entries.add(&lruEntry[V]{key: key, value: value, err: err, expiresAt: c.now().Add(ttl)})
		if evicted > 0 {
			metrics.CacheEvictionsTotal.WithLabelValues(c.name).Add(float64(evicted))
		}
	}
	cl.value, cl.err = value, err
	c.mu.Unlock()
	close(cl.done)

	if err == nil && ttl > 0 && !out.fromStore {
		c.persist(key, value, ttl)
	}
}

type outcome[V any] struct {
	value     V
	err       error
	ttl       time.Duration
	fromStore bool
}

func (c *Cache[V]) load(ctx context.Context, key string, lookup func(context.Context) (V, error)) outcome[V] {
	if value, ttl, ok := c.fromStore(ctx, key); ok {
		c.observe("store_hit")
		return outcome[V]{value: value, ttl: ttl, fromStore: true}
	}
	c.observe("miss")
	value, err := safeLookup(ctx, lookup)
	return outcome[V]{value: value, err: err, ttl: c.ttl(value, err)}
}

func safeLookup[V any](ctx context.Context, lookup func(context.Context) (V, error)) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lookup panic: %v", r)
		}
	}()
	return lookup(ctx)
}

func (c *Cache[V]) fromStore(ctx context.Context, key string) (V, time.Duration, bool) {
	var zero V
	if c.store == nil {
		return zero, 0, false
	}
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	entry, ok, err := c.store.Get(storeCtx, c.storeKey(key))
	if err != nil {
		slog.Debug("cache store read failed", slog.String("cache", c.name), slog.String("error", err.Error()))
		return zero, 0, false
	}
	if !ok {
		return zero, 0, false
	}
	ttl := c.ttl(zero, nil)
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(c.now())
	}
	if ttl <= 0 {
		return zero, 0, false
	}
	value, err := c.codec.Unmarshal(entry.Value)
	if err != nil {
		slog.Debug("cache store entry undecodable", slog.String("cache", c.name), slog.String("error", err.Error()))
		return zero, 0, false
	}
	return value, ttl, true
}

func (c *Cache[V]) persist(key string, value V, ttl time.Duration) {
	if c.store == nil {
		return
	}
	data, err := c.codec.Marshal(value)
	if err != nil {
		slog.Debug("cache value not serializable", slog.String("cache", c.name), slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Set(ctx, c.storeKey(key), data, ttl); err != nil {
		slog.Debug("cache store write failed", slog.String("cache", c.name), slog.String("error", err.Error()))
	}
}

// Invalidate drops key from both tiers. A lookup already in flight is not
// affected.
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	c.entries.remove(key)
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	if err := c.store.Delete(ctx, c.storeKey(key)); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cache %s: invalidate: %w", c.name, err)
	}
	return nil
}

// Len counts in-memory entries, including expired ones not yet reclaimed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.len()
}

func (c *Cache[V]) storeKey(key string) string {
	return c.name + ":" + Fingerprint(key)
}

func (c *Cache[V]) observe(result string) {
	metrics.CacheRequestsTotal.WithLabelValues(c.name, result).Inc()
}
