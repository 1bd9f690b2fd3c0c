package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FetchFunc resolves a batch of keys. Keys missing from the result map are
// reported to their callers as not found.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

type Options struct {
	// Window is how long keys are collected before a fetch.
	Window time.Duration
	// MaxBatch flushes early once this many distinct keys are pending.
	MaxBatch int
	// Timeout bounds each fetch.
	Timeout time.Duration
	// OnFlush is called with the size of every batch sent.
	OnFlush func(size int)
}

// Loader coalesces individual key lookups into batched fetches.
type Loader[K comparable, V any] struct {
	fetch FetchFunc[K, V]
	opts  Options

	mu      sync.Mutex
	pending *pendingBatch[K, V]
}

type pendingBatch[K comparable, V any] struct {
	keys    []K
	seen    map[K]struct{}
	timer   *time.Timer
	flushed bool
	done    chan struct{}
	results map[K]V
	err     error
}

func NewLoader[K comparable, V any](fetch FetchFunc[K, V], opts Options) *Loader[K, V] {
	if opts.Window <= 0 {
		opts.Window = 150 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Loader[K, V]{fetch: fetch, opts: opts}
}

// Load waits for the batch containing key and returns its value. The
// boolean is false when the fetch did not return the key.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, bool, error) {
	l.mu.Lock()
	b := l.pending
	if b == nil {
		b = &pendingBatch[K, V]{seen: make(map[K]struct{}), done: make(chan struct{})}
		b.timer = time.AfterFunc(l.opts.Window, func() { l.flushExpired(b) })
		l.pending = b
	}
	if _, ok := b.seen[key]; !ok {
		b.seen[key] = struct{}{}
		b.keys = append(b.keys, key)
	}
	if len(b.keys) >= l.opts.MaxBatch {
		keys := l.detach(b)
		go l.send(b, keys)
	}
	l.mu.Unlock()

	select {
	case <-b.done:
		if b.err != nil {
			var zero V
			return zero, false, b.err
		}
		v, ok := b.results[key]
		return v, ok, nil
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

func (l *Loader[K, V]) flushExpired(b *pendingBatch[K, V]) {
	l.mu.Lock()
	if b.flushed {
		l.mu.Unlock()
		return
	}
	keys := l.detach(b)
	l.mu.Unlock()
	l.send(b, keys)
}

// detach closes b to new keys. Callers hold l.mu.
func (l *Loader[K, V]) detach(b *pendingBatch[K, V]) []K {
	b.flushed = true
	if l.pending == b {
		l.pending = nil
	}
	b.timer.Stop()
	return b.keys
}

// send runs the fetch and releases every waiter of b, even when the fetch
// panics.
func (l *Loader[K, V]) send(b *pendingBatch[K, V], keys []K) {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			b.results = nil
			b.err = fmt.Errorf("batch fetch panic: %v", r)
		}
	}()

	if l.opts.OnFlush != nil {
		l.opts.OnFlush(len(keys))
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.Timeout)
	defer cancel()
	b.results, b.err = l.fetch(ctx, keys)
}
