package search

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
)

const (
	defaultSourceTimeout  = 15 * time.Second
	defaultRunTimeout     = 30 * time.Second
	defaultResultCapacity = 16
	maxConcurrentPreloads = 3

	richResultThreshold = 5
)

// errRunThrottled marks a run in which the source rate limit skipped pairs.
// Its streams are returned but never cached.
var errRunThrottled = errors.New("source rate limit skipped queries")

// Engine turns stream requests into ranked candidate lists by fanning out to
// the registered sources.
type Engine struct {
	registry *Registry
	metadata MetadataProvider
	files    FileLister
	tracer   trace.Tracer

	sourceTimeout  time.Duration
	runTimeout     time.Duration
	resultStore    cache.Store
	resultCapacity int
	cacheDisabled  bool
	results        *cache.Cache[[]domain.CandidateStream]

	preload    bool
	preloadSem *semaphore.Weighted
	bgMu       sync.RWMutex
	bgCtx      context.Context

	healthMu sync.Mutex
	health   map[string]*sourceHealth

	limiterMu   sync.Mutex
	limiters    map[string]*rate.Limiter
	sourceRate  rate.Limit
	sourceBurst int
}

type Option func(*Engine)

func WithMetadata(provider MetadataProvider) Option {
	return func(e *Engine) {
		e.metadata = provider
	}
}

func WithFileLister(files FileLister) Option {
	return func(e *Engine) {
		e.files = files
	}
}

func WithSourceTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.sourceTimeout = timeout
		}
	}
}

func WithRunTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.runTimeout = timeout
		}
	}
}

// WithResultStore persists aggregated results in a durable tier.
func WithResultStore(store cache.Store) Option {
	return func(e *Engine) {
		e.resultStore = store
	}
}

func WithResultCapacity(capacity int) Option {
	return func(e *Engine) {
		if capacity > 0 {
			e.resultCapacity = capacity
		}
	}
}

func WithResultCacheDisabled(disabled bool) Option {
	return func(e *Engine) {
		e.cacheDisabled = disabled
	}
}

// WithSourceRateLimit caps calls per source across runs. A non-positive rps
// disables it, which is the default; sources pace themselves.
func WithSourceRateLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		e.sourceRate = rate.Limit(rps)
		e.sourceBurst = max(burst, 1)
	}
}

// WithPreload warms the next episode after every series request.
func WithPreload(enabled bool) Option {
	return func(e *Engine) {
		e.preload = enabled
	}
}

func NewEngine(registry *Registry, opts ...Option) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{
		registry:       registry,
		tracer:         otel.Tracer("torrentstream/streamservice/search"),
		sourceTimeout:  defaultSourceTimeout,
		runTimeout:     defaultRunTimeout,
		resultCapacity: defaultResultCapacity,
		preloadSem:     semaphore.NewWeighted(maxConcurrentPreloads),
		bgCtx:          context.Background(),
		health:         make(map[string]*sourceHealth),
		limiters:       make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.cacheDisabled {
		e.results = cache.New("results", cache.Options[[]domain.CandidateStream]{
			Capacity: e.resultCapacity,
			TTL:      resultTTL,
			Store:    e.resultStore,
		})
	}
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// StartBackground ties background work such as preloading to ctx.
func (e *Engine) StartBackground(ctx context.Context) {
	e.bgMu.Lock()
	e.bgCtx = ctx
	e.bgMu.Unlock()
}

func (e *Engine) background() context.Context {
	e.bgMu.RLock()
	defer e.bgMu.RUnlock()
	return e.bgCtx
}

// resultTTL keeps rich results for days and thin ones for hours, so new
// releases get picked up. Failed runs are retried after a minute.
func resultTTL(streams []domain.CandidateStream, err error) time.Duration {
	switch {
	case errors.Is(err, errRunThrottled):
		return 0
	case err != nil:
		return time.Minute
	case len(streams) > richResultThreshold:
		return 72 * time.Hour
	default:
		return 6 * time.Hour
	}
}

// Aggregate returns the ranked streams for req. Provider failures never
// surface here; only an invalid request or an engine without sources
// yields an error.
func (e *Engine) Aggregate(ctx context.Context, req domain.StreamRequest, baseURL *url.URL) ([]domain.CandidateStream, error) {
	streams, err := e.aggregate(ctx, req, baseURL)
	if err != nil {
		return nil, err
	}
	e.preloadNext(req, baseURL)
	return streams, nil
}

func (e *Engine) aggregate(ctx context.Context, req domain.StreamRequest, baseURL *url.URL) ([]domain.CandidateStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.results == nil {
		streams, err := e.run(ctx, req, baseURL)
		if errors.Is(err, errRunThrottled) {
			err = nil
		}
		return streams, err
	}
	base := ""
	if baseURL != nil {
		base = baseURL.String()
	}
	streams, err := e.results.Get(ctx, cache.Fingerprint(req.CacheKey(), base), func(ctx context.Context) ([]domain.CandidateStream, error) {
		return e.run(ctx, req, baseURL)
	})
	if err != nil && !errors.Is(err, errRunThrottled) {
		return nil, err
	}
	return slices.Clone(streams), nil
}
