package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/debrid/realdebrid"
	"torrentstream/streamservice/internal/metadata"
	"torrentstream/streamservice/internal/providers/btdig"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/providers/eztv"
	"torrentstream/streamservice/internal/providers/nyaa"
	"torrentstream/streamservice/internal/providers/rargb"
	"torrentstream/streamservice/internal/providers/torznab"
	"torrentstream/streamservice/internal/providers/tpb"
	"torrentstream/streamservice/internal/providers/x1337"
	"torrentstream/streamservice/internal/providers/yts"
	"torrentstream/streamservice/internal/search"
	"torrentstream/streamservice/internal/torrentmeta"
)

const sqlitePruneInterval = 30 * time.Minute

// Runtime is the wired engine and its collaborators, shared by the HTTP
// server and the operator CLI.
type Runtime struct {
	Engine    *search.Engine
	Manifests *torrentmeta.Fetcher
	// Links is nil when no Real-Debrid key is configured.
	Links *realdebrid.Resolver

	logger  *slog.Logger
	store   cache.Store
	sqlite  *cache.SQLiteStore
	closing []func() error
}

// Build wires sources, metadata, manifests and debrid into an engine.
// Durable cache failures degrade to memory-only caching.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{logger: logger}
	if !cfg.CacheDisabled {
		rt.openStore(ctx, cfg)
	}

	client := common.NewHTTPClient(cfg.SourceTimeout)
	registry := search.NewRegistry()
	for _, src := range rt.sources(cfg, client) {
		registry.RegisterSource(src)
		logger.Info("source registered", slog.String("source", src.Name()))
	}

	cinemeta := metadata.NewCinemeta(metadata.CinemetaConfig{
		BaseURL:   cfg.CinemetaBaseURL,
		UserAgent: cfg.UserAgent,
		Client:    client,
		Store:     rt.store,
	})
	tvdb := metadata.NewTVDB(metadata.TVDBConfig{
		APIKey:    cfg.TVDBAPIKey,
		BaseURL:   cfg.TVDBBaseURL,
		UserAgent: cfg.UserAgent,
		Client:    client,
		Store:     rt.store,
	})
	if !tvdb.Enabled() {
		logger.Info("tvdb api key not configured, absolute numbering uses the episode listing")
	}

	rt.Manifests = torrentmeta.NewFetcher(torrentmeta.Config{
		BaseURL:   cfg.TorrentMetaBaseURL,
		UserAgent: cfg.UserAgent,
		Client:    client,
		Store:     rt.store,
	})

	if key := strings.TrimSpace(cfg.RealDebridAPIKey); key != "" {
		rd := realdebrid.NewClient(key, cfg.RealDebridBaseURL, nil)
		registry.RegisterEmbellisher(realdebrid.NewEmbellisher(rd, realdebrid.Options{
			BatchWindow: cfg.RealDebridBatchWindow,
			Store:       rt.store,
		}))
		rt.Links = realdebrid.NewResolver(rd)
		logger.Info("real-debrid enabled", slog.Duration("batchWindow", cfg.RealDebridBatchWindow))
	}

	opts := []search.Option{
		search.WithMetadata(metadata.NewResolver(cinemeta, tvdb)),
		search.WithFileLister(rt.Manifests),
		search.WithSourceTimeout(cfg.SourceTimeout),
		search.WithRunTimeout(cfg.AggregateTimeout),
		search.WithResultCapacity(cfg.CacheMemoryCapacity),
		search.WithResultCacheDisabled(cfg.CacheDisabled),
		search.WithPreload(cfg.PreloadNextEpisode),
		search.WithSourceRateLimit(float64(cfg.SourceRateLimitRPS), cfg.SourceRateLimitBurst),
	}
	if rt.store != nil {
		opts = append(opts, search.WithResultStore(rt.store))
	}
	rt.Engine = search.NewEngine(registry, opts...)
	return rt
}

func (rt *Runtime) sources(cfg Config, client *http.Client) []search.Source {
	var out []search.Source
	for _, name := range cfg.SourcesEnabled {
		switch name {
		case "tpb":
			out = append(out, tpb.NewProvider(tpb.Config{Endpoint: cfg.TPBEndpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "yts":
			out = append(out, yts.NewProvider(yts.Config{Endpoint: cfg.YTSEndpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "eztv":
			out = append(out, eztv.NewProvider(eztv.Config{Endpoint: cfg.EZTVEndpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "nyaa":
			out = append(out, nyaa.NewProvider(nyaa.Config{Endpoint: cfg.NyaaEndpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "x1337":
			out = append(out, x1337.NewProvider(x1337.Config{Endpoint: cfg.X1337Endpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "rargb":
			out = append(out, rargb.NewProvider(rargb.Config{Endpoint: cfg.RargbEndpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "btdig":
			out = append(out, btdig.NewProvider(btdig.Config{Endpoint: cfg.BTDigEndpoint, UserAgent: cfg.UserAgent, Client: client, Store: rt.store}))
		case "torznab":
			provider := torznab.NewProvider(torznab.Config{
				Endpoint:  cfg.TorznabEndpoint,
				APIKey:    cfg.TorznabAPIKey,
				UserAgent: cfg.UserAgent,
				Client:    client,
				Store:     rt.store,
			})
			if !provider.Configured() {
				rt.logger.Info("torznab endpoint or api key not configured, source disabled")
				continue
			}
			out = append(out, provider)
		default:
			rt.logger.Warn("unknown source in SOURCES_ENABLED", slog.String("source", name))
		}
	}
	return out
}

// openStore picks the durable tier: Redis when reachable, else a sqlite
// file when configured, else none.
func (rt *Runtime) openStore(ctx context.Context, cfg Config) {
	if redisURL := strings.TrimSpace(cfg.RedisURL); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			rt.logger.Warn("invalid redis url, trying the next cache tier", slog.String("error", err.Error()))
		} else {
			client := redis.NewClient(redisOpts)
			store := cache.NewRedisStore(client)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			pingErr := store.Ping(pingCtx)
			cancel()
			if pingErr == nil {
				rt.logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
				rt.store = store
				rt.closing = append(rt.closing, client.Close)
				return
			}
			_ = client.Close()
			rt.logger.Warn("redis not reachable, trying the next cache tier", slog.String("error", pingErr.Error()))
		}
	}

	if path := strings.TrimSpace(cfg.CacheSQLitePath); path != "" {
		store, err := cache.OpenSQLiteStore(ctx, path)
		if err != nil {
			rt.logger.Warn("sqlite cache unavailable, using in-memory cache only", slog.String("error", err.Error()))
			return
		}
		rt.logger.Info("sqlite cache opened", slog.String("path", path))
		rt.store = store
		rt.sqlite = store
		rt.closing = append(rt.closing, store.Close)
		return
	}
	rt.logger.Info("no durable cache configured, using in-memory cache only")
}

// StartMaintenance ties background work to ctx: engine preloads and the
// periodic sqlite prune.
func (rt *Runtime) StartMaintenance(ctx context.Context) {
	rt.Engine.StartBackground(ctx)
	if rt.sqlite == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(sqlitePruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := rt.sqlite.Prune(ctx)
				if err != nil {
					rt.logger.Warn("sqlite cache prune failed", slog.String("error", err.Error()))
					continue
				}
				rt.logger.Debug("sqlite cache pruned", slog.Int64("removed", removed))
			}
		}
	}()
}

func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closing) - 1; i >= 0; i-- {
		if err := rt.closing[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
