package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentstream/streamservice/internal/api/http"
	"torrentstream/streamservice/internal/app"
	"torrentstream/streamservice/internal/metrics"
	"torrentstream/streamservice/internal/telemetry"
)

const serviceName = "stream-sources"

func main() {
	cfg := app.LoadConfig()
	logger, logCloser := app.NewLogger(cfg)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("baseURL", cfg.BaseURL),
		slog.Bool("hasAddonToken", cfg.AddonToken != ""),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("logFile", cfg.LogFile),
		slog.Duration("sourceTimeout", cfg.SourceTimeout),
		slog.Duration("aggregateTimeout", cfg.AggregateTimeout),
		slog.String("sources", strings.Join(cfg.SourcesEnabled, ",")),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.String("sqliteCache", cfg.CacheSQLitePath),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Bool("hasTVDBKey", cfg.TVDBAPIKey != ""),
		slog.Bool("hasRealDebridKey", cfg.RealDebridAPIKey != ""),
		slog.Bool("preloadNextEpisode", cfg.PreloadNextEpisode),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime := app.Build(rootCtx, cfg, logger)
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Warn("cache close error", slog.String("error", err.Error()))
		}
	}()
	runtime.StartMaintenance(rootCtx)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithToken(cfg.AddonToken),
		apihttp.WithBaseURL(cfg.BaseURL),
		apihttp.WithRateLimit(float64(cfg.HTTPRateLimitRPS), cfg.HTTPRateLimitBurst),
	}
	if runtime.Links != nil {
		serverOpts = append(serverOpts, apihttp.WithLinkResolver(runtime.Links))
	}

	handler := apihttp.NewServer(runtime.Engine, serverOpts...).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Aggregation may run up to the aggregate timeout before writing.
		WriteTimeout: cfg.AggregateTimeout + cfg.SourceTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("stream sources service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("aggregateTimeout", cfg.AggregateTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stream sources service stopped")
}
