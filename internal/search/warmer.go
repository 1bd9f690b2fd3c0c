package search

import (
	"context"
	"log/slog"
	"net/url"

	"torrentstream/streamservice/internal/domain"
)

// preloadNext aggregates the episode after req in the background so that
// binge watching hits a warm cache. At most maxConcurrentPreloads run at
// once; extra requests are skipped, not queued.
func (e *Engine) preloadNext(req domain.StreamRequest, baseURL *url.URL) {
	if !e.preload || e.metadata == nil || e.results == nil || req.Kind != domain.RequestSeries {
		return
	}
	if !e.preloadSem.TryAcquire(1) {
		return
	}

	go func() {
		defer e.preloadSem.Release(1)

		ctx, cancel := context.WithTimeout(e.background(), e.runTimeout+e.sourceTimeout)
		defer cancel()

		series, err := e.metadata.LookupSeries(ctx, req.ID)
		if err != nil {
			slog.Debug("preload skipped", slog.String("imdbId", req.ID), slog.String("error", err.Error()))
			return
		}
		next, ok := series.NextEpisode(req.Season, req.Episode)
		if !ok {
			return
		}
		nextReq := domain.StreamRequest{Kind: domain.RequestSeries, ID: req.ID, Season: next.Season, Episode: next.Episode}
		if _, err := e.aggregate(ctx, nextReq, baseURL); err != nil {
			slog.Debug("preload failed", slog.String("request", nextReq.CacheKey()), slog.String("error", err.Error()))
			return
		}
		slog.Debug("preloaded next episode", slog.String("request", nextReq.CacheKey()))
	}()
}
