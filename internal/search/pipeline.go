package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/metrics"
	"torrentstream/streamservice/internal/quality"
)

const pipelineBuffer = 64

// pipeline is one aggregation run: many producers (one per query and source
// pair, plus their season expansions and embellishments) feeding a single
// consumer through out.
type pipeline struct {
	engine       *Engine
	ctx          context.Context
	baseURL      *url.URL
	sources      []Source
	embellishers []Embellisher
	out          chan domain.CandidateStream
	wg           conc.WaitGroup

	pairs     atomic.Int64
	throttled atomic.Int64
	received  atomic.Int64
	filtered  atomic.Int64
}

func (e *Engine) run(ctx context.Context, req domain.StreamRequest, baseURL *url.URL) ([]domain.CandidateStream, error) {
	startedAt := time.Now()
	ctx, span := e.tracer.Start(ctx, "search.aggregate", trace.WithAttributes(
		attribute.String("request", req.CacheKey()),
	))
	defer span.End()

	immediate, deferred := e.expandRequest(req)
	for _, q := range immediate {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	sources, embellishers := e.registry.Snapshot()
	if len(sources) == 0 {
		return nil, domain.ErrNoSources
	}

	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	p := &pipeline{
		engine:       e,
		ctx:          runCtx,
		baseURL:      baseURL,
		sources:      sources,
		embellishers: embellishers,
		out:          make(chan domain.CandidateStream, pipelineBuffer),
	}
	p.start(immediate)
	if deferred != nil {
		p.wg.Go(func() {
			p.start(deferred(runCtx))
		})
	}
	go func() {
		if r := p.wg.WaitAndRecover(); r != nil {
			slog.Error("aggregation producer panicked", slog.String("request", req.CacheKey()), slog.String("panic", r.String()))
		}
		close(p.out)
	}()

	seen := make(map[string]struct{})
	group := quality.NewGroup()
	duplicates := 0
	outcome := "exhausted"
collect:
	for {
		select {
		case stream, ok := <-p.out:
			if !ok {
				break collect
			}
			key := stream.Hash()
			if _, dup := seen[key]; dup {
				duplicates++
				continue
			}
			seen[key] = struct{}{}
			group.Add(stream)
			if group.HasEnough() {
				outcome = "early_stop"
				break collect
			}
		case <-runCtx.Done():
			outcome = "timeout"
			break collect
		}
	}
	cancel()

	// Every caller left; the partial result must not be cached.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streams := group.Streams()
	metrics.AggregationsTotal.WithLabelValues(outcome).Inc()
	metrics.AggregationDuration.Observe(time.Since(startedAt).Seconds())
	metrics.AggregationStreams.Observe(float64(len(streams)))
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("streams", len(streams)))
	slog.Info("aggregation finished",
		slog.String("request", req.CacheKey()),
		slog.String("outcome", outcome),
		slog.Int64("pairs", p.pairs.Load()),
		slog.Int64("throttled", p.throttled.Load()),
		slog.Int64("received", p.received.Load()),
		slog.Int64("filtered", p.filtered.Load()),
		slog.Int("duplicates", duplicates),
		slog.Int("accepted", group.Total()),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	if outcome != "early_stop" && p.throttled.Load() > 0 {
		return streams, errRunThrottled
	}
	return streams, nil
}

// start launches one producer per supported (query, source) pair.
func (p *pipeline) start(queries []domain.VideoQuery) {
	for _, query := range queries {
		if err := query.Validate(); err != nil {
			slog.Debug("query skipped", slog.String("query", query.String()), slog.String("error", err.Error()))
			continue
		}
		for _, src := range p.sources {
			if !supports(src, query) {
				continue
			}
			p.pairs.Add(1)
			p.wg.Go(func() {
				p.produce(src, query)
			})
		}
	}
}

func (p *pipeline) produce(src Source, query domain.VideoQuery) {
	name := src.Name()
	if blocked, until, lastErr := p.engine.isSourceBlocked(name, time.Now()); blocked {
		slog.Debug("source skipped while unhealthy",
			slog.String("source", name),
			slog.String("until", until.UTC().Format(time.RFC3339)),
			slog.String("lastError", lastErr),
		)
		return
	}
	if err := p.engine.waitSourceRateLimit(p.ctx, name); err != nil {
		p.throttled.Add(1)
		slog.Debug("source skipped by rate limit",
			slog.String("source", name),
			slog.String("query", query.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.engine.sourceTimeout)
	defer cancel()
	ctx, span := p.engine.tracer.Start(ctx, "search.source", trace.WithAttributes(
		attribute.String("source", name),
		attribute.String("query", query.String()),
	))
	defer span.End()

	matcher := query.NonSeason().TitleMatcher()
	startedAt := time.Now()
	var listErr error
	for candidate, err := range src.List(ctx, query) {
		if err != nil {
			listErr = err
			break
		}
		p.received.Add(1)
		switch c := candidate.(type) {
		case domain.CandidateStream:
			p.accept(c, matcher)
		case domain.CandidateSeason:
			p.wg.Go(func() {
				p.expand(c, matcher)
			})
		}
		if ctx.Err() != nil {
			break
		}
	}
	if listErr == nil {
		listErr = ctx.Err()
	}
	// The whole run ending is not the source's fault.
	if p.ctx.Err() != nil {
		listErr = context.Canceled
	}

	p.engine.recordSourceResult(name, query.AsQuery(), listErr, time.Since(startedAt), time.Now())
	if listErr != nil && !errors.Is(listErr, context.Canceled) {
		span.RecordError(listErr)
		slog.Debug("source list failed",
			slog.String("source", name),
			slog.String("query", query.String()),
			slog.String("error", listErr.Error()),
		)
	}
}

func (p *pipeline) expand(season domain.CandidateSeason, matcher *domain.TitleMatcher) {
	for _, stream := range p.engine.expandSeason(p.ctx, season) {
		p.accept(stream, matcher)
	}
}

// accept runs the pre-filter and hands survivors to the embellishers.
func (p *pipeline) accept(stream domain.CandidateStream, matcher *domain.TitleMatcher) {
	if !admit(stream, matcher) {
		p.filtered.Add(1)
		return
	}
	if len(p.embellishers) == 0 {
		if stream.IsSeasonFile() {
			p.filtered.Add(1)
			return
		}
		p.send(stream)
		return
	}
	p.wg.Go(func() {
		for _, out := range p.embellish(stream) {
			if !admit(out, matcher) {
				p.filtered.Add(1)
				continue
			}
			p.send(out)
		}
	})
}

// admit drops excluded qualities and, unless the stream is verified,
// titles that do not match the query.
func admit(stream domain.CandidateStream, matcher *domain.TitleMatcher) bool {
	if quality.Excluded(stream.Quality) {
		return false
	}
	if stream.Verified {
		return true
	}
	return matcher.Match(stream.Title)
}

func (p *pipeline) embellish(stream domain.CandidateStream) []domain.CandidateStream {
	current := []domain.CandidateStream{stream}
	for _, emb := range p.embellishers {
		next := make([]domain.CandidateStream, 0, len(current))
		for _, s := range current {
			out, err := safeTransform(p.ctx, emb, s, p.baseURL)
			if err != nil {
				slog.Debug("embellisher failed",
					slog.String("embellisher", emb.Name()),
					slog.String("infoHash", s.Hash()),
					slog.String("error", err.Error()),
				)
				if !s.IsSeasonFile() {
					next = append(next, s)
				}
				continue
			}
			next = append(next, out...)
		}
		current = next
	}
	return current
}

func safeTransform(ctx context.Context, emb Embellisher, stream domain.CandidateStream, baseURL *url.URL) (out []domain.CandidateStream, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embellisher %s panicked: %v", emb.Name(), r)
		}
	}()
	return emb.Transform(ctx, stream, baseURL)
}

func (p *pipeline) send(stream domain.CandidateStream) {
	select {
	case p.out <- stream:
	case <-p.ctx.Done():
	}
}
