package realdebrid

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"torrentstream/streamservice/internal/batch"
	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/metrics"
	"torrentstream/streamservice/internal/quality"
)

const (
	embellisherName = "real-debrid"
	userCacheKey    = "user"
)

type Options struct {
	// BatchWindow is how long availability checks are collected before
	// one call is made for all of them.
	BatchWindow time.Duration
	MaxBatch    int
	Store       cache.Store
}

// Embellisher rewrites streams whose torrent is cached on Real-Debrid into
// links served by this service's /real-debrid route.
type Embellisher struct {
	client       *Client
	user         *cache.Cache[User]
	availability *cache.Cache[[]AvailableFile]
	loader       *batch.Loader[string, []AvailableFile]
	tracer       trace.Tracer
}

func NewEmbellisher(client *Client, opts Options) *Embellisher {
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = 150 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 50
	}
	e := &Embellisher{
		client: client,
		user: cache.New("realdebrid_user", cache.Options[User]{
			Capacity: 1,
			TTL:      cache.OutcomeTTL[User](time.Hour, time.Minute),
		}),
		availability: cache.New("realdebrid_availability", cache.Options[[]AvailableFile]{
			Capacity: 4096,
			TTL:      cache.OutcomeTTL[[]AvailableFile](time.Hour, time.Minute),
			Store:    opts.Store,
		}),
		tracer: otel.Tracer("streamservice/realdebrid"),
	}
	fetch := func(ctx context.Context, hashes []string) (map[string][]AvailableFile, error) {
		return client.InstantAvailability(ctx, hashes...)
	}
	e.loader = batch.NewLoader(fetch, batch.Options{
		Window:   opts.BatchWindow,
		MaxBatch: opts.MaxBatch,
		OnFlush: func(size int) {
			metrics.DebridBatchSize.Observe(float64(size))
		},
	})
	return e
}

func (e *Embellisher) Name() string {
	return embellisherName
}

func (e *Embellisher) Transform(ctx context.Context, stream domain.CandidateStream, baseURL *url.URL) ([]domain.CandidateStream, error) {
	ctx, span := e.tracer.Start(ctx, "realdebrid.transform", trace.WithAttributes(
		attribute.String("infoHash", stream.Hash()),
	))
	defer span.End()

	user, err := e.user.Get(ctx, userCacheKey, e.client.User)
	if err != nil {
		return nil, fmt.Errorf("real-debrid user: %w", err)
	}
	if !user.Premium() {
		return nil, domain.ErrNotPremium
	}

	hash := stream.Hash()
	files, err := e.availability.Get(ctx, hash, func(ctx context.Context) ([]AvailableFile, error) {
		files, _, err := e.loader.Load(ctx, hash)
		return files, err
	})
	if err != nil {
		return nil, fmt.Errorf("real-debrid availability: %w", err)
	}
	if len(files) == 0 {
		return []domain.CandidateStream{}, nil
	}

	if !stream.IsSeasonFile() {
		out := stream
		out.SizeBytes = files[0].Size
		out.URL = linkURL(baseURL, hash, files[0].Number)
		return []domain.CandidateStream{out}, nil
	}

	out := make([]domain.CandidateStream, 0, len(files))
	for _, file := range files {
		if file.Size <= domain.MinVideoFileSize {
			continue
		}
		s := stream
		s.Title = file.Name
		s.Quality = quality.Classify(file.Name)
		s.SizeBytes = file.Size
		s.URL = linkURL(baseURL, hash, file.Number)
		if n, err := strconv.Atoi(file.Number); err == nil && n > 0 {
			index := n - 1
			s.FileIndex = &index
		}
		out = append(out, s)
	}
	return out, nil
}

func linkURL(baseURL *url.URL, hash, file string) string {
	if baseURL == nil {
		return "/real-debrid/" + hash + "/" + file
	}
	return baseURL.JoinPath("real-debrid", hash, file).String()
}
