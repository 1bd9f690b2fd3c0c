package search

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"torrentstream/streamservice/internal/domain"
)

type fakeSource struct {
	name  string
	items []domain.Candidate
	// kinds restricts the queries answered; empty answers everything.
	kinds []domain.QueryKind
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Supports(query domain.VideoQuery) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, kind := range s.kinds {
		if kind == query.Kind {
			return true
		}
	}
	return false
}

func (s *fakeSource) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		for _, item := range s.items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

type countingSource struct {
	fakeSource
	hits atomic.Int32
}

func (s *countingSource) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	s.hits.Add(1)
	return s.fakeSource.List(ctx, query)
}

type failingSource struct {
	name  string
	err   error
	calls atomic.Int32
}

func (s *failingSource) Name() string { return s.name }

func (s *failingSource) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	s.calls.Add(1)
	return func(yield func(domain.Candidate, error) bool) {
		yield(nil, s.err)
	}
}

// slowSource yields its items, then blocks until the run gives up on it.
type slowSource struct {
	name      string
	items     []domain.Candidate
	cancelled atomic.Bool
	pulled    atomic.Int32
}

func (s *slowSource) Name() string { return s.name }

func (s *slowSource) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		for _, item := range s.items {
			s.pulled.Add(1)
			if !yield(item, nil) {
				return
			}
		}
		<-ctx.Done()
		s.cancelled.Store(true)
		yield(nil, ctx.Err())
	}
}

type panicSource struct{ name string }

func (s *panicSource) Name() string { return s.name }

func (s *panicSource) List(context.Context, domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return func(func(domain.Candidate, error) bool) {
		panic("scraper exploded")
	}
}

type fakeFiles struct {
	files map[string][]domain.TorrentFile
}

func (f *fakeFiles) Files(_ context.Context, infoHash string) ([]domain.TorrentFile, error) {
	files, ok := f.files[infoHash]
	if !ok {
		return nil, errors.New("torrent not found")
	}
	return files, nil
}

type fakeMetadata struct {
	movie      domain.MovieMeta
	series     domain.SeriesMeta
	resolution domain.EpisodeResolution
	err        error

	mu       sync.Mutex
	episodes []string
}

func (m *fakeMetadata) LookupMovie(context.Context, string) (domain.MovieMeta, error) {
	return m.movie, m.err
}

func (m *fakeMetadata) LookupSeries(context.Context, string) (domain.SeriesMeta, error) {
	return m.series, m.err
}

func (m *fakeMetadata) LookupEpisode(_ context.Context, imdbID string, season, episode int) (domain.EpisodeResolution, error) {
	m.mu.Lock()
	m.episodes = append(m.episodes, domain.EpisodeToken(season, episode))
	m.mu.Unlock()
	if m.err != nil {
		return domain.EpisodeResolution{}, m.err
	}
	res := m.resolution
	res.ImdbID, res.Season, res.Episode = imdbID, season, episode
	return res, nil
}

// tagEmbellisher appends a suffix to the title so chaining is observable.
type tagEmbellisher struct {
	name   string
	suffix string
}

func (e *tagEmbellisher) Name() string { return e.name }

func (e *tagEmbellisher) Transform(_ context.Context, s domain.CandidateStream, _ *url.URL) ([]domain.CandidateStream, error) {
	s.Title += e.suffix
	return []domain.CandidateStream{s}, nil
}

type failingEmbellisher struct{}

func (failingEmbellisher) Name() string { return "failing" }

func (failingEmbellisher) Transform(context.Context, domain.CandidateStream, *url.URL) ([]domain.CandidateStream, error) {
	return nil, errors.New("debrid down")
}

// rewriteEmbellisher replaces every stream with a fixed set.
type rewriteEmbellisher struct {
	out []domain.CandidateStream
}

func (e *rewriteEmbellisher) Name() string { return "rewrite" }

func (e *rewriteEmbellisher) Transform(context.Context, domain.CandidateStream, *url.URL) ([]domain.CandidateStream, error) {
	return e.out, nil
}

func stream(hash, quality string, seeds int) domain.CandidateStream {
	return domain.CandidateStream{
		Source:   "test",
		Title:    "Title " + hash,
		InfoHash: hash,
		Quality:  quality,
		Seeds:    seeds,
		Verified: true,
	}
}

func newTestEngine(sources []Source, opts ...Option) *Engine {
	registry := NewRegistry()
	for _, src := range sources {
		registry.RegisterSource(src)
	}
	opts = append([]Option{
		WithSourceRateLimit(0, 0),
		WithSourceTimeout(2 * time.Second),
		WithRunTimeout(3 * time.Second),
	}, opts...)
	return NewEngine(registry, opts...)
}

func hashesOf(streams []domain.CandidateStream) []string {
	out := make([]string, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.InfoHash)
	}
	return out
}

var (
	seriesRequest = domain.StreamRequest{Kind: domain.RequestSeries, ID: "tt0111161", Season: 1, Episode: 1}
	movieRequest  = domain.StreamRequest{Kind: domain.RequestMovie, ID: "tt0111161"}
)
