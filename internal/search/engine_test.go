package search

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/quality"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestAggregateSkipsFailingSource(t *testing.T) {
	good := &fakeSource{name: "good", items: []domain.Candidate{
		stream("aaa", "1080p", 10),
		stream("bbb", "1080p", 20),
		stream("ccc", "1080p", 30),
	}}
	bad := &failingSource{name: "bad", err: errors.New("unexpected token < in JSON")}
	engine := newTestEngine([]Source{good, bad})

	streams, err := engine.Aggregate(context.Background(), seriesRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	got := hashesOf(streams)
	want := []string{"ccc", "bbb", "aaa"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected seeds order %v, got %v", want, got)
	}
}

func TestAggregateDeduplicatesByHash(t *testing.T) {
	first := stream("ABCDEF", "1080p", 5)
	first.Title = "first"
	second := stream("abcdef", "720p", 50)
	second.Title = "second"
	src := &fakeSource{name: "src", items: []domain.Candidate{first, second}}
	engine := newTestEngine([]Source{src})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream after dedup, got %d", len(streams))
	}
	if streams[0].Title != "first" {
		t.Fatalf("expected first occurrence to win, got %q", streams[0].Title)
	}
}

func TestAggregateExcludesLowQuality(t *testing.T) {
	src := &fakeSource{name: "src", items: []domain.Candidate{
		stream("sd", "480p", 100),
		stream("unknown", "N/A", 100),
		stream("empty", "", 100),
		stream("hd", "720p", 1),
	}}
	engine := newTestEngine([]Source{src})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"hd"}) {
		t.Fatalf("expected only hd stream, got %v", got)
	}
}

func TestAggregateOrdersByQualityThenSeeds(t *testing.T) {
	src := &fakeSource{name: "src", items: []domain.Candidate{
		stream("hd", "720p", 500),
		stream("fhd-low", "1080p", 1),
		stream("uhd", "2160p", 3),
		stream("fhd-high", "1080p", 90),
		stream("hdr", "2160p HDR", 2),
	}}
	engine := newTestEngine([]Source{src})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	want := []string{"hdr", "uhd", "fhd-high", "fhd-low", "hd"}
	if got := hashesOf(streams); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAggregateStopsEarlyWhenBucketsAreFull(t *testing.T) {
	var items []domain.Candidate
	for _, h := range []string{"h1", "h2"} {
		items = append(items, stream(h, "2160p HDR", 1))
	}
	for _, h := range []string{"u1", "u2", "u3"} {
		items = append(items, stream(h, "2160p", 1))
	}
	for _, h := range []string{"f1", "f2", "f3"} {
		items = append(items, stream(h, "1080p", 1))
	}
	src := &slowSource{name: "slow", items: items}
	engine := newTestEngine([]Source{src}, WithRunTimeout(10*time.Second), WithSourceTimeout(10*time.Second))

	startedAt := time.Now()
	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if elapsed := time.Since(startedAt); elapsed > 5*time.Second {
		t.Fatalf("expected early stop, took %s", elapsed)
	}
	if len(streams) != 8 {
		t.Fatalf("expected 8 streams, got %d", len(streams))
	}

	deadline := time.Now().Add(2 * time.Second)
	for !src.cancelled.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("expected source to observe cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAggregateKeepsFirstStreamsPerBucket(t *testing.T) {
	src := &fakeSource{name: "src", items: []domain.Candidate{
		stream("a", "720p", 1),
		stream("b", "720p", 2),
		stream("c", "720p", 3),
		stream("d", "720p", 1000),
	}}
	engine := newTestEngine([]Source{src})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != quality.PerBucket {
		t.Fatalf("expected %d streams, got %d", quality.PerBucket, len(streams))
	}
	if slices.Contains(hashesOf(streams), "d") {
		t.Fatalf("expected late stream to be dropped from a full bucket")
	}
}

func TestAggregateFiltersUnverifiedTitles(t *testing.T) {
	match := domain.CandidateStream{Source: "src", Title: "Show S01E01 1080p WEB", InfoHash: "match", Quality: "1080p"}
	other := domain.CandidateStream{Source: "src", Title: "Show S01E02 1080p WEB", InfoHash: "other", Quality: "1080p"}
	glued := domain.CandidateStream{Source: "src", Title: "Show-S01E01-1080p", InfoHash: "glued", Quality: "1080p"}
	src := &fakeSource{
		name:  "src",
		items: []domain.Candidate{match, other, glued},
		kinds: []domain.QueryKind{domain.QuerySeries},
	}
	meta := &fakeMetadata{resolution: domain.EpisodeResolution{Title: "Show"}}
	engine := newTestEngine([]Source{src}, WithMetadata(meta))

	streams, err := engine.Aggregate(context.Background(), seriesRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"match"}) {
		t.Fatalf("expected only matching title, got %v", got)
	}
}

func TestAggregateDegradesWhenMetadataFails(t *testing.T) {
	src := &fakeSource{
		name:  "src",
		items: []domain.Candidate{stream("id-only", "1080p", 3)},
		kinds: []domain.QueryKind{domain.QueryImdbSeries},
	}
	meta := &fakeMetadata{err: errors.New("cinemeta down")}
	engine := newTestEngine([]Source{src}, WithMetadata(meta))

	streams, err := engine.Aggregate(context.Background(), seriesRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"id-only"}) {
		t.Fatalf("expected id query results, got %v", got)
	}
}

func TestAggregateAnimationUsesAbsoluteNumber(t *testing.T) {
	absolute := domain.CandidateStream{Source: "src", Title: "[Group] Show - 27 [1080p]", InfoHash: "abs", Quality: "1080p"}
	src := &fakeSource{
		name:  "src",
		items: []domain.Candidate{absolute},
		kinds: []domain.QueryKind{domain.QueryAbsoluteSeries},
	}
	meta := &fakeMetadata{resolution: domain.EpisodeResolution{Title: "Show", Animation: true, AbsoluteNumber: 27}}
	engine := newTestEngine([]Source{src}, WithMetadata(meta))

	streams, err := engine.Aggregate(context.Background(), domain.StreamRequest{Kind: domain.RequestSeries, ID: "tt0388629", Season: 2, Episode: 3}, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"abs"}) {
		t.Fatalf("expected absolute-number stream, got %v", got)
	}
}

func TestAggregateSurvivesPanickingSource(t *testing.T) {
	good := &fakeSource{name: "good", items: []domain.Candidate{stream("ok", "1080p", 1)}}
	engine := newTestEngine([]Source{&panicSource{name: "boom"}, good})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"ok"}) {
		t.Fatalf("expected good source results, got %v", got)
	}
}

func TestAggregateWithoutSources(t *testing.T) {
	engine := newTestEngine(nil)

	_, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if !errors.Is(err, domain.ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestAggregateRejectsInvalidRequest(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{name: "src"}}
	engine := newTestEngine([]Source{src})

	_, err := engine.Aggregate(context.Background(), domain.StreamRequest{Kind: domain.RequestMovie, ID: "not-an-id"}, nil)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if src.hits.Load() != 0 {
		t.Fatalf("expected no source calls for invalid request")
	}
}

func TestAggregateReusesCachedResult(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}}
	engine := newTestEngine([]Source{src})

	for i := 0; i < 3; i++ {
		streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
		if err != nil {
			t.Fatalf("Aggregate error: %v", err)
		}
		if len(streams) != 1 {
			t.Fatalf("expected 1 stream, got %d", len(streams))
		}
		streams[0].Title = "mutated"
	}
	if got := src.hits.Load(); got != 1 {
		t.Fatalf("expected one source call, got %d", got)
	}

	streams, _ := engine.Aggregate(context.Background(), movieRequest, nil)
	if streams[0].Title == "mutated" {
		t.Fatalf("expected cached result to be isolated from callers")
	}
}

func TestAggregateCacheKeyIncludesBaseURL(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}}
	engine := newTestEngine([]Source{src})

	for _, raw := range []string{"http://a.example/u1/", "http://a.example/u2/"} {
		base, _ := url.Parse(raw)
		if _, err := engine.Aggregate(context.Background(), movieRequest, base); err != nil {
			t.Fatalf("Aggregate error: %v", err)
		}
	}
	if got := src.hits.Load(); got != 2 {
		t.Fatalf("expected separate runs per base URL, got %d", got)
	}
}

func TestSourceRateLimitIsOffByDefault(t *testing.T) {
	engine := NewEngine(NewRegistry())
	if engine.sourceRate != 0 {
		t.Fatalf("expected no source rate limit by default, got %v", engine.sourceRate)
	}
	for i := 0; i < 50; i++ {
		if err := engine.waitSourceRateLimit(context.Background(), "src"); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}
}

func TestThrottledRunIsNotCached(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}}
	engine := newTestEngine([]Source{src}, WithSourceRateLimit(1, 1), WithRunTimeout(300*time.Millisecond))
	other := domain.StreamRequest{Kind: domain.RequestMovie, ID: "tt0000014"}

	if streams, err := engine.Aggregate(context.Background(), movieRequest, nil); err != nil || len(streams) != 1 {
		t.Fatalf("expected first request to be served, got %d streams err=%v", len(streams), err)
	}

	// The bucket is empty and the run deadline comes before the next token.
	streams, err := engine.Aggregate(context.Background(), other, nil)
	if err != nil {
		t.Fatalf("throttled run must not fail: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected throttled run to find nothing, got %d", len(streams))
	}

	time.Sleep(1100 * time.Millisecond)
	streams, err = engine.Aggregate(context.Background(), other, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected a fresh run once the limiter refilled, got %d streams", len(streams))
	}
	if got := src.hits.Load(); got != 2 {
		t.Fatalf("expected two source calls, got %d", got)
	}
}

func TestResultTTL(t *testing.T) {
	rich := make([]domain.CandidateStream, richResultThreshold+1)
	cases := []struct {
		name    string
		streams []domain.CandidateStream
		err     error
		want    time.Duration
	}{
		{name: "throttled", streams: rich, err: errRunThrottled, want: 0},
		{name: "failed", err: domain.ErrNoSources, want: time.Minute},
		{name: "rich", streams: rich, want: 72 * time.Hour},
		{name: "thin", streams: rich[:1], want: 6 * time.Hour},
	}
	for _, tc := range cases {
		if got := resultTTL(tc.streams, tc.err); got != tc.want {
			t.Fatalf("%s: resultTTL = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAggregateCallerCancellation(t *testing.T) {
	src := &slowSource{name: "slow"}
	engine := newTestEngine([]Source{src})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := engine.Aggregate(ctx, movieRequest, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Embellishers and season expansion
// ---------------------------------------------------------------------------

func TestEmbellishersAreChained(t *testing.T) {
	src := &fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}
	engine := newTestEngine([]Source{src})
	engine.Registry().RegisterEmbellisher(&tagEmbellisher{name: "a", suffix: " [a]"})
	engine.Registry().RegisterEmbellisher(&tagEmbellisher{name: "b", suffix: " [b]"})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != 1 || !strings.HasSuffix(streams[0].Title, " [a] [b]") {
		t.Fatalf("expected chained titles, got %+v", streams)
	}
}

func TestEmbellisherFailureKeepsStream(t *testing.T) {
	src := &fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}
	engine := newTestEngine([]Source{src})
	engine.Registry().RegisterEmbellisher(failingEmbellisher{})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("expected original stream, got %v", got)
	}
}

func TestEmbellisherOutputIsFilteredAgain(t *testing.T) {
	src := &fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}
	engine := newTestEngine([]Source{src})
	engine.Registry().RegisterEmbellisher(&rewriteEmbellisher{out: []domain.CandidateStream{
		stream("low", "480p", 9),
		stream("kept", "2160p", 1),
	}})

	streams, err := engine.Aggregate(context.Background(), movieRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if got := hashesOf(streams); !slices.Equal(got, []string{"kept"}) {
		t.Fatalf("expected only kept stream, got %v", got)
	}
}

func seasonFixture() (*fakeSource, *fakeFiles) {
	season := domain.CandidateSeason{Source: "src", Title: "Show S01 1080p", InfoHash: "SEASON", Seeds: 40}
	src := &fakeSource{
		name:  "src",
		items: []domain.Candidate{season},
		kinds: []domain.QueryKind{domain.QueryImdbSeason},
	}
	files := &fakeFiles{files: map[string][]domain.TorrentFile{
		"season": {
			{Path: "Show/Show.S01E01.1080p.mkv", Length: 700 << 20, Index: 0},
			{Path: "Show/Show.S01E02.1080p.mkv", Length: 700 << 20, Index: 1},
			{Path: "Show/sample.mkv", Length: 1 << 20, Index: 2},
		},
	}}
	return src, files
}

func TestSeasonFilesRequireEmbellisher(t *testing.T) {
	src, files := seasonFixture()
	engine := newTestEngine([]Source{src}, WithFileLister(files))

	streams, err := engine.Aggregate(context.Background(), seriesRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected season files to be dropped, got %v", hashesOf(streams))
	}
}

func TestSeasonExpansionMatchesEpisode(t *testing.T) {
	src, files := seasonFixture()
	engine := newTestEngine([]Source{src}, WithFileLister(files))
	engine.Registry().RegisterEmbellisher(&tagEmbellisher{name: "pass"})

	streams, err := engine.Aggregate(context.Background(), seriesRequest, nil)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected one episode stream, got %d", len(streams))
	}
	got := streams[0]
	if got.FileIndex == nil || *got.FileIndex != 0 {
		t.Fatalf("expected file index 0, got %v", got.FileIndex)
	}
	if got.Title != "Show.S01E01.1080p.mkv" || got.Seeds != 40 || got.InfoHash != "season" {
		t.Fatalf("unexpected expanded stream: %+v", got)
	}
}

func TestSeasonStreams(t *testing.T) {
	season := domain.CandidateSeason{Source: "src", InfoHash: "H", MagnetURI: "magnet:?xt=urn:btih:h", Seeds: 7, Peers: 3}
	files := []domain.TorrentFile{
		{Path: "a/E01.2160p.HDR.mkv", Length: 2 << 30, Index: 0},
		{Path: "a/readme.txt", Length: 20 << 20, Index: 1},
		{Path: "a/E02.720p.mp4", Length: 300 << 20, Index: 2},
	}

	streams := SeasonStreams(season, files)
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams))
	}
	if streams[0].Quality != quality.UHDHDR || streams[1].Quality != quality.HD {
		t.Fatalf("unexpected qualities: %q %q", streams[0].Quality, streams[1].Quality)
	}
	if *streams[1].FileIndex != 2 {
		t.Fatalf("expected manifest index 2, got %d", *streams[1].FileIndex)
	}
	for _, s := range streams {
		if s.Verified {
			t.Fatalf("expanded files must not be verified")
		}
		if s.InfoHash != "h" || s.Seeds != 7 || s.Peers != 3 || s.MagnetURI != season.MagnetURI {
			t.Fatalf("expected season fields to be carried over: %+v", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Query expansion and preload
// ---------------------------------------------------------------------------

func TestEpisodeQueries(t *testing.T) {
	plain := EpisodeQueries(domain.EpisodeResolution{ImdbID: "tt1", Title: "Show", Season: 1, Episode: 2})
	if len(plain) != 2 || plain[0].Kind != domain.QuerySeries || plain[1].Kind != domain.QuerySeason {
		t.Fatalf("unexpected plain queries: %v", plain)
	}

	anime := EpisodeQueries(domain.EpisodeResolution{ImdbID: "tt1", Title: "Show", Season: 2, Episode: 1, Animation: true, AbsoluteNumber: 13})
	kinds := make([]domain.QueryKind, 0, len(anime))
	for _, q := range anime {
		kinds = append(kinds, q.Kind)
	}
	want := []domain.QueryKind{domain.QueryAbsoluteSeries, domain.QueryImdbAbsoluteSeries, domain.QuerySeries, domain.QuerySeason}
	if !slices.Equal(kinds, want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	if anime[0].AsQuery() != "Show 13" {
		t.Fatalf("unexpected absolute query %q", anime[0].AsQuery())
	}

	if got := EpisodeQueries(domain.EpisodeResolution{ImdbID: "tt1", Season: 1, Episode: 1}); len(got) != 0 {
		t.Fatalf("expected no title queries without a title, got %v", got)
	}
}

func TestPreloadWarmsNextEpisode(t *testing.T) {
	src := &countingSource{fakeSource: fakeSource{name: "src", items: []domain.Candidate{stream("x", "1080p", 1)}}}
	meta := &fakeMetadata{series: domain.SeriesMeta{
		ImdbID: "tt0111161",
		Videos: []domain.Video{
			{ID: "tt0111161:1:1", Season: 1, Episode: 1},
			{ID: "tt0111161:1:2", Season: 1, Episode: 2},
		},
	}}
	engine := newTestEngine([]Source{src}, WithMetadata(meta), WithPreload(true))

	if _, err := engine.Aggregate(context.Background(), seriesRequest, nil); err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		meta.mu.Lock()
		warmed := slices.Contains(meta.episodes, "S01E02")
		meta.mu.Unlock()
		if warmed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected next episode to be preloaded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	next := domain.StreamRequest{Kind: domain.RequestSeries, ID: "tt0111161", Season: 1, Episode: 2}
	if _, err := engine.Aggregate(context.Background(), next, nil); err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	// Two id queries per run, and the second request is served by the preload.
	if got := src.hits.Load(); got != 4 {
		t.Fatalf("expected 4 source calls, got %d", got)
	}
}
