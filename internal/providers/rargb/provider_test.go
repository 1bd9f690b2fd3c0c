package rargb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"torrentstream/streamservice/internal/domain"
)

const searchPage = `<!DOCTYPE html>
<html><body>
<table class="lista2t">
<tr><td class="header6">Cat.</td><td class="header6">File</td><td class="header6">Added</td><td class="header6">Genre</td><td class="header6">Size</td><td class="header6">S.</td><td class="header6">L.</td><td class="header6">Uploader</td></tr>
<tr class="lista2">
	<td class="lista"><a href="/tv/"><img src="/static/images/categories/cat_new41.gif"></a></td>
	<td class="lista"><a href="/torrent/show-s01e02-1080p-web-h264-1.html" title="Show.S01E02.1080p.WEB.H264-GRP">Show.S01E02.1080p.WEB.H264-GRP</a></td>
	<td class="lista">2024-03-01 10:00:00</td>
	<td class="lista">Drama</td>
	<td class="lista">2.1 GB</td>
	<td class="lista"><font color="#008000">420</font></td>
	<td class="lista">37</td>
	<td class="lista">GRP</td>
</tr>
<tr class="lista2">
	<td class="lista"><a href="/tv/"></a></td>
	<td class="lista"><a href="/torrent/show-s01e02-e04-720p-2.html" title="Show.S01E02-E04.720p.HDTV.x264">Show.S01E02-E04.720p.HDTV.x264</a></td>
	<td class="lista">2024-03-02 10:00:00</td>
	<td class="lista">Drama</td>
	<td class="lista">3.3 GB</td>
	<td class="lista">80</td>
	<td class="lista">4</td>
	<td class="lista">other</td>
</tr>
<tr class="lista2">
	<td class="lista"><a href="/tv/"></a></td>
	<td class="lista"><a href="/torrent/show-s01e02-720p-3.html" title="Show.S01E02.720p.HDTV.x264">Show.S01E02.720p.HDTV.x264</a></td>
	<td class="lista">2024-03-02 11:00:00</td>
	<td class="lista">Drama</td>
	<td class="lista">900 MB</td>
	<td class="lista">15</td>
	<td class="lista">2</td>
	<td class="lista">other</td>
</tr>
</table>
</body></html>`

const detailPage = `<html><body><table class="lista">
<tr><td class="header2">Torrent:</td><td class="lista"><a href="magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567&amp;dn=Show.S01E02"><img src="/static/20/img/magnet.gif"></a></td></tr>
</table></body></html>`

func TestParseResults(t *testing.T) {
	rows, err := parseResults([]byte(searchPage))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows without the header, got %d", len(rows))
	}
	first := rows[0]
	if first.href != "/torrent/show-s01e02-1080p-web-h264-1.html" || first.title != "Show.S01E02.1080p.WEB.H264-GRP" {
		t.Fatalf("unexpected link: %#v", first)
	}
	if first.size != "2.1 GB" || first.seeds != 420 || first.peers != 37 {
		t.Fatalf("unexpected row: %#v", first)
	}
}

func TestParseResultsWithoutTable(t *testing.T) {
	rows, err := parseResults([]byte(`<html><body><p>No results found!</p></body></html>`))
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows, got %d (%v)", len(rows), err)
	}
}

func TestParseMagnet(t *testing.T) {
	got := parseMagnet([]byte(detailPage))
	if got != "magnet:?xt=urn:btih:0123456789ABCDEF0123456789ABCDEF01234567&dn=Show.S01E02" {
		t.Fatalf("unexpected magnet %q", got)
	}
	if parseMagnet([]byte(`<html><body><a href="magnet:?xt=urn:btih:abc">outside</a></body></html>`)) != "" {
		t.Fatal("expected magnets outside td.lista to be ignored")
	}
}

func newSite(t *testing.T, details *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/search/":
			q := r.URL.Query()
			if q.Get("search") != "Show S01E02" {
				t.Errorf("unexpected search %q", q.Get("search"))
			}
			if got := strings.Join(q["category[]"], ","); got != "tv,anime" {
				t.Errorf("unexpected categories %q", got)
			}
			_, _ = w.Write([]byte(searchPage))
		case strings.HasSuffix(r.URL.Path, "-3.html"):
			details.Add(1)
			http.Error(w, "gone", http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/torrent/"):
			details.Add(1)
			_, _ = w.Write([]byte(detailPage))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListSeries(t *testing.T) {
	var details atomic.Int32
	srv := newSite(t, &details)
	provider := NewProvider(Config{Endpoint: srv.URL, Client: srv.Client()})

	var streams []domain.CandidateStream
	for candidate, err := range provider.List(context.Background(), domain.SeriesQuery("Show", 1, 2)) {
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
		streams = append(streams, candidate.(domain.CandidateStream))
	}
	if len(streams) != 1 {
		t.Fatalf("expected only the single-episode row with a magnet, got %d", len(streams))
	}
	got := streams[0]
	if got.Source != "Rarbg" || got.InfoHash != "0123456789abcdef0123456789abcdef01234567" || got.Quality != "1080p" {
		t.Fatalf("unexpected stream: %#v", got)
	}
	if got.Seeds != 420 || got.SizeDisplay != "2.1 GB" || got.SizeBytes == 0 {
		t.Fatalf("unexpected swarm or size: %#v", got)
	}
	if n := details.Load(); n != 2 {
		t.Fatalf("expected the episode range to be skipped before its detail page, got %d detail requests", n)
	}

	for _, err := range provider.List(context.Background(), domain.SeriesQuery("Show", 1, 2)) {
		if err != nil {
			t.Fatalf("cached list error: %v", err)
		}
	}
	if n := details.Load(); n != 2 {
		t.Fatalf("expected the second search to be served from cache, got %d detail requests", n)
	}
}

func TestListMovieUsesMoviesCategory(t *testing.T) {
	var category string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category = strings.Join(r.URL.Query()["category[]"], ",")
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	}))
	defer srv.Close()
	provider := NewProvider(Config{Endpoint: srv.URL, Client: srv.Client()})

	for _, err := range provider.List(context.Background(), domain.MovieQuery("Some Movie")) {
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
	}
	if category != "movies" {
		t.Fatalf("expected the movies category, got %q", category)
	}
}

func TestSupports(t *testing.T) {
	provider := NewProvider(Config{})
	cases := []struct {
		query domain.VideoQuery
		want  bool
	}{
		{domain.MovieQuery("Movie"), true},
		{domain.SeriesQuery("Show", 1, 2), true},
		{domain.SeasonQuery("Show", 1, 2), true},
		{domain.AbsoluteSeriesQuery("Show", 27), false},
		{domain.ImdbMovieQuery("tt0111161"), false},
	}
	for _, tc := range cases {
		if got := provider.Supports(tc.query); got != tc.want {
			t.Errorf("Supports(%s) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
