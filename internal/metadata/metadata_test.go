package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
)

const animeSeries = `{"meta":{
	"imdb_id":"tt0388629","name":"One Piece","genres":["Animation","Action"],
	"videos":[
		{"id":"tt0388629:0:1","season":0,"episode":1,"name":"Special"},
		{"id":"tt0388629:1:1","season":1,"episode":1,"name":"Romance Dawn","tvdb_id":101},
		{"id":"tt0388629:1:2","season":1,"episode":2,"name":"The Great Swordsman","tvdb_id":102},
		{"id":"tt0388629:2:1","season":2,"number":1,"name":"Next Arc"}
	]}}`

const dramaSeries = `{"meta":{"imdb_id":"tt0903747","name":"Breaking Bad","genres":["Drama"],
	"videos":[{"id":"tt0903747:1:1","season":1,"episode":1}]}}`

func cinemetaServer(t *testing.T, hits *atomic.Int32, failures int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= failures {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		switch r.URL.Path {
		case "/meta/series/tt0388629.json":
			_, _ = w.Write([]byte(animeSeries))
		case "/meta/series/tt0903747.json":
			_, _ = w.Write([]byte(dramaSeries))
		case "/meta/movie/tt0111161.json":
			_, _ = w.Write([]byte(`{"meta":{"imdb_id":"tt0111161","name":"The Shawshank Redemption","releaseInfo":"1994","genres":["Drama"]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestCinemeta(srv *httptest.Server) *Cinemeta {
	c := NewCinemeta(CinemetaConfig{BaseURL: srv.URL + "/meta", Client: srv.Client()})
	c.client.delay = time.Millisecond
	return c
}

// ---------------------------------------------------------------------------
// Cinemeta

func TestCinemetaMovie(t *testing.T) {
	var hits atomic.Int32
	srv := cinemetaServer(t, &hits, 0)
	defer srv.Close()
	c := newTestCinemeta(srv)

	movie, err := c.Movie(context.Background(), "tt0111161")
	require.NoError(t, err)
	assert.Equal(t, domain.MovieMeta{ImdbID: "tt0111161", Name: "The Shawshank Redemption", Year: "1994", Genres: []string{"Drama"}}, movie)

	_, err = c.Movie(context.Background(), "tt0111161")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCinemetaSeriesMapsVideos(t *testing.T) {
	var hits atomic.Int32
	srv := cinemetaServer(t, &hits, 0)
	defer srv.Close()

	series, err := newTestCinemeta(srv).Series(context.Background(), "tt0388629")
	require.NoError(t, err)
	require.Len(t, series.Videos, 4)
	assert.True(t, series.IsAnimation())
	assert.Equal(t, 101, series.Videos[1].TvdbID)
	assert.Equal(t, "Romance Dawn", series.Videos[1].Title)
	assert.Equal(t, 1, series.Videos[3].Episode, "number is used when episode is missing")
}

func TestCinemetaRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := cinemetaServer(t, &hits, 2)
	defer srv.Close()

	_, err := newTestCinemeta(srv).Series(context.Background(), "tt0903747")
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestCinemetaNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := cinemetaServer(t, &hits, 0)
	defer srv.Close()

	_, err := newTestCinemeta(srv).Movie(context.Background(), "tt0000001")
	var statusErr *common.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCinemetaRejectsNonImdbIDs(t *testing.T) {
	c := NewCinemeta(CinemetaConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Series(context.Background(), "kitsu:1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

// ---------------------------------------------------------------------------
// TVDB

type tvdbFake struct {
	logins   atomic.Int32
	episodes atomic.Int32
	// expireFirst makes the first token be refused once.
	expireFirst bool
	refused     atomic.Bool
}

func (f *tvdbFake) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v4/login":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["apikey"] != "key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			n := f.logins.Add(1)
			_, _ = w.Write([]byte(`{"data":{"token":"token-` + string(rune('0'+n)) + `"}}`))
		case "/v4/episodes/101":
			f.episodes.Add(1)
			if f.expireFirst && !f.refused.Load() {
				f.refused.Store(true)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Authorization") == "" {
				t.Errorf("missing bearer token")
			}
			_, _ = w.Write([]byte(`{"status":"success","data":{"id":101,"seriesId":1,"number":1,"seasonNumber":1,"absoluteNumber":1001}}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func TestTVDBEpisodeLogsInOnceAndCaches(t *testing.T) {
	fake := &tvdbFake{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	client := NewTVDB(TVDBConfig{APIKey: "key", BaseURL: srv.URL + "/v4", Client: srv.Client()})

	ep, err := client.Episode(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 1001, ep.AbsoluteNumber)

	_, err = client.Episode(context.Background(), 101)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.logins.Load())
	assert.EqualValues(t, 1, fake.episodes.Load())
}

func TestTVDBRefreshesRefusedToken(t *testing.T) {
	fake := &tvdbFake{expireFirst: true}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	client := NewTVDB(TVDBConfig{APIKey: "key", BaseURL: srv.URL + "/v4", Client: srv.Client()})

	ep, err := client.Episode(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 1001, ep.AbsoluteNumber)
	assert.EqualValues(t, 2, fake.logins.Load())
}

func TestTVDBDisabledWithoutKey(t *testing.T) {
	client := NewTVDB(TVDBConfig{})
	assert.False(t, client.Enabled())
	_, err := client.Episode(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTVDBDisabled)
}

// ---------------------------------------------------------------------------
// Resolver

func TestResolverAnimationUsesTVDBAbsoluteNumber(t *testing.T) {
	var hits atomic.Int32
	meta := cinemetaServer(t, &hits, 0)
	defer meta.Close()
	fake := &tvdbFake{}
	tvdbSrv := httptest.NewServer(fake.handler(t))
	defer tvdbSrv.Close()

	resolver := NewResolver(newTestCinemeta(meta), NewTVDB(TVDBConfig{APIKey: "key", BaseURL: tvdbSrv.URL + "/v4", Client: tvdbSrv.Client()}))
	res, err := resolver.LookupEpisode(context.Background(), "tt0388629", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.EpisodeResolution{
		ImdbID: "tt0388629", Title: "One Piece", Season: 1, Episode: 1, Animation: true, AbsoluteNumber: 1001,
	}, res)
}

func TestResolverAnimationFallsBackToListingIndex(t *testing.T) {
	var hits atomic.Int32
	meta := cinemetaServer(t, &hits, 0)
	defer meta.Close()

	resolver := NewResolver(newTestCinemeta(meta), nil)
	res, err := resolver.LookupEpisode(context.Background(), "tt0388629", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AbsoluteNumber)

	res, err = resolver.LookupEpisode(context.Background(), "tt0388629", 1, 1)
	require.NoError(t, err)
	assert.Zero(t, res.AbsoluteNumber, "the first episode has no usable index")
}

func TestResolverNonAnimation(t *testing.T) {
	var hits atomic.Int32
	meta := cinemetaServer(t, &hits, 0)
	defer meta.Close()

	res, err := NewResolver(newTestCinemeta(meta), nil).LookupEpisode(context.Background(), "tt0903747", 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Animation)
	assert.Zero(t, res.AbsoluteNumber)
	assert.Equal(t, "Breaking Bad", res.Title)
}
