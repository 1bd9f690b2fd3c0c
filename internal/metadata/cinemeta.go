package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
)

const DefaultCinemetaBaseURL = "https://v3-cinemeta.strem.io/meta"

type CinemetaConfig struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Cinemeta reads movie and series metadata from the Stremio catalogue.
type Cinemeta struct {
	baseURL string
	client  *jsonClient
	movies  *cache.Cache[domain.MovieMeta]
	series  *cache.Cache[domain.SeriesMeta]
}

func NewCinemeta(cfg CinemetaConfig) *Cinemeta {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultCinemetaBaseURL
	}
	return &Cinemeta{
		baseURL: baseURL,
		client:  newJSONClient(cfg.Client, cfg.UserAgent),
		movies: cache.New("cinemeta_movie", cache.Options[domain.MovieMeta]{
			Capacity: 256,
			TTL:      cache.OutcomeTTL[domain.MovieMeta](7*24*time.Hour, 5*time.Minute),
			Store:    cfg.Store,
		}),
		series: cache.New("cinemeta_series", cache.Options[domain.SeriesMeta]{
			Capacity: 256,
			TTL:      cache.OutcomeTTL[domain.SeriesMeta](12*time.Hour, 5*time.Minute),
			Store:    cfg.Store,
		}),
	}
}

type cinemetaMovie struct {
	Meta struct {
		ImdbID      string   `json:"imdb_id"`
		Name        string   `json:"name"`
		ReleaseInfo string   `json:"releaseInfo"`
		Genres      []string `json:"genres"`
	} `json:"meta"`
}

type cinemetaSeries struct {
	Meta struct {
		ImdbID string          `json:"imdb_id"`
		Name   string          `json:"name"`
		Genres []string        `json:"genres"`
		Videos []cinemetaVideo `json:"videos"`
	} `json:"meta"`
}

type cinemetaVideo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Title   string `json:"title"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Number  int    `json:"number"`
	TvdbID  *int   `json:"tvdb_id"`
}

func (c *Cinemeta) Movie(ctx context.Context, imdbID string) (domain.MovieMeta, error) {
	if !domain.IsImdbID(imdbID) {
		return domain.MovieMeta{}, fmt.Errorf("%w: %q is not an imdb id", domain.ErrInvalidRequest, imdbID)
	}
	return c.movies.Get(ctx, imdbID, func(ctx context.Context) (domain.MovieMeta, error) {
		var payload cinemetaMovie
		if err := c.client.do(ctx, request{method: http.MethodGet, url: c.url("movie", imdbID)}, &payload); err != nil {
			return domain.MovieMeta{}, fmt.Errorf("cinemeta movie %s: %w", imdbID, err)
		}
		if payload.Meta.Name == "" {
			return domain.MovieMeta{}, fmt.Errorf("cinemeta movie %s: %w", imdbID, domain.ErrNotFound)
		}
		return domain.MovieMeta{
			ImdbID: firstNonEmpty(payload.Meta.ImdbID, imdbID),
			Name:   payload.Meta.Name,
			Year:   payload.Meta.ReleaseInfo,
			Genres: payload.Meta.Genres,
		}, nil
	})
}

func (c *Cinemeta) Series(ctx context.Context, imdbID string) (domain.SeriesMeta, error) {
	if !domain.IsImdbID(imdbID) {
		return domain.SeriesMeta{}, fmt.Errorf("%w: %q is not an imdb id", domain.ErrInvalidRequest, imdbID)
	}
	return c.series.Get(ctx, imdbID, func(ctx context.Context) (domain.SeriesMeta, error) {
		var payload cinemetaSeries
		if err := c.client.do(ctx, request{method: http.MethodGet, url: c.url("series", imdbID)}, &payload); err != nil {
			return domain.SeriesMeta{}, fmt.Errorf("cinemeta series %s: %w", imdbID, err)
		}
		if payload.Meta.Name == "" {
			return domain.SeriesMeta{}, fmt.Errorf("cinemeta series %s: %w", imdbID, domain.ErrNotFound)
		}
		meta := domain.SeriesMeta{
			ImdbID: firstNonEmpty(payload.Meta.ImdbID, imdbID),
			Name:   payload.Meta.Name,
			Genres: payload.Meta.Genres,
			Videos: make([]domain.Video, 0, len(payload.Meta.Videos)),
		}
		for _, v := range payload.Meta.Videos {
			episode := v.Episode
			if episode == 0 {
				episode = v.Number
			}
			video := domain.Video{
				ID:      v.ID,
				Title:   firstNonEmpty(v.Name, v.Title),
				Season:  v.Season,
				Episode: episode,
			}
			if v.TvdbID != nil {
				video.TvdbID = *v.TvdbID
			}
			meta.Videos = append(meta.Videos, video)
		}
		return meta, nil
	})
}

func (c *Cinemeta) url(kind, imdbID string) string {
	return c.baseURL + "/" + kind + "/" + url.PathEscape(imdbID) + ".json"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
