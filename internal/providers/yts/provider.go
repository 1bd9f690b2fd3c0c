package yts

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
)

const (
	defaultEndpoint = "https://yts.mx/api/v2"
	sourceName      = "YTS"
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider answers movie id queries from the YTS catalogue. Its releases
// carry an explicit quality label, so results are trusted.
type Provider struct {
	endpoint string
	fetcher  *common.Fetcher
	details  *cache.Cache[movie]
}

type detailsResponse struct {
	Status string `json:"status"`
	Data   struct {
		Movie movie `json:"movie"`
	} `json:"data"`
}

type movie struct {
	ID        int       `json:"id"`
	ImdbCode  string    `json:"imdb_code"`
	Title     string    `json:"title"`
	TitleLong string    `json:"title_long"`
	Year      int       `json:"year"`
	Torrents  []torrent `json:"torrents"`
}

type torrent struct {
	Hash      string `json:"hash"`
	Quality   string `json:"quality"`
	Seeds     int    `json:"seeds"`
	Peers     int    `json:"peers"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"size_bytes"`
}

// detailsTTL keeps known movies for days and retries empty catalogue
// entries after a few hours.
func detailsTTL(m movie, err error) time.Duration {
	switch {
	case err != nil:
		return 5 * time.Minute
	case len(m.Torrents) > 0:
		return 72 * time.Hour
	default:
		return 6 * time.Hour
	}
}

func NewProvider(cfg Config) *Provider {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	fetcher := common.NewFetcher(cfg.Client, cfg.UserAgent)
	fetcher.Retry = common.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
	return &Provider{
		endpoint: endpoint,
		fetcher:  fetcher,
		details: cache.New("yts", cache.Options[movie]{
			Capacity: 8,
			TTL:      detailsTTL,
			Store:    cfg.Store,
		}),
	}
}

func (p *Provider) Name() string {
	return sourceName
}

func (p *Provider) Supports(query domain.VideoQuery) bool {
	return query.Kind == domain.QueryImdbMovie
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.CandidateStream, error) {
		m, err := p.details.Get(ctx, query.ImdbID, p.fetchDetails(query.ImdbID))
		if err != nil {
			return nil, err
		}
		return m.streams(), nil
	})
}

func (p *Provider) fetchDetails(imdbID string) func(context.Context) (movie, error) {
	return func(ctx context.Context) (movie, error) {
		uri, err := url.Parse(p.endpoint + "/movie_details.json")
		if err != nil {
			return movie{}, fmt.Errorf("invalid endpoint: %w", err)
		}
		query := uri.Query()
		query.Set("imdb_id", imdbID)
		uri.RawQuery = query.Encode()

		var resp detailsResponse
		if err := p.fetcher.GetJSON(ctx, uri.String(), &resp); err != nil {
			return movie{}, err
		}
		if resp.Status != "" && resp.Status != "ok" {
			return movie{}, fmt.Errorf("yts status %q", resp.Status)
		}
		return resp.Data.Movie, nil
	}
}

func (m movie) streams() []domain.CandidateStream {
	title := m.Title
	if title == "" {
		title = m.TitleLong
	}
	out := make([]domain.CandidateStream, 0, len(m.Torrents))
	for _, tor := range m.Torrents {
		hash := common.NormalizeInfoHash(tor.Hash)
		if hash == "" {
			continue
		}
		out = append(out, domain.CandidateStream{
			Source:      sourceName,
			Title:       title,
			InfoHash:    hash,
			MagnetURI:   common.MagnetFromHash(hash),
			Quality:     tor.Quality,
			Seeds:       tor.Seeds,
			Peers:       tor.Peers,
			SizeBytes:   tor.SizeBytes,
			SizeDisplay: tor.Size,
			Verified:    true,
		})
	}
	return out
}
