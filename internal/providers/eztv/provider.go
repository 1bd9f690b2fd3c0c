package eztv

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/quality"
)

const (
	defaultEndpoint = "https://eztvx.to/api"
	sourceName      = "EZTV"
	pageLimit       = 100
	pageTTL         = 12 * time.Hour
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider pages through every torrent EZTV lists for a series and keeps
// the ones tagged with the requested episode.
type Provider struct {
	endpoint string
	fetcher  *common.Fetcher
	pages    *cache.Cache[page]
}

type page struct {
	TorrentsCount int       `json:"torrents_count"`
	Limit         int       `json:"limit"`
	Page          int       `json:"page"`
	Torrents      []torrent `json:"torrents"`
}

type torrent struct {
	Hash      string `json:"hash"`
	Filename  string `json:"filename"`
	MagnetURL string `json:"magnet_url"`
	Title     string `json:"title"`
	ImdbID    string `json:"imdb_id"`
	Season    string `json:"season"`
	Episode   string `json:"episode"`
	Seeds     int    `json:"seeds"`
	Peers     int    `json:"peers"`
	SizeBytes string `json:"size_bytes"`
}

func NewProvider(cfg Config) *Provider {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Provider{
		endpoint: endpoint,
		fetcher:  common.NewFetcher(cfg.Client, cfg.UserAgent),
		pages: cache.New("eztv", cache.Options[page]{
			Capacity: 4096,
			TTL:      cache.OutcomeTTL[page](pageTTL, time.Minute),
			Store:    cfg.Store,
		}),
	}
}

func (p *Provider) Name() string {
	return sourceName
}

func (p *Provider) Supports(query domain.VideoQuery) bool {
	return query.Kind == domain.QueryImdbSeries
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	imdbID := strings.TrimPrefix(query.ImdbID, "tt")
	return common.Pages(ctx, func(ctx context.Context, n int) ([]domain.Candidate, bool, error) {
		pg, err := p.page(ctx, imdbID, n)
		if err != nil {
			return nil, false, err
		}
		var out []domain.Candidate
		for _, tor := range pg.Torrents {
			if stream, ok := tor.asStream(query.Season, query.Episode); ok {
				out = append(out, stream)
			}
		}
		limit := pg.Limit
		if limit <= 0 {
			limit = pageLimit
		}
		return out, len(pg.Torrents) < limit, nil
	})
}

func (p *Provider) page(ctx context.Context, imdbID string, n int) (page, error) {
	key := imdbID + "/" + strconv.Itoa(n)
	return p.pages.Get(ctx, key, func(ctx context.Context) (page, error) {
		uri, err := url.Parse(p.endpoint + "/get-torrents")
		if err != nil {
			return page{}, fmt.Errorf("invalid endpoint: %w", err)
		}
		params := uri.Query()
		params.Set("imdb_id", imdbID)
		params.Set("limit", strconv.Itoa(pageLimit))
		params.Set("page", strconv.Itoa(n))
		uri.RawQuery = params.Encode()

		var pg page
		if err := p.fetcher.GetJSON(ctx, uri.String(), &pg); err != nil {
			return page{}, err
		}
		return pg, nil
	})
}

func (t torrent) asStream(season, episode int) (domain.CandidateStream, bool) {
	if common.Atoi(t.Season) != season || common.Atoi(t.Episode) != episode {
		return domain.CandidateStream{}, false
	}
	hash := common.NormalizeInfoHash(t.Hash)
	if hash == "" {
		hash = common.InfoHashFromMagnet(t.MagnetURL)
	}
	if hash == "" {
		return domain.CandidateStream{}, false
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(t.SizeBytes), 10, 64)
	return domain.CandidateStream{
		Source:    sourceName,
		Title:     t.Title,
		InfoHash:  hash,
		MagnetURI: t.MagnetURL,
		Quality:   quality.Classify(t.Title),
		Seeds:     t.Seeds,
		Peers:     t.Peers,
		SizeBytes: size,
		Verified:  true,
	}, true
}
