package tpb

import (
	"context"
	"encoding/json"
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
	defaultEndpoint = "https://apibay.org/q.php"
	sourceName      = "TPB"
	searchTTL       = 12 * time.Hour
	searchCapacity  = 4096
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider answers id queries from the apibay index.
type Provider struct {
	endpoint string
	fetcher  *common.Fetcher
	search   *cache.Cache[[]apiItem]
}

type apiItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	InfoHash string `json:"info_hash"`
	Size     string `json:"size"`
	Seeders  string `json:"seeders"`
	Leechers string `json:"leechers"`
	Added    string `json:"added"`
}

func NewProvider(cfg Config) *Provider {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Provider{
		endpoint: endpoint,
		fetcher:  common.NewFetcher(cfg.Client, cfg.UserAgent),
		search: cache.New("tpb", cache.Options[[]apiItem]{
			Capacity: searchCapacity,
			TTL:      cache.OutcomeTTL[[]apiItem](searchTTL, time.Minute),
			Store:    cfg.Store,
		}),
	}
}

func (p *Provider) Name() string {
	return sourceName
}

func (p *Provider) Supports(query domain.VideoQuery) bool {
	switch query.Kind {
	case domain.QueryImdbMovie, domain.QueryImdbSeries, domain.QueryImdbSeason:
		return true
	default:
		return false
	}
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.Candidate, error) {
		items, err := p.lookup(ctx, query.ImdbID)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Candidate, 0, len(items))
		for _, item := range items {
			if candidate, ok := toCandidate(item, query.Kind); ok {
				out = append(out, candidate)
			}
		}
		return out, nil
	})
}

func (p *Provider) lookup(ctx context.Context, imdbID string) ([]apiItem, error) {
	return p.search.Get(ctx, imdbID, func(ctx context.Context) ([]apiItem, error) {
		uri, err := url.Parse(p.endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		query := uri.Query()
		query.Set("q", imdbID)
		uri.RawQuery = query.Encode()

		payload, err := p.fetcher.Get(ctx, uri.String(), "application/json")
		if err != nil {
			return nil, err
		}
		return parseAPIItems(payload)
	})
}

// parseAPIItems decodes the result array. apibay answers a miss with a
// single placeholder row whose id is "0".
func parseAPIItems(payload []byte) ([]apiItem, error) {
	var items []apiItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("unexpected provider payload: %w", err)
	}
	if len(items) > 0 && strings.TrimSpace(items[0].ID) == "0" {
		return []apiItem{}, nil
	}
	return items, nil
}

func toCandidate(item apiItem, kind domain.QueryKind) (domain.Candidate, bool) {
	name := strings.TrimSpace(item.Name)
	infoHash := common.NormalizeInfoHash(item.InfoHash)
	if infoHash == "" || name == "" {
		return nil, false
	}
	seeds := common.Atoi(item.Seeders)
	peers := common.Atoi(item.Leechers)
	magnet := common.MagnetFromHash(infoHash)

	if kind == domain.QueryImdbSeason {
		return domain.CandidateSeason{
			Source:    sourceName,
			Title:     name,
			InfoHash:  infoHash,
			MagnetURI: magnet,
			Seeds:     seeds,
			Peers:     peers,
		}, true
	}
	return domain.CandidateStream{
		Source:    sourceName,
		Title:     name,
		InfoHash:  infoHash,
		MagnetURI: magnet,
		Quality:   quality.Classify(name),
		Seeds:     seeds,
		Peers:     peers,
		SizeBytes: atoi64(item.Size),
		Verified:  kind == domain.QueryImdbMovie,
	}, true
}

func atoi64(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return value
}
