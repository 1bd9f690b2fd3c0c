package btdig

import (
	"context"
	"fmt"
	"html"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/quality"
)

const (
	defaultEndpoint = "https://btdig.com/search"
	sourceName      = "BTDig"
	maxResults      = 30
	searchTTL       = 12 * time.Hour
)

var magnetPattern = regexp.MustCompile(`magnet:\?xt=urn:btih:[a-zA-Z0-9]{32,40}[^\s"'<>]*`)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider searches the BTDig DHT index by title. The index carries no
// swarm numbers, so its streams rank last within their quality bucket.
type Provider struct {
	endpoint string
	fetcher  *common.Fetcher
	search   *cache.Cache[[]result]
}

type result struct {
	Name      string `json:"name"`
	InfoHash  string `json:"infoHash"`
	Magnet    string `json:"magnet"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

func NewProvider(cfg Config) *Provider {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Provider{
		endpoint: endpoint,
		fetcher:  common.NewFetcher(cfg.Client, cfg.UserAgent),
		search: cache.New("btdig", cache.Options[[]result]{
			Capacity: 1024,
			TTL:      cache.OutcomeTTL[[]result](searchTTL, 5*time.Minute),
			Store:    cfg.Store,
		}),
	}
}

func (p *Provider) Name() string {
	return sourceName
}

func (p *Provider) Supports(query domain.VideoQuery) bool {
	switch query.Kind {
	case domain.QueryMovie, domain.QuerySeries, domain.QuerySeason:
		return true
	default:
		return false
	}
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.Candidate, error) {
		text := strings.TrimSpace(query.AsQuery())
		results, err := p.search.Get(ctx, text, func(ctx context.Context) ([]result, error) {
			return p.fetch(ctx, text)
		})
		if err != nil {
			return nil, err
		}
		out := make([]domain.Candidate, 0, len(results))
		for _, r := range results {
			out = append(out, toCandidate(r, query.Kind))
		}
		return out, nil
	})
}

func (p *Provider) fetch(ctx context.Context, text string) ([]result, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := uri.Query()
	params.Set("q", text)
	params.Set("order", "0")
	uri.RawQuery = params.Encode()

	payload, err := p.fetcher.Get(ctx, uri.String(), "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	results := make([]result, 0)
	seen := make(map[string]struct{})
	for _, magnet := range extractMagnets(string(payload)) {
		r, ok := magnetToResult(magnet)
		if !ok {
			continue
		}
		if _, exists := seen[r.InfoHash]; exists {
			continue
		}
		seen[r.InfoHash] = struct{}{}
		results = append(results, r)
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

func toCandidate(r result, kind domain.QueryKind) domain.Candidate {
	if kind == domain.QuerySeason {
		return domain.CandidateSeason{
			Source:    sourceName,
			Title:     r.Name,
			InfoHash:  r.InfoHash,
			MagnetURI: r.Magnet,
		}
	}
	return domain.CandidateStream{
		Source:    sourceName,
		Title:     r.Name,
		InfoHash:  r.InfoHash,
		MagnetURI: r.Magnet,
		Quality:   quality.Classify(r.Name),
		SizeBytes: r.SizeBytes,
	}
}

func extractMagnets(htmlPayload string) []string {
	matches := magnetPattern.FindAllString(htmlPayload, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		out = append(out, strings.TrimSpace(html.UnescapeString(match)))
	}
	return out
}

// magnetToResult reads the hash, display name and exact length of a
// magnet. Magnets without a display name cannot be matched and are dropped.
func magnetToResult(magnet string) (result, bool) {
	uri, err := url.Parse(magnet)
	if err != nil || !strings.EqualFold(uri.Scheme, "magnet") {
		return result{}, false
	}
	query := uri.Query()
	infoHash := common.NormalizeInfoHash(query.Get("xt"))
	name := strings.TrimSpace(query.Get("dn"))
	if infoHash == "" || name == "" {
		return result{}, false
	}
	sizeBytes, err := strconv.ParseInt(strings.TrimSpace(query.Get("xl")), 10, 64)
	if err != nil || sizeBytes < 0 {
		sizeBytes = 0
	}
	return result{
		Name:      name,
		InfoHash:  infoHash,
		Magnet:    magnet,
		SizeBytes: sizeBytes,
	}, true
}
