package x1337

import (
	"context"
	"fmt"
	"html"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/quality"
)

const (
	defaultEndpoint   = "https://1337x.to"
	sourceName        = "1337x"
	maxEntries        = 10
	maxDetailInFlight = 15
	detailTTL         = 24 * time.Hour
)

var (
	searchEntryPattern = regexp.MustCompile(`(?is)<a[^>]+href="(/torrent/[^"]+)"[^>]*>(.*?)</a>`)
	magnetPattern      = regexp.MustCompile(`magnet:\?xt=urn:btih:[a-zA-Z0-9]{32,40}[^\s"'<>]*`)
	seedersPattern     = regexp.MustCompile(`(?is)(?:Seeders|Seeds?)\s*</[^>]*>\s*<[^>]*>\s*([0-9]+)`)
	leechersPattern    = regexp.MustCompile(`(?is)(?:Leechers|Peers?)\s*</[^>]*>\s*<[^>]*>\s*([0-9]+)`)
	sizePattern        = regexp.MustCompile(`(?is)(?:Total size|Size)\s*</[^>]*>\s*<[^>]*>\s*([^<]+)`)
)

type Config struct {
	// Endpoint is a comma separated list of mirrors tried in order.
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider searches 1337x by title and reads the magnet and swarm numbers
// from each result's detail page.
type Provider struct {
	endpoints []string
	fetcher   *common.Fetcher
	search    *cache.Cache[[]searchEntry]
	details   *cache.Cache[detail]
}

type searchEntry struct {
	Name string `json:"name"`
	// URL is absolute, resolved against the mirror that answered.
	URL string `json:"url"`
}

type detail struct {
	Magnet    string `json:"magnet"`
	Seeders   int    `json:"seeders"`
	Leechers  int    `json:"leechers"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"sizeBytes"`
}

func searchTTL(entries []searchEntry, err error) time.Duration {
	switch {
	case err != nil:
		return 5 * time.Minute
	case len(entries) > 5:
		return 72 * time.Hour
	default:
		return 3 * time.Hour
	}
}

func NewProvider(cfg Config) *Provider {
	fetcher := common.NewFetcher(cfg.Client, cfg.UserAgent)
	fetcher.Retry = common.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Second,
	}
	return &Provider{
		endpoints: parseEndpoints(cfg.Endpoint),
		fetcher:   fetcher,
		search: cache.New("x1337_search", cache.Options[[]searchEntry]{
			Capacity: 512,
			TTL:      searchTTL,
			Store:    cfg.Store,
		}),
		details: cache.New("x1337_detail", cache.Options[detail]{
			Capacity: 4096,
			TTL:      cache.OutcomeTTL[detail](detailTTL, time.Minute),
			Store:    cfg.Store,
		}),
	}
}

func (p *Provider) Name() string {
	return sourceName
}

func (p *Provider) Supports(query domain.VideoQuery) bool {
	switch query.Kind {
	case domain.QueryMovie, domain.QuerySeries, domain.QuerySeason, domain.QueryAbsoluteSeries:
		return true
	default:
		return false
	}
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.Candidate, error) {
		category := "TV"
		if query.Kind == domain.QueryMovie {
			category = "Movies"
		}
		entries, err := p.searchEntries(ctx, query.AsQuery(), category)
		if err != nil {
			return nil, err
		}
		if len(entries) > maxEntries {
			entries = entries[:maxEntries]
		}
		details := p.loadDetails(ctx, entries)

		out := make([]domain.Candidate, 0, len(entries))
		for i, entry := range entries {
			if candidate, ok := toCandidate(entry, details[i], query.Kind); ok {
				out = append(out, candidate)
			}
		}
		return out, nil
	})
}

func (p *Provider) searchEntries(ctx context.Context, text, category string) ([]searchEntry, error) {
	key := category + "/" + text
	return p.search.Get(ctx, key, func(ctx context.Context) ([]searchEntry, error) {
		var lastErr error
		for _, endpoint := range p.endpoints {
			entries, err := p.fetchSearchEntries(ctx, endpoint, text, category)
			if err == nil {
				return entries, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return nil, lastErr
	})
}

func (p *Provider) fetchSearchEntries(ctx context.Context, endpoint, text, category string) ([]searchEntry, error) {
	baseURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	path := "/sort-category-search/" + url.PathEscape(strings.TrimSpace(text)) + "/" + category + "/seeders/desc/1/"
	searchURL := baseURL.ResolveReference(&url.URL{Path: path})

	payload, err := p.fetcher.Get(ctx, searchURL.String(), "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	return parseSearchEntries(string(payload), baseURL), nil
}

// loadDetails fetches the detail pages with bounded concurrency. A page
// that fails leaves a zero detail in its slot.
func (p *Provider) loadDetails(ctx context.Context, entries []searchEntry) []detail {
	details := make([]detail, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDetailInFlight)
	for i, entry := range entries {
		g.Go(func() error {
			d, err := p.details.Get(gctx, entry.URL, func(ctx context.Context) (detail, error) {
				payload, err := p.fetcher.Get(ctx, entry.URL, "text/html,application/xhtml+xml")
				if err != nil {
					return detail{}, err
				}
				return parseDetailHTML(string(payload)), nil
			})
			if err != nil {
				slog.Debug("1337x detail page failed", slog.String("url", entry.URL), slog.String("error", err.Error()))
				return nil
			}
			details[i] = d
			return nil
		})
	}
	_ = g.Wait()
	return details
}

func toCandidate(entry searchEntry, d detail, kind domain.QueryKind) (domain.Candidate, bool) {
	infoHash := common.InfoHashFromMagnet(d.Magnet)
	if infoHash == "" {
		return nil, false
	}
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return nil, false
	}
	if kind == domain.QuerySeason {
		return domain.CandidateSeason{
			Source:    sourceName,
			Title:     name,
			InfoHash:  infoHash,
			MagnetURI: d.Magnet,
			Seeds:     d.Seeders,
			Peers:     d.Leechers,
		}, true
	}
	return domain.CandidateStream{
		Source:      sourceName,
		Title:       name,
		InfoHash:    infoHash,
		MagnetURI:   d.Magnet,
		Quality:     quality.Classify(name),
		Seeds:       d.Seeders,
		Peers:       d.Leechers,
		SizeBytes:   d.SizeBytes,
		SizeDisplay: d.Size,
	}, true
}

func parseSearchEntries(payload string, baseURL *url.URL) []searchEntry {
	matches := searchEntryPattern.FindAllStringSubmatch(payload, -1)
	if len(matches) == 0 {
		return nil
	}
	items := make([]searchEntry, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		path := strings.TrimSpace(match[1])
		if path == "" {
			continue
		}
		if _, exists := seen[path]; exists {
			continue
		}
		seen[path] = struct{}{}
		name := common.CleanHTMLText(match[2])
		if name == "" {
			continue
		}
		ref, err := url.Parse(path)
		if err != nil {
			continue
		}
		items = append(items, searchEntry{Name: name, URL: baseURL.ResolveReference(ref).String()})
	}
	return items
}

func parseEndpoints(raw string) []string {
	value := strings.TrimSpace(raw)
	if value == "" {
		value = defaultEndpoint + ",https://1377x.to"
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		endpoint := strings.TrimSpace(part)
		if endpoint == "" {
			continue
		}
		if _, exists := seen[endpoint]; exists {
			continue
		}
		seen[endpoint] = struct{}{}
		items = append(items, endpoint)
	}
	if len(items) == 0 {
		return []string{defaultEndpoint}
	}
	return items
}

func parseDetailHTML(payload string) detail {
	size := findFirstText(payload, sizePattern)
	return detail{
		Magnet:    strings.TrimSpace(html.UnescapeString(magnetPattern.FindString(payload))),
		Seeders:   common.Atoi(findFirstText(payload, seedersPattern)),
		Leechers:  common.Atoi(findFirstText(payload, leechersPattern)),
		Size:      size,
		SizeBytes: common.ParseHumanSize(size),
	}
}

func findFirstText(payload string, pattern *regexp.Regexp) string {
	match := pattern.FindStringSubmatch(payload)
	if len(match) < 2 {
		return ""
	}
	return common.CleanHTMLText(match[1])
}
