package torznab

import (
	"context"
	"encoding/xml"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/quality"
)

const (
	defaultName            = "Torznab"
	searchTTL              = 12 * time.Hour
	maxConcurrentDownloads = 5
	torrentDownloadTimeout = 4 * time.Second
)

type Config struct {
	// Name labels results whose items carry no indexer attribute.
	Name      string
	Endpoint  string
	APIKey    string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider queries a Jackett or Prowlarr Torznab feed by IMDb id.
type Provider struct {
	name     string
	endpoint string
	apiKey   string
	fetcher  *common.Fetcher
	search   *cache.Cache[[]result]
}

// result is a parsed feed item. Season queries turn results into seasons
// and other queries into streams.
type result struct {
	Title     string `json:"title"`
	Indexer   string `json:"indexer,omitempty"`
	InfoHash  string `json:"infoHash"`
	Magnet    string `json:"magnet,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	Seeders   int    `json:"seeders"`
	Leechers  int    `json:"leechers"`
}

func NewProvider(cfg Config) *Provider {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = defaultName
	}
	return &Provider{
		name:     name,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		fetcher:  common.NewFetcher(cfg.Client, cfg.UserAgent),
		search: cache.New("torznab", cache.Options[[]result]{
			Capacity: 2048,
			TTL:      cache.OutcomeTTL[[]result](searchTTL, time.Minute),
			Store:    cfg.Store,
		}),
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Configured reports whether the feed has an endpoint and an API key,
// either explicit or embedded in the endpoint's query string.
func (p *Provider) Configured() bool {
	if p.endpoint == "" {
		return false
	}
	if p.apiKey != "" {
		return true
	}
	return endpointHasAPIKey(p.endpoint)
}

func (p *Provider) Supports(query domain.VideoQuery) bool {
	switch query.Kind {
	case domain.QueryImdbMovie, domain.QueryImdbSeries, domain.QueryImdbSeason:
		return p.Configured()
	default:
		return false
	}
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.Candidate, error) {
		uri, err := p.searchURL(query)
		if err != nil {
			return nil, err
		}
		results, err := p.search.Get(ctx, uri, func(ctx context.Context) ([]result, error) {
			return p.fetch(ctx, uri)
		})
		if err != nil {
			return nil, err
		}
		out := make([]domain.Candidate, 0, len(results))
		for _, r := range results {
			out = append(out, p.toCandidate(r, query.Kind))
		}
		return out, nil
	})
}

func (p *Provider) searchURL(query domain.VideoQuery) (string, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	params := uri.Query()
	params.Set("imdbid", strings.TrimPrefix(query.ImdbID, "tt"))
	switch query.Kind {
	case domain.QueryImdbMovie:
		params.Set("t", "movie")
	case domain.QueryImdbSeries:
		params.Set("t", "tvsearch")
		params.Set("season", strconv.Itoa(query.Season))
		params.Set("ep", strconv.Itoa(query.Episode))
	case domain.QueryImdbSeason:
		params.Set("t", "tvsearch")
		params.Set("season", strconv.Itoa(query.Season))
	default:
		return "", fmt.Errorf("%w: torznab cannot search %s", domain.ErrInvalidQuery, query.Kind)
	}
	// Jackett only includes infohash, seeders and size with extended output.
	if params.Get("extended") == "" {
		params.Set("extended", "1")
	}
	if params.Get("apikey") == "" && p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}
	uri.RawQuery = params.Encode()
	return uri.String(), nil
}

func (p *Provider) toCandidate(r result, kind domain.QueryKind) domain.Candidate {
	source := r.Indexer
	if source == "" {
		source = p.name
	}
	if kind == domain.QueryImdbSeason {
		return domain.CandidateSeason{
			Source:    source,
			Title:     r.Title,
			InfoHash:  r.InfoHash,
			MagnetURI: r.Magnet,
			Seeds:     r.Seeders,
			Peers:     r.Leechers,
		}
	}
	return domain.CandidateStream{
		Source:    source,
		Title:     r.Title,
		InfoHash:  r.InfoHash,
		MagnetURI: r.Magnet,
		Quality:   quality.Classify(r.Title),
		Seeds:     r.Seeders,
		Peers:     r.Leechers,
		SizeBytes: r.SizeBytes,
		// Indexers may ignore season and ep, so only movie hits are trusted.
		Verified: kind == domain.QueryImdbMovie,
	}
}

func (p *Provider) fetch(ctx context.Context, uri string) ([]result, error) {
	payload, err := p.fetcher.Get(ctx, uri, "application/xml,text/xml,application/rss+xml")
	if err != nil {
		return nil, err
	}
	items, err := parseTorznabResponse(payload)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []result{}, nil
	}

	downloaded := p.prefetchMissingInfoHashes(ctx, items)
	results := make([]result, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		r, ok := itemToResult(item, downloaded)
		if !ok {
			continue
		}
		if _, exists := seen[r.InfoHash]; exists {
			continue
		}
		seen[r.InfoHash] = struct{}{}
		results = append(results, r)
	}
	return results, nil
}

func itemToResult(item torznabItem, downloaded map[string]string) (result, bool) {
	name := strings.TrimSpace(item.Title)
	if name == "" {
		return result{}, false
	}
	attrs := item.attrMap()

	magnet := firstMagnet(item.Guid, item.Link, item.Enclosure.URL)
	infoHash := common.NormalizeInfoHash(attrs["infohash"])
	if infoHash == "" && magnet != "" {
		infoHash = common.InfoHashFromMagnet(magnet)
	}
	if infoHash == "" {
		infoHash = downloaded[item.downloadURL()]
	}
	if infoHash == "" {
		return result{}, false
	}
	if magnet == "" {
		magnet = common.BuildMagnet(infoHash, name, common.DefaultTrackers)
	}

	sizeBytes := parseI64(attrs["size"])
	if sizeBytes <= 0 && item.Enclosure.Length > 0 {
		sizeBytes = item.Enclosure.Length
	}
	seeders := common.Atoi(attrs["seeders"])
	leechers := common.Atoi(attrs["leechers"])
	if leechers == 0 {
		if peers := common.Atoi(attrs["peers"]); peers > seeders {
			leechers = peers - seeders
		}
	}

	return result{
		Title:     name,
		Indexer:   strings.TrimSpace(attrs["indexer"]),
		InfoHash:  infoHash,
		Magnet:    magnet,
		SizeBytes: sizeBytes,
		Seeders:   seeders,
		Leechers:  leechers,
	}, true
}

// prefetchMissingInfoHashes downloads the .torrent of every item that has
// neither an infohash attribute nor a magnet link and returns download URL
// to infohash. Downloads run with bounded concurrency.
func (p *Provider) prefetchMissingInfoHashes(ctx context.Context, items []torznabItem) map[string]string {
	var urls []string
	queued := make(map[string]struct{})
	for _, item := range items {
		if common.NormalizeInfoHash(item.attrMap()["infohash"]) != "" {
			continue
		}
		if firstMagnet(item.Guid, item.Link, item.Enclosure.URL) != "" {
			continue
		}
		downloadURL := item.downloadURL()
		if downloadURL == "" {
			continue
		}
		if _, exists := queued[downloadURL]; exists {
			continue
		}
		queued[downloadURL] = struct{}{}
		urls = append(urls, downloadURL)
	}
	if len(urls) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(maxConcurrentDownloads)
	results := make(map[string]string, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, downloadURL := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			downloadCtx, cancel := context.WithTimeout(ctx, torrentDownloadTimeout)
			defer cancel()
			payload, err := p.fetcher.Get(downloadCtx, downloadURL, "application/x-bittorrent,application/octet-stream,*/*")
			if err != nil {
				return
			}
			hash, err := InfoHashFromTorrent(payload)
			if err != nil {
				return
			}
			mu.Lock()
			results[downloadURL] = hash
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

type torznabResponse struct {
	Channel torznabChannel `xml:"channel"`
}

type torznabChannel struct {
	Items []torznabItem `xml:"item"`
}

type torznabItem struct {
	Title     string           `xml:"title"`
	Guid      string           `xml:"guid"`
	Link      string           `xml:"link"`
	Enclosure torznabEnclosure `xml:"enclosure"`
	Attrs     []torznabAttr    `xml:"attr"`
}

type torznabEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// attrMap keeps the first value of each attribute, keyed in lower case.
func (item torznabItem) attrMap() map[string]string {
	attrs := make(map[string]string, len(item.Attrs))
	for _, attr := range item.Attrs {
		key := strings.ToLower(strings.TrimSpace(attr.Name))
		if key == "" {
			continue
		}
		if _, exists := attrs[key]; exists {
			continue
		}
		attrs[key] = strings.TrimSpace(attr.Value)
	}
	return attrs
}

func (item torznabItem) downloadURL() string {
	if value := strings.TrimSpace(item.Enclosure.URL); value != "" {
		return value
	}
	return strings.TrimSpace(item.Link)
}

func parseTorznabResponse(payload []byte) ([]torznabItem, error) {
	var rss torznabResponse
	if err := xml.Unmarshal(payload, &rss); err != nil {
		return nil, fmt.Errorf("invalid torznab XML: %w", err)
	}
	return rss.Channel.Items, nil
}

func firstMagnet(candidates ...string) string {
	for _, candidate := range candidates {
		value := strings.TrimSpace(candidate)
		if strings.HasPrefix(strings.ToLower(value), "magnet:?") {
			return value
		}
	}
	return ""
}

func parseI64(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func endpointHasAPIKey(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.TrimSpace(parsed.Query().Get("apikey")) != ""
}
