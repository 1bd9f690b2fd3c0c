package rargb

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/quality"
)

const (
	defaultEndpoint   = "https://rargb.to"
	sourceName        = "Rarbg"
	searchTTL         = 12 * time.Hour
	maxDetailInFlight = 15
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider searches the rargb.to mirror. Result rows carry no magnet, so
// every row costs one detail page request.
type Provider struct {
	endpoint string
	fetcher  *common.Fetcher
	search   *cache.Cache[[]domain.CandidateStream]
}

func NewProvider(cfg Config) *Provider {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Provider{
		endpoint: endpoint,
		fetcher:  common.NewFetcher(cfg.Client, cfg.UserAgent),
		search: cache.New("rargb", cache.Options[[]domain.CandidateStream]{
			Capacity: 4096,
			TTL:      cache.OutcomeTTL[[]domain.CandidateStream](searchTTL, time.Minute),
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
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.CandidateStream, error) {
		categories := []string{"tv", "anime"}
		if query.Kind == domain.QueryMovie {
			categories = []string{"movies"}
		}
		// A multi-episode pack such as S01E02-E04 never holds the single
		// episode asked for in a playable form.
		exclude := ""
		if query.Kind == domain.QuerySeries {
			exclude = fmt.Sprintf("S%02dE%02d-", query.Season, query.Episode)
		}
		text := query.AsQuery()
		key := strings.Join(categories, ",") + "|" + exclude + "|" + text
		return p.search.Get(ctx, key, func(ctx context.Context) ([]domain.CandidateStream, error) {
			return p.fetch(ctx, text, categories, exclude)
		})
	})
}

func (p *Provider) fetch(ctx context.Context, text string, categories []string, exclude string) ([]domain.CandidateStream, error) {
	base, err := url.Parse(p.endpoint + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	uri := base.ResolveReference(&url.URL{Path: "search/"})
	params := url.Values{}
	params.Set("search", text)
	for _, category := range categories {
		params.Add("category[]", category)
	}
	uri.RawQuery = params.Encode()

	payload, err := p.fetcher.Get(ctx, uri.String(), "text/html")
	if err != nil {
		return nil, err
	}
	rows, err := parseResults(payload)
	if err != nil {
		return nil, err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row.href == "" || row.title == "" {
			continue
		}
		if exclude != "" && strings.Contains(strings.ToUpper(row.title), exclude) {
			continue
		}
		kept = append(kept, row)
	}
	magnets := p.loadMagnets(ctx, base, kept)

	streams := make([]domain.CandidateStream, 0, len(kept))
	for i, row := range kept {
		hash := common.InfoHashFromMagnet(magnets[i])
		if hash == "" {
			continue
		}
		streams = append(streams, domain.CandidateStream{
			Source:      sourceName,
			Title:       row.title,
			InfoHash:    hash,
			MagnetURI:   magnets[i],
			Quality:     quality.Classify(row.title),
			Seeds:       row.seeds,
			Peers:       row.peers,
			SizeBytes:   common.ParseHumanSize(row.size),
			SizeDisplay: row.size,
		})
	}
	return streams, nil
}

// loadMagnets leaves an empty string for rows whose detail page failed.
func (p *Provider) loadMagnets(ctx context.Context, base *url.URL, rows []resultRow) []string {
	magnets := make([]string, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDetailInFlight)
	for i, row := range rows {
		g.Go(func() error {
			ref, err := url.Parse(row.href)
			if err != nil {
				return nil
			}
			detailURL := base.ResolveReference(ref).String()
			payload, err := p.fetcher.Get(gctx, detailURL, "text/html")
			if err != nil {
				slog.Debug("rargb detail page failed", slog.String("url", detailURL), slog.String("error", err.Error()))
				return nil
			}
			magnets[i] = parseMagnet(payload)
			return nil
		})
	}
	_ = g.Wait()
	return magnets
}

type resultRow struct {
	href  string
	title string
	size  string
	seeds int
	peers int
}

// parseResults reads the tr.lista2 rows of table.lista2t. Columns are
// category, name, date, genre, size, seeders, leechers, uploader.
func parseResults(payload []byte) ([]resultRow, error) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse rargb html: %w", err)
	}
	table := common.FindNode(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Table && common.HasClass(n, "lista2t")
	})
	if table == nil {
		return nil, nil
	}

	var rows []resultRow
	for tr := range common.Descendants(table, atom.Tr) {
		if !common.HasClass(tr, "lista2") {
			continue
		}
		var cells []*html.Node
		for td := range common.ChildElements(tr, atom.Td) {
			cells = append(cells, td)
		}
		if len(cells) < 7 {
			continue
		}
		row := resultRow{
			size:  common.NodeText(cells[4]),
			seeds: common.Atoi(common.NodeText(cells[5])),
			peers: common.Atoi(common.NodeText(cells[6])),
		}
		for a := range common.Descendants(cells[1], atom.A) {
			row.href = common.Attr(a, "href")
			row.title = common.Attr(a, "title")
			if row.title == "" {
				row.title = common.NodeText(a)
			}
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseMagnet returns the first magnet link inside a td.lista cell.
func parseMagnet(payload []byte) string {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return ""
	}
	for td := range common.Descendants(doc, atom.Td) {
		if !common.HasClass(td, "lista") {
			continue
		}
		for a := range common.Descendants(td, atom.A) {
			if href := common.Attr(a, "href"); strings.HasPrefix(href, "magnet:") {
				return href
			}
		}
	}
	return ""
}
