package nyaa

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
	"torrentstream/streamservice/internal/quality"
)

const (
	defaultEndpoint = "https://nyaa.si"
	sourceName      = "Nyaa"
	searchTTL       = 12 * time.Hour
)

type Config struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Provider searches the English-translated anime category. It only
// answers absolute-number queries, which is how fansub releases are named.
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
		search: cache.New("nyaa", cache.Options[[]domain.CandidateStream]{
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
	return query.Kind == domain.QueryAbsoluteSeries
}

func (p *Provider) List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error] {
	return common.Lazy(ctx, func(ctx context.Context) ([]domain.CandidateStream, error) {
		text := query.AsQuery()
		return p.search.Get(ctx, text, func(ctx context.Context) ([]domain.CandidateStream, error) {
			return p.fetch(ctx, text)
		})
	})
}

func (p *Provider) fetch(ctx context.Context, text string) ([]domain.CandidateStream, error) {
	uri, err := url.Parse(p.endpoint + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := url.Values{}
	params.Set("f", "1")
	params.Set("c", "1_2")
	params.Set("s", "seeders")
	params.Set("o", "desc")
	params.Set("q", text)
	uri.RawQuery = params.Encode()

	payload, err := p.fetcher.Get(ctx, uri.String(), "text/html")
	if err != nil {
		return nil, err
	}
	rows, err := parseResults(payload)
	if err != nil {
		return nil, err
	}
	streams := make([]domain.CandidateStream, 0, len(rows))
	for _, row := range rows {
		hash := common.InfoHashFromMagnet(row.magnet)
		if hash == "" || row.title == "" {
			continue
		}
		streams = append(streams, domain.CandidateStream{
			Source:      sourceName,
			Title:       row.title,
			InfoHash:    hash,
			MagnetURI:   row.magnet,
			Quality:     quality.Classify(row.title),
			Seeds:       row.seeds,
			Peers:       row.peers,
			SizeBytes:   common.ParseHumanSize(row.size),
			SizeDisplay: row.size,
		})
	}
	return streams, nil
}

type resultRow struct {
	title  string
	size   string
	seeds  int
	peers  int
	magnet string
}

// parseResults reads table.torrent-list. Columns are category, name,
// links, size, date, seeders, leechers, completed.
func parseResults(payload []byte) ([]resultRow, error) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse nyaa html: %w", err)
	}
	table := common.FindNode(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Table && common.HasClass(n, "torrent-list")
	})
	if table == nil {
		return nil, nil
	}
	tbody := common.FindNode(table, func(n *html.Node) bool { return n.DataAtom == atom.Tbody })
	if tbody == nil {
		return nil, nil
	}

	var rows []resultRow
	for tr := range common.ChildElements(tbody, atom.Tr) {
		var cells []*html.Node
		for td := range common.ChildElements(tr, atom.Td) {
			cells = append(cells, td)
		}
		if len(cells) < 7 {
			continue
		}
		rows = append(rows, resultRow{
			title:  titleOf(cells[1]),
			size:   common.NodeText(cells[3]),
			seeds:  common.Atoi(common.NodeText(cells[5])),
			peers:  common.Atoi(common.NodeText(cells[6])),
			magnet: magnetOf(cells[2]),
		})
	}
	return rows, nil
}

// titleOf skips the comment counter link that precedes the title.
func titleOf(cell *html.Node) string {
	title := ""
	for a := range common.Descendants(cell, atom.A) {
		if common.HasClass(a, "comments") {
			continue
		}
		if value := common.Attr(a, "title"); value != "" {
			title = value
			continue
		}
		if text := common.NodeText(a); text != "" {
			title = text
		}
	}
	return title
}

func magnetOf(cell *html.Node) string {
	for a := range common.Descendants(cell, atom.A) {
		if href := common.Attr(a, "href"); strings.HasPrefix(href, "magnet:") {
			return href
		}
	}
	return ""
}
