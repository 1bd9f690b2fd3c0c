package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"torrentstream/streamservice/internal/cache"
)

const DefaultTVDBBaseURL = "https://api4.thetvdb.com/v4"

var ErrTVDBDisabled = errors.New("tvdb api key not configured")

type TVDBConfig struct {
	APIKey    string
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Episode is the part of a TVDB episode record used for absolute numbering.
type Episode struct {
	ID             int    `json:"id"`
	SeriesID       int    `json:"seriesId"`
	Name           string `json:"name"`
	Number         int    `json:"number"`
	SeasonNumber   int    `json:"seasonNumber"`
	AbsoluteNumber int    `json:"absoluteNumber"`
}

// TVDB is a TheTVDB v4 client. The login token is kept until the API
// rejects it.
type TVDB struct {
	apiKey   string
	baseURL  string
	client   *jsonClient
	episodes *cache.Cache[Episode]

	mu    sync.Mutex
	token string
}

func NewTVDB(cfg TVDBConfig) *TVDB {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTVDBBaseURL
	}
	return &TVDB{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		client:  newJSONClient(cfg.Client, cfg.UserAgent),
		episodes: cache.New("tvdb_episode", cache.Options[Episode]{
			Capacity: 1024,
			TTL:      cache.OutcomeTTL[Episode](7*24*time.Hour, time.Hour),
			Store:    cfg.Store,
		}),
	}
}

func (c *TVDB) Enabled() bool {
	return c != nil && c.apiKey != ""
}

func (c *TVDB) Episode(ctx context.Context, id int) (Episode, error) {
	if !c.Enabled() {
		return Episode{}, ErrTVDBDisabled
	}
	return c.episodes.Get(ctx, strconv.Itoa(id), func(ctx context.Context) (Episode, error) {
		var payload struct {
			Data Episode `json:"data"`
		}
		err := c.authorized(ctx, request{method: http.MethodGet, url: c.baseURL + "/episodes/" + strconv.Itoa(id)}, &payload)
		if err != nil {
			return Episode{}, fmt.Errorf("tvdb episode %d: %w", id, err)
		}
		return payload.Data, nil
	})
}

// authorized sends req with the current token, logging in again once when
// the token is refused.
func (c *TVDB) authorized(ctx context.Context, req request, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	req.token = token
	err = c.client.do(ctx, req, out)
	if !isStatus(err, http.StatusUnauthorized) {
		return err
	}
	c.dropToken(token)
	if token, err = c.ensureToken(ctx); err != nil {
		return err
	}
	req.token = token
	return c.client.do(ctx, req, out)
}

func (c *TVDB) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	login := request{method: http.MethodPost, url: c.baseURL + "/login", body: map[string]string{"apikey": c.apiKey}}
	if err := c.client.do(ctx, login, &payload); err != nil {
		return "", fmt.Errorf("tvdb login: %w", err)
	}
	if payload.Data.Token == "" {
		return "", errors.New("tvdb login: empty token")
	}
	c.token = payload.Data.Token
	return c.token, nil
}

func (c *TVDB) dropToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}
