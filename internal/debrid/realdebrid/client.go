// Package realdebrid unlocks torrents through the Real-Debrid API: an
// embellisher that rewrites cached torrents into direct links and a
// resolver that turns such a link into a download URL.
package realdebrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"torrentstream/streamservice/internal/providers/common"
)

const (
	DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"
	maxBodyBytes   = 4 * 1024 * 1024
	maxErrorBody   = 2048
)

// Client is a minimal Real-Debrid REST client authenticated with a
// bearer token.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewClient(apiKey, baseURL string, client *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = common.NewHTTPClient(30 * time.Second)
	}
	return &Client{apiKey: strings.TrimSpace(apiKey), baseURL: baseURL, http: client}
}

type User struct {
	Username string `json:"username"`
	Type     string `json:"type"`
}

func (u User) Premium() bool {
	return u.Type == "premium"
}

// AvailableFile is one file of a cached torrent. Number is the file id
// Real-Debrid uses in selectFiles, 1-based in torrent order.
type AvailableFile struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
}

type AddMagnetResult struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type TorrentInfo struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Links  []string `json:"links"`
}

type Unrestricted struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Download string `json:"download"`
}

func (c *Client) User(ctx context.Context) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/user", nil, &user)
	return user, err
}

// InstantAvailability reports the first cached variant of every hash. A
// hash missing from the result is not cached.
func (c *Client) InstantAvailability(ctx context.Context, hashes ...string) (map[string][]AvailableFile, error) {
	if len(hashes) == 0 {
		return map[string][]AvailableFile{}, nil
	}
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/torrents/instantAvailability/"+strings.Join(hashes, "/"), nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string][]AvailableFile, len(raw))
	for hash, payload := range raw {
		files, err := parseAvailability(payload)
		if err != nil {
			return nil, fmt.Errorf("availability of %s: %w", hash, err)
		}
		if len(files) > 0 {
			out[strings.ToLower(hash)] = files
		}
	}
	return out, nil
}

// parseAvailability reads {"rd": [{"1": {"filename","filesize"}}, ...]}.
// Uncached hashes come back as an empty array instead of an object.
func parseAvailability(payload json.RawMessage) ([]AvailableFile, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed[0] != '{' {
		return nil, nil
	}
	var hosters map[string][]map[string]struct {
		Filename string `json:"filename"`
		Filesize int64  `json:"filesize"`
	}
	if err := json.Unmarshal(payload, &hosters); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(hosters))
	for name := range hosters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, variant := range hosters[name] {
			if len(variant) == 0 {
				continue
			}
			files := make([]AvailableFile, 0, len(variant))
			for number, file := range variant {
				files = append(files, AvailableFile{Number: number, Name: file.Filename, Size: file.Filesize})
			}
			slices.SortFunc(files, func(a, b AvailableFile) int {
				return fileNumber(a.Number) - fileNumber(b.Number)
			})
			return files, nil
		}
	}
	return nil, nil
}

func fileNumber(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (c *Client) AddMagnet(ctx context.Context, magnet string) (AddMagnetResult, error) {
	var result AddMagnetResult
	err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", url.Values{"magnet": {magnet}}, &result)
	return result, err
}

func (c *Client) SelectFiles(ctx context.Context, id string, files ...string) error {
	return c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(id), url.Values{"files": {strings.Join(files, ",")}}, nil)
}

func (c *Client) TorrentInfo(ctx context.Context, id string) (TorrentInfo, error) {
	var info TorrentInfo
	err := c.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(id), nil, &info)
	return info, err
}

func (c *Client) UnrestrictLink(ctx context.Context, link string) (Unrestricted, error) {
	var result Unrestricted
	err := c.do(ctx, http.MethodPost, "/unrestrict/link", url.Values{"link": {link}}, &result)
	return result, err
}

// do sends a form-encoded request when form is non-nil and decodes a JSON
// answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("real-debrid %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("real-debrid %s: %w", path, &common.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))})
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode real-debrid %s: %w", path, err)
	}
	return nil
}
