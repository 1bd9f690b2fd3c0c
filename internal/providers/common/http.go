package common

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultUserAgent = "torrentstream-streams/1.0"
	maxBodyBytes     = 4 * 1024 * 1024
	maxErrorBody     = 2048
)

// StatusError is a non-200 answer from an upstream.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider HTTP %d", e.Code)
	}
	return fmt.Sprintf("provider HTTP %d: %s", e.Code, e.Body)
}

// Transient reports whether the upstream may answer differently later.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// NewHTTPClient returns a traced client with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Fetcher issues GET requests with a fixed User-Agent and retries transient
// failures.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	Retry     RetryConfig
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{Client: client, UserAgent: userAgent, Retry: DefaultRetryConfig()}
}

// Get returns the body of a 200 answer, capped at maxBodyBytes.
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	return Retry(ctx, f.Retry, func(ctx context.Context) ([]byte, error) {
		return f.get(ctx, rawURL, accept)
	})
}

// GetJSON decodes a 200 JSON answer into out.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := f.Get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", redactQuery(rawURL), err)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
