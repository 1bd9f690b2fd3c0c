// Package metadata resolves titles and episode numbering for IMDb ids from
// Cinemeta and TheTVDB.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"torrentstream/streamservice/internal/providers/common"
)

const (
	maxBodyBytes = 4 * 1024 * 1024
	maxErrorBody = 2048
)

// jsonClient sends JSON requests and retries transient failures with
// exponential backoff.
type jsonClient struct {
	http      *http.Client
	userAgent string
	attempts  uint
	delay     time.Duration
}

func newJSONClient(client *http.Client, userAgent string) *jsonClient {
	if client == nil {
		client = common.NewHTTPClient(10 * time.Second)
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = common.DefaultUserAgent
	}
	return &jsonClient{http: client, userAgent: userAgent, attempts: 5, delay: 100 * time.Millisecond}
}

type request struct {
	method string
	url    string
	body   any
	token  string
}

func (c *jsonClient) do(ctx context.Context, req request, out any) error {
	return retry.Do(
		func() error { return c.once(ctx, req, out) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(common.IsTransient),
		retry.LastErrorOnly(true),
	)
}

func (c *jsonClient) once(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &common.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("decode %s: %w", req.method, err))
	}
	return nil
}

func isStatus(err error, code int) bool {
	var statusErr *common.StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
