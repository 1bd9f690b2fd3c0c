package common

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryConfig controls the backoff of a Fetcher.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig is 3 attempts, 500ms then 1s (plus jitter) between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Retry runs fn until it succeeds, fails with a permanent error or runs out
// of attempts. Delays double from InitialDelay up to MaxDelay, with up to
// half an initial delay of jitter on top. The last error is returned as is.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	return retry.DoWithData(
		func() (T, error) { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(max(cfg.MaxAttempts, 1))),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.MaxJitter(max(cfg.InitialDelay/2, time.Millisecond)),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
}

// IsTransient reports whether a retry may succeed: network failures,
// upstream 429 and 5xx answers. A cancelled caller is never retried.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "eof")
}
