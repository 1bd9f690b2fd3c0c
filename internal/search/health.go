package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/metrics"
)

const (
	sourceFailureThreshold = 3
	sourceBlockBase        = 2 * time.Minute
	sourceBlockMax         = 15 * time.Minute
)

type sourceHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func healthKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (e *Engine) isSourceBlocked(sourceName string, now time.Time) (bool, time.Time, string) {
	name := healthKey(sourceName)
	if name == "" {
		return false, time.Time{}, ""
	}

	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	state := e.health[name]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

// recordSourceResult updates the circuit breaker of one source. A run that
// was abandoned after early stop is not held against the source.
func (e *Engine) recordSourceResult(sourceName, query string, err error, latency time.Duration, now time.Time) {
	name := healthKey(sourceName)
	if name == "" {
		return
	}
	if errors.Is(err, context.Canceled) {
		metrics.SourceRequestsTotal.WithLabelValues(name, "abandoned").Inc()
		return
	}

	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	state := e.health[name]
	if state == nil {
		state = &sourceHealth{}
		e.health[name] = state
	}
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.SourceRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.SourceRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.SourceAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.SourceRequestsTotal.WithLabelValues(name, status).Inc()

	if state.consecutiveFailures >= sourceFailureThreshold {
		state.blockedUntil = now.Add(exponentialBlockDuration(state.consecutiveFailures))
		metrics.SourceAvailable.WithLabelValues(name).Set(0)
	}
}

// exponentialBlockDuration is base × 2^(failures - threshold), capped at sourceBlockMax.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	exponent := max(consecutiveFailures-sourceFailureThreshold, 0)
	d := sourceBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > sourceBlockMax {
			return sourceBlockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// SourceDiagnostics reports the health of every registered source.
func (e *Engine) SourceDiagnostics() []domain.SourceDiagnostics {
	names := e.registry.SourceNames()
	if len(names) == 0 {
		return nil
	}

	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	items := make([]domain.SourceDiagnostics, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := healthKey(raw)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		item := domain.SourceDiagnostics{Name: name}
		if state := e.health[name]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}
