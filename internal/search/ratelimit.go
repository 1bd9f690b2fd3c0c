package search

import (
	"context"

	"golang.org/x/time/rate"
)

// waitSourceRateLimit blocks until the source's token bucket allows another
// call or ctx ends.
func (e *Engine) waitSourceRateLimit(ctx context.Context, sourceName string) error {
	if e.sourceRate <= 0 {
		return nil
	}
	name := healthKey(sourceName)

	e.limiterMu.Lock()
	limiter, ok := e.limiters[name]
	if !ok {
		limiter = rate.NewLimiter(e.sourceRate, e.sourceBurst)
		e.limiters[name] = limiter
	}
	e.limiterMu.Unlock()

	return limiter.Wait(ctx)
}
