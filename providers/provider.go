// Package providers defines the adapter contract for news sources and the
// REST-backed adapters (NewsAPI, NewsData.io).
package providers

import (
	"context"
	"time"

	"newsindex/types"

	"golang.org/x/time/rate"
)

// Page is one fetch result. When a source has nothing new, HasMore is false
// and NextCursor equals the cursor that was passed in.
type Page struct {
	Items      []types.RawItem
	NextCursor string
	HasMore    bool
}

// Provider fetches raw items from one external source. Fetch must be safe
// to repeat with the same cursor and keeps no state between calls beyond
// what it encodes in the cursor.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, cursor string) (Page, error)
	InitialCursor(now time.Time) string
}

// NewLimiter turns a requests-per-second setting into a limiter. Zero or
// negative means unlimited.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Wait blocks on the limiter. A cancelled context is returned as is so the
// partition manager can tell shutdown from a provider failure. A delay that
// would outlast the fetch deadline is transient: the next attempt may fit.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return types.NewTransient("rate limit", err)
	}
	return nil
}
