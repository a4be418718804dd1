package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter enforces per-host politeness: a configured request rate
// combined with any Crawl-delay the host asks for. The slower of the two
// wins.
type hostLimiter struct {
	perSecond float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiter(perSecond float64) *hostLimiter {
	return &hostLimiter{
		perSecond: perSecond,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Wait blocks until host may be fetched again.
func (l *hostLimiter) Wait(ctx context.Context, host string, crawlDelay time.Duration) error {
	if l == nil || host == "" {
		return nil
	}
	limit := rate.Inf
	if l.perSecond > 0 {
		limit = rate.Limit(l.perSecond)
	}
	if crawlDelay > 0 {
		if d := rate.Every(crawlDelay); d < limit {
			limit = d
		}
	}
	if limit == rate.Inf {
		return nil
	}

	host = strings.ToLower(host)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(limit, 1)
		l.limiters[host] = limiter
	} else if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	l.mu.Unlock()

	return limiter.Wait(ctx)
}
