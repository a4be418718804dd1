package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/user/sitemap-crawler/internal/canonical"
	"github.com/user/sitemap-crawler/pkg/metrics"
)

const maxRobotsBytes = 512 * 1024

// Directive is the robots.txt group that applies to the crawler on one
// host. A nil Directive allows everything.
type Directive struct {
	group *robotstxt.Group
}

// ParseDirective parses a robots.txt body and selects the group for
// userAgent, falling back to "*".
func ParseDirective(body []byte, userAgent string) (*Directive, error) {
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &Directive{group: data.FindGroup(userAgent)}, nil
}

// Allows reports whether path (with any query) may be fetched. Allow and
// Disallow rules are resolved by longest match.
func (d *Directive) Allows(path string) bool {
	if d == nil || d.group == nil {
		return true
	}
	return d.group.Test(path)
}

// CrawlDelay returns the host's requested delay between fetches.
func (d *Directive) CrawlDelay() time.Duration {
	if d == nil || d.group == nil {
		return 0
	}
	return d.group.CrawlDelay
}

// DirectiveCache fetches each host's robots.txt at most once for its
// lifetime. Failures are cached as a nil directive (allow all).
type DirectiveCache struct {
	client    *http.Client
	userAgent string
	enabled   bool
	logger    *zap.Logger

	flight singleflight.Group
	mu     sync.RWMutex
	byHost map[string]*Directive
}

// NewDirectiveCache returns a cache. When enabled is false Directive always
// returns nil without any network access.
func NewDirectiveCache(client *http.Client, userAgent string, enabled bool, logger *zap.Logger) *DirectiveCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectiveCache{
		client:    client,
		userAgent: userAgent,
		enabled:   enabled,
		logger:    logger,
		byHost:    make(map[string]*Directive),
	}
}

// Directive returns the cached directive for key's host, fetching it on
// first use. Concurrent first callers share a single fetch.
func (c *DirectiveCache) Directive(ctx context.Context, key canonical.Key) *Directive {
	if !c.enabled {
		return nil
	}
	u := key.URL()
	if u == nil || u.Host == "" {
		return nil
	}
	origin := u.Scheme + "://" + u.Host

	c.mu.RLock()
	d, ok := c.byHost[origin]
	c.mu.RUnlock()
	if ok {
		return d
	}

	v, _, _ := c.flight.Do(origin, func() (interface{}, error) {
		c.mu.RLock()
		d, ok := c.byHost[origin]
		c.mu.RUnlock()
		if ok {
			return d, nil
		}

		d, err := c.fetch(ctx, origin)
		if err != nil {
			if ctx.Err() != nil {
				// Not cached: the host was never actually evaluated.
				return (*Directive)(nil), nil
			}
			metrics.RobotsFetchesTotal.WithLabelValues("unavailable").Inc()
			c.logger.Warn("robots.txt unavailable, allowing all paths",
				zap.String("host", u.Host),
				zap.Error(err),
			)
		} else {
			metrics.RobotsFetchesTotal.WithLabelValues("parsed").Inc()
		}

		c.mu.Lock()
		c.byHost[origin] = d
		c.mu.Unlock()
		return d, nil
	})
	d, _ = v.(*Directive)
	return d
}

var errRobotsStatus = errors.New("unexpected robots.txt status")

func (c *DirectiveCache) fetch(ctx context.Context, origin string) (*Directive, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", errRobotsStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	return ParseDirective(body, c.userAgent)
}
