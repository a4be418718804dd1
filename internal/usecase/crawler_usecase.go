package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/canonical"
	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/extractor"
	"github.com/user/sitemap-crawler/internal/policy"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/pkg/config"
	"github.com/user/sitemap-crawler/pkg/metrics"
)

var (
	ErrInvalidSeed     = errors.New("invalid seed URL")
	ErrSeedUnreachable = errors.New("seed URL unreachable")
)

const (
	defaultConcurrency = 5
	maxBackoff         = 30 * time.Second
	jitterFactor       = 0.2 // +/- 20%
)

// CrawlOptions configures a crawl run.
type CrawlOptions struct {
	MaxPages               int           // fetch cap, 0 means unbounded
	MaxDuration            time.Duration // wall-clock deadline, 0 means none
	Concurrency            int
	Scope                  policy.Scope
	ExcludedExtensions     []string
	ExcludeSubstrings      []string
	IncludeSubstrings      []string
	RespectRobots          bool
	MaxRetries             int
	RetryBackoff           time.Duration
	RecordOffsiteRedirects bool
	HTMLOnly               bool
	RateLimit              float64 // requests per second per host, 0 means unlimited
	UserAgent              string
}

// CrawlOptionsFromConfig derives crawl options from the loaded configuration.
func CrawlOptionsFromConfig(cfg config.CrawlConfig) CrawlOptions {
	return CrawlOptions{
		MaxPages:               cfg.MaxPages,
		MaxDuration:            cfg.MaxDuration,
		Concurrency:            cfg.Concurrency,
		Scope:                  policy.Scope(cfg.Scope),
		ExcludedExtensions:     cfg.ExcludedExtensions,
		ExcludeSubstrings:      cfg.ExcludeSubstrings,
		IncludeSubstrings:      cfg.IncludeSubstrings,
		RespectRobots:          cfg.RespectRobots,
		MaxRetries:             cfg.MaxRetries,
		RetryBackoff:           cfg.RetryBackoff,
		RecordOffsiteRedirects: cfg.RecordOffsiteRedirects,
		HTMLOnly:               cfg.HTMLOnly,
		RateLimit:              cfg.RateLimit,
		UserAgent:              cfg.UserAgent,
	}
}

// CrawlRequest starts one crawl. A positive MaxPages overrides the
// configured cap.
type CrawlRequest struct {
	Seed     string
	MaxPages int
}

// Crawler discovers the same-domain pages reachable from a seed.
type Crawler interface {
	// Crawl runs to completion, cap, deadline or cancellation and returns
	// the partial or complete result. The error is ErrInvalidSeed or
	// ErrSeedUnreachable; a result accompanies ErrSeedUnreachable.
	Crawl(ctx context.Context, req CrawlRequest) (*entity.CrawlResult, error)
}

type crawlerUseCase struct {
	fetcher      repository.Fetcher
	canon        *canonical.Canonicalizer
	robotsClient *http.Client
	opts         CrawlOptions
	logger       *zap.Logger
}

// NewCrawlerUseCase creates a new instance of the crawler use case.
// robotsClient is used for robots.txt requests.
func NewCrawlerUseCase(
	fetcher repository.Fetcher,
	canon *canonical.Canonicalizer,
	robotsClient *http.Client,
	opts CrawlOptions,
	logger *zap.Logger,
) Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &crawlerUseCase{
		fetcher:      fetcher,
		canon:        canon,
		robotsClient: robotsClient,
		opts:         opts,
		logger:       logger,
	}
}

func (uc *crawlerUseCase) Crawl(ctx context.Context, req CrawlRequest) (*entity.CrawlResult, error) {
	seed, err := uc.canon.Canonicalize(req.Seed, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	pol, err := policy.New(seed, policy.Options{
		Scope:              uc.opts.Scope,
		ExcludedExtensions: uc.opts.ExcludedExtensions,
		ExcludeSubstrings:  uc.opts.ExcludeSubstrings,
		IncludeSubstrings:  uc.opts.IncludeSubstrings,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	opts := uc.opts
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}

	logger := uc.logger.With(zap.String("seed", seed.String()))
	s := newCrawlSession(seed, sessionDeps{
		fetcher:    uc.fetcher,
		canon:      uc.canon,
		policy:     pol,
		directives: policy.NewDirectiveCache(uc.robotsClient, opts.UserAgent, opts.RespectRobots, logger),
		extractor:  extractor.New(uc.canon, pol.InScope, logger),
		limiter:    newHostLimiter(opts.RateLimit),
		opts:       opts,
		logger:     logger,
	})

	logger.Info("crawl started",
		zap.Int("concurrency", opts.Concurrency),
		zap.Int("max_pages", opts.MaxPages),
		zap.Duration("max_duration", opts.MaxDuration),
	)
	start := time.Now()
	result := s.run(ctx)
	logger.Info("crawl finished",
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("discovered", len(result.Discovered)),
		zap.Int("visited", result.Visited),
		zap.Int("failed", result.Summary[entity.CountFailed]),
		zap.Duration("duration", time.Since(start)),
	)

	if f, failed := s.seedFailure(); failed {
		return result, fmt.Errorf("%w: %s: %s", ErrSeedUnreachable, seed, f.FailureReason)
	}
	return result, nil
}

type sessionDeps struct {
	fetcher    repository.Fetcher
	canon      *canonical.Canonicalizer
	policy     *policy.Policy
	directives *policy.DirectiveCache
	extractor  *extractor.Extractor
	limiter    *hostLimiter
	opts       CrawlOptions
	logger     *zap.Logger
}

// crawlSession owns the state of one crawl run. All state transitions go
// through mu; fetches, robots lookups and parsing run outside it.
type crawlSession struct {
	sessionDeps
	seed canonical.Key

	mu         sync.Mutex
	cond       *sync.Cond
	states     map[canonical.Key]entity.URLState
	frontier   frontier
	inFlight   int
	fetches    int
	stopped    bool
	stopReason entity.StopReason
	discovered map[canonical.Key]struct{}
	failures   map[canonical.Key]entity.FailedURL
	counts     map[string]int
}

func newCrawlSession(seed canonical.Key, deps sessionDeps) *crawlSession {
	s := &crawlSession{
		sessionDeps: deps,
		seed:        seed,
		states:      make(map[canonical.Key]entity.URLState),
		discovered:  make(map[canonical.Key]struct{}),
		failures:    make(map[canonical.Key]entity.FailedURL),
		counts:      make(map[string]int),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *crawlSession) run(parent context.Context) *entity.CrawlResult {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if s.opts.MaxDuration > 0 {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithTimeout(ctx, s.opts.MaxDuration)
		defer cancelDeadline()
	}
	stopOnDone := context.AfterFunc(ctx, func() {
		if parent.Err() != nil {
			s.stop(entity.StopCancelled)
		} else {
			s.stop(entity.StopDeadline)
		}
	})
	defer stopOnDone()

	s.enqueue([]canonical.Key{s.seed})

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	wg.Wait()

	return s.result()
}

func (s *crawlSession) worker(ctx context.Context) {
	for {
		key, ok := s.next()
		if !ok {
			return
		}
		s.process(ctx, key)
		s.release()
	}
}

// next claims the smallest queued key, moving it to Fetching. It blocks
// while the frontier is empty but fetches are in flight, and reports false
// once the crawl is over.
func (s *crawlSession) next() (canonical.Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped {
			return "", false
		}
		for {
			key, ok := s.frontier.pop()
			if !ok {
				break
			}
			metrics.FrontierSize.Dec()
			// Keys claimed as redirect targets stay in the heap; skip them.
			if s.states[key] != entity.Queued {
				continue
			}
			s.states[key] = entity.Fetching
			s.inFlight++
			return key, true
		}
		if s.inFlight == 0 {
			s.stopLocked(entity.StopCompleted)
			return "", false
		}
		s.cond.Wait()
	}
}

func (s *crawlSession) release() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *crawlSession) stop(reason entity.StopReason) {
	s.mu.Lock()
	s.stopLocked(reason)
	s.mu.Unlock()
}

func (s *crawlSession) stopLocked(reason entity.StopReason) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.stopReason = reason
	metrics.FrontierSize.Sub(float64(s.frontier.clear()))
	s.cond.Broadcast()
}

// enqueue moves unseen keys to Queued. Keys in any other state are ignored,
// so terminal states are never left.
func (s *crawlSession) enqueue(keys []canonical.Key) {
	if len(keys) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	added := 0
	for _, k := range keys {
		if _, seen := s.states[k]; seen {
			continue
		}
		s.states[k] = entity.Queued
		s.frontier.push(k)
		added++
	}
	if added > 0 {
		metrics.FrontierSize.Add(float64(added))
		s.cond.Broadcast()
	}
}

// reserveFetch counts a fetch against the page cap, stopping the crawl once
// the cap is exhausted.
func (s *crawlSession) reserveFetch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if s.opts.MaxPages > 0 && s.fetches >= s.opts.MaxPages {
		s.stopLocked(entity.StopPageLimit)
		return false
	}
	s.fetches++
	return true
}

func (s *crawlSession) process(ctx context.Context, key canonical.Key) {
	directive := s.directives.Directive(ctx, key)
	if v := s.policy.Check(key, directive); !v.Allowed {
		s.exclude(key, v.Reason)
		return
	}
	if !s.reserveFetch() {
		return
	}
	if err := s.limiter.Wait(ctx, key.Host(), directive.CrawlDelay()); err != nil {
		return
	}

	res, attempts, err := s.fetch(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			// Abandoned by cancellation; not a verdict on the URL.
			return
		}
		s.fail(key, err, attempts)
		return
	}
	s.resolve(ctx, key, res)
}

// fetch retries temporary failures with exponential backoff and jitter.
func (s *crawlSession) fetch(ctx context.Context, key canonical.Key) (*entity.FetchResult, int, error) {
	host := key.Host()
	for attempt := 1; ; attempt++ {
		start := time.Now()
		res, err := s.fetcher.Fetch(ctx, key.String())
		metrics.FetchDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.FetchesTotal.WithLabelValues("success", "").Inc()
			return res, attempt, nil
		}
		metrics.FetchesTotal.WithLabelValues("failure", repository.FailureKind(err)).Inc()

		var fe *repository.FetchError
		if !errors.As(err, &fe) || !fe.Temporary() || attempt > s.opts.MaxRetries || ctx.Err() != nil {
			return nil, attempt, err
		}
		wait := backoff(s.opts.RetryBackoff, attempt)
		s.logger.Debug("retrying fetch",
			zap.String("url", key.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	jitter := d * jitterFactor * (2*rand.Float64() - 1)
	return time.Duration(d + jitter)
}

// resolve settles a successful fetch: the final URL is re-canonicalized and
// re-checked, the Discovered Set updated and HTML bodies traversed.
func (s *crawlSession) resolve(ctx context.Context, key canonical.Key, res *entity.FetchResult) {
	final, err := s.canon.Canonicalize(res.FinalURL, "")
	if err != nil {
		final = key
	}
	if final == key {
		s.succeed(key, key, res)
		return
	}

	s.count(entity.CountRedirected)
	if !s.policy.InScope(final) {
		if s.opts.RecordOffsiteRedirects && s.policy.CheckRules(final).Allowed {
			s.mu.Lock()
			s.states[key] = entity.VisitedSuccess
			s.acceptLocked(final, res)
			s.mu.Unlock()
			return
		}
		s.logger.Debug("redirect left crawl scope", zap.String("url", key.String()), zap.String("final_url", final.String()))
		s.exclude(key, policy.ReasonOutOfScope)
		return
	}
	if v := s.policy.Check(final, s.directives.Directive(ctx, final)); !v.Allowed {
		s.exclude(key, v.Reason)
		return
	}

	s.succeed(key, final, res)
}

// succeed marks key and its final location visited and traverses the body.
// For a redirect the target is claimed in the same critical section; when
// another worker already owns it the body is not traversed again.
func (s *crawlSession) succeed(key, final canonical.Key, res *entity.FetchResult) {
	s.mu.Lock()
	s.states[key] = entity.VisitedSuccess
	if final != key {
		if st := s.states[final]; st == entity.Fetching || st.Terminal() {
			s.mu.Unlock()
			return
		}
		s.states[final] = entity.VisitedSuccess
	}
	s.acceptLocked(final, res)
	s.mu.Unlock()

	if !res.IsHTML() || len(res.Body) == 0 {
		return
	}
	links := s.extractor.Extract(res.Body, final)
	if links.Rejected > 0 {
		s.countN(entity.CountRejectedLinks, links.Rejected)
	}
	s.enqueue(links.Keys)
}

func (s *crawlSession) acceptLocked(final canonical.Key, res *entity.FetchResult) {
	if !s.policy.Accept(final) || (s.opts.HTMLOnly && !res.IsHTML()) {
		return
	}
	if _, dup := s.discovered[final]; dup {
		return
	}
	s.discovered[final] = struct{}{}
	metrics.DiscoveredTotal.Inc()
}

func (s *crawlSession) exclude(key canonical.Key, reason policy.Reason) {
	metrics.ExcludedTotal.WithLabelValues(string(reason)).Inc()
	s.logger.Debug("url excluded", zap.String("url", key.String()), zap.String("reason", string(reason)))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = entity.VisitedFailure
	s.counts[entity.CountExcluded]++
	s.failures[key] = entity.FailedURL{
		URL:                  key.String(),
		Kind:                 entity.CountExcluded,
		FailureReason:        string(reason),
		LastAttemptTimestamp: time.Now(),
	}
}

func (s *crawlSession) fail(key canonical.Key, err error, attempts int) {
	status := 0
	var fe *repository.FetchError
	if errors.As(err, &fe) {
		status = fe.StatusCode
	}
	s.logger.Warn("fetch failed",
		zap.String("url", key.String()),
		zap.String("error_type", repository.FailureKind(err)),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = entity.VisitedFailure
	s.counts[entity.CountFailed]++
	s.failures[key] = entity.FailedURL{
		URL:                  key.String(),
		Kind:                 repository.FailureKind(err),
		FailureReason:        err.Error(),
		HTTPStatusCode:       status,
		Attempts:             attempts,
		LastAttemptTimestamp: time.Now(),
	}
}

func (s *crawlSession) count(name string) { s.countN(name, 1) }

func (s *crawlSession) countN(name string, n int) {
	s.mu.Lock()
	s.counts[name] += n
	s.mu.Unlock()
}

func (s *crawlSession) seedFailure() (entity.FailedURL, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[s.seed] != entity.VisitedFailure {
		return entity.FailedURL{}, false
	}
	return s.failures[s.seed], true
}

func (s *crawlSession) result() *entity.CrawlResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &entity.CrawlResult{
		Seed:       s.seed.String(),
		Discovered: make([]string, 0, len(s.discovered)),
		StopReason: s.stopReason,
		Summary:    make(map[string]int, len(s.counts)+2),
	}
	for k := range s.discovered {
		res.Discovered = append(res.Discovered, k.String())
	}
	sort.Strings(res.Discovered)

	for _, st := range s.states {
		if st.Terminal() {
			res.Visited++
		}
	}
	for _, f := range s.failures {
		res.Failures = append(res.Failures, f)
	}
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].URL < res.Failures[j].URL })

	for k, v := range s.counts {
		res.Summary[k] = v
	}
	res.Summary[entity.CountDiscovered] = len(res.Discovered)
	res.Summary[entity.CountVisited] = res.Visited
	return res
}
