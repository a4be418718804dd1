package chromedp_crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
)

const defaultUserAgent = `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36`

// Options configures the browser fetcher.
type Options struct {
	MaxConcurrency  int
	PageLoadTimeout time.Duration
	UserAgent       string
	Logger          *zap.Logger
}

// BrowserFetcher implements repository.Fetcher with headless Chrome, for
// sites whose links only exist after scripts run. Every fetch opens a tab
// in one shared browser.
type BrowserFetcher struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	start       sync.Once
	startErr    error
	tabs        chan struct{}
	timeout     time.Duration
	logger      *zap.Logger
}

// NewBrowserFetcher prepares the browser allocator. Chrome itself is
// launched by the first fetch.
func NewBrowserFetcher(opts Options) *BrowserFetcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(opts.Logger.Sugar().Debugf))

	return &BrowserFetcher{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancel:      cancel,
		tabs:        make(chan struct{}, opts.MaxConcurrency),
		timeout:     opts.PageLoadTimeout,
		logger:      opts.Logger,
	}
}

// Close shuts the browser down.
func (c *BrowserFetcher) Close() {
	c.cancel()
	c.cancelAlloc()
}

// Fetch navigates a new tab to url and returns the rendered document.
func (c *BrowserFetcher) Fetch(ctx context.Context, url string) (*entity.FetchResult, error) {
	c.start.Do(func() {
		// Running with no actions launches the browser.
		c.startErr = chromedp.Run(c.browserCtx)
	})
	if c.startErr != nil {
		return nil, &repository.FetchError{URL: url, Kind: repository.KindNavigation, Err: fmt.Errorf("%w: %v", repository.ErrNavigationFailed, c.startErr)}
	}

	select {
	case c.tabs <- struct{}{}:
		defer func() { <-c.tabs }()
	case <-ctx.Done():
		return nil, &repository.FetchError{URL: url, Kind: repository.KindTimeout, Err: ctx.Err()}
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()

	startTime := time.Now()
	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if tabCtx.Err() != nil {
			err = tabCtx.Err()
		}
		return nil, classifyNavigation(url, err)
	}

	res := &entity.FetchResult{
		RequestURL:     url,
		FinalURL:       url,
		HTTPStatusCode: 200,
		ContentType:    "text/html",
	}
	if resp != nil {
		res.HTTPStatusCode = int(resp.Status)
		res.ContentType = resp.MimeType
		if resp.URL != "" {
			res.FinalURL = resp.URL
		}
	}
	if res.HTTPStatusCode < 200 || res.HTTPStatusCode >= 300 {
		return nil, &repository.FetchError{URL: url, Kind: repository.KindStatus, StatusCode: res.HTTPStatusCode, Err: repository.ErrBadStatus}
	}

	if res.IsHTML() {
		var location, html string
		if err := chromedp.Run(tabCtx,
			chromedp.Location(&location),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		); err != nil {
			return nil, classifyNavigation(url, err)
		}
		if location != "" {
			res.FinalURL = location
		}
		res.Body = []byte(html)
	}
	res.ResponseTime = time.Since(startTime)
	if res.FinalURL != url {
		res.Redirects = 1
	}

	c.logger.Debug("rendered page",
		zap.String("url", url),
		zap.String("final_url", res.FinalURL),
		zap.Int("status", res.HTTPStatusCode),
		zap.Duration("duration", res.ResponseTime),
	)
	return res, nil
}

func classifyNavigation(url string, err error) *repository.FetchError {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &repository.FetchError{URL: url, Kind: repository.KindTimeout, Err: fmt.Errorf("%w: %v", repository.ErrFetchTimeout, err)}
	case strings.Contains(err.Error(), "net::ERR_NAME_NOT_RESOLVED"),
		strings.Contains(err.Error(), "net::ERR_CONNECTION_REFUSED"),
		strings.Contains(err.Error(), "net::ERR_CONNECTION_RESET"):
		return &repository.FetchError{URL: url, Kind: repository.KindNetwork, Err: fmt.Errorf("%w: %v", repository.ErrNetwork, err)}
	default:
		return &repository.FetchError{URL: url, Kind: repository.KindNavigation, Err: fmt.Errorf("%w: %v", repository.ErrNavigationFailed, err)}
	}
}
