package httpfetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/proxy"
	"github.com/user/sitemap-crawler/internal/repository"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxBodyBytes = 5 * 1024 * 1024
	maxRedirects        = 10
)

// Options controls HTTP fetching behaviour.
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	Proxies      *proxy.Manager
	Logger       *zap.Logger
}

// Fetcher implements repository.Fetcher with net/http.
type Fetcher struct {
	client       *http.Client
	proxies      *proxy.Manager
	maxBodyBytes int64
	logger       *zap.Logger
}

type redirectCountKey struct{}

// New constructs a fetcher. Redirects are followed up to ten hops.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.Proxies != nil {
		transport.Proxy = opts.Proxies.ProxyFunc()
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return repository.ErrTooManyRedirects
			}
			if counter, ok := req.Context().Value(redirectCountKey{}).(*int); ok {
				*counter = len(via)
			}
			return nil
		},
	}

	return &Fetcher{
		client:       client,
		proxies:      opts.Proxies,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}
}

// Client exposes the underlying HTTP client for reuse (eg. robots.txt fetches).
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Fetch downloads url. The body is only read for HTML responses.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*entity.FetchResult, error) {
	redirects := 0
	ctx = context.WithValue(ctx, redirectCountKey{}, &redirects)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &repository.FetchError{URL: url, Kind: repository.KindNetwork, Err: fmt.Errorf("%w: build request: %v", repository.ErrNetwork, err)}
	}
	if f.proxies != nil {
		if ua := f.proxies.GetUserAgent(); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &repository.FetchError{
			URL:        url,
			Kind:       repository.KindStatus,
			StatusCode: resp.StatusCode,
			Err:        repository.ErrBadStatus,
		}
	}

	result := &entity.FetchResult{
		RequestURL:     url,
		FinalURL:       finalURL,
		HTTPStatusCode: resp.StatusCode,
		ContentType:    resp.Header.Get("Content-Type"),
		Redirects:      redirects,
	}
	if result.IsHTML() {
		body, err := f.readBody(resp)
		if err != nil {
			var fe *repository.FetchError
			if errors.As(err, &fe) {
				fe.URL = url
				return nil, fe
			}
			return nil, classify(url, err)
		}
		result.Body = body
	}
	result.ResponseTime = time.Since(start)

	f.logger.Debug("fetched",
		zap.String("url", url),
		zap.String("final_url", finalURL),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", result.ContentType),
		zap.Duration("duration", result.ResponseTime),
	)
	return result, nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &repository.FetchError{
			Kind: repository.KindTooLarge,
			Err:  fmt.Errorf("%w: limit %d bytes", repository.ErrBodyTooLarge, f.maxBodyBytes),
		}
	}
	return body, nil
}

// classify maps transport errors onto the fetch failure taxonomy.
func classify(url string, err error) *repository.FetchError {
	if errors.Is(err, repository.ErrTooManyRedirects) {
		return &repository.FetchError{URL: url, Kind: repository.KindRedirect, Err: repository.ErrTooManyRedirects}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &repository.FetchError{URL: url, Kind: repository.KindTimeout, Err: fmt.Errorf("%w: %v", repository.ErrFetchTimeout, err)}
	}
	return &repository.FetchError{URL: url, Kind: repository.KindNetwork, Err: fmt.Errorf("%w: %v", repository.ErrNetwork, err)}
}
