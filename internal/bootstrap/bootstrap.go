// Package bootstrap builds the crawl components shared by the binaries
// from configuration.
package bootstrap

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/adapter/chromedp_crawler"
	"github.com/user/sitemap-crawler/internal/adapter/httpfetch"
	"github.com/user/sitemap-crawler/internal/canonical"
	"github.com/user/sitemap-crawler/internal/proxy"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/usecase"
	"github.com/user/sitemap-crawler/pkg/config"
)

// Components are the configured crawl building blocks. Close releases the
// browser when the browser fetch mode is active.
type Components struct {
	Fetcher repository.Fetcher
	// Client serves robots.txt and sitemap downloads, which never need a
	// browser.
	Client *http.Client
	Canon  *canonical.Canonicalizer
	Close  func()
}

// New builds the fetcher and canonicalizer for cfg.
func New(cfg config.CrawlConfig, logger *zap.Logger) (*Components, error) {
	proxies, err := proxy.NewManager(cfg.ProxyURLs, cfg.UserAgents, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("proxy manager: %w", err)
	}
	httpFetcher := httpfetch.New(httpfetch.Options{
		Timeout:      cfg.RequestTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Proxies:      proxies,
		Logger:       logger,
	})

	c := &Components{
		Fetcher: httpFetcher,
		Client:  httpFetcher.Client(),
		Canon: canonical.New(canonical.Options{
			KeepQuery:         cfg.KeepQuery,
			PreserveFragments: cfg.PreserveFragments,
			StripFragments:    cfg.StripFragments,
		}),
		Close: func() {},
	}
	if cfg.FetchMode == "browser" {
		browser := chromedp_crawler.NewBrowserFetcher(chromedp_crawler.Options{
			MaxConcurrency:  cfg.Concurrency,
			PageLoadTimeout: cfg.RequestTimeout,
			UserAgent:       proxies.GetUserAgent(),
			Logger:          logger,
		})
		c.Fetcher = browser
		c.Close = browser.Close
	}
	return c, nil
}

// Crawler builds the crawl use case for cfg.
func (c *Components) Crawler(cfg config.CrawlConfig, logger *zap.Logger) usecase.Crawler {
	return usecase.NewCrawlerUseCase(c.Fetcher, c.Canon, c.Client, usecase.CrawlOptionsFromConfig(cfg), logger)
}

// SitemapService builds the sitemap maintenance use case for cfg.
func (c *Components) SitemapService(cfg config.CrawlConfig, logger *zap.Logger) usecase.SitemapService {
	return usecase.NewSitemapService(c.Fetcher, c.Canon, usecase.SitemapOptions{
		Concurrency:        cfg.Concurrency,
		ExcludedExtensions: cfg.ExcludedExtensions,
	}, logger)
}
