package usecase

import (
	"context"
	"net/http"
	"sync"

	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
)

// fakeFetcher serves canned results keyed by requested URL. Unknown URLs
// fail with a 404.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*entity.FetchResult
	errs    map[string]error
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: map[string]*entity.FetchResult{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeFetcher) html(url string) *fakeFetcher {
	return f.redirect(url, url)
}

func (f *fakeFetcher) redirect(url, final string) *fakeFetcher {
	f.results[url] = &entity.FetchResult{
		RequestURL:     url,
		FinalURL:       final,
		HTTPStatusCode: http.StatusOK,
		ContentType:    "text/html; charset=utf-8",
		Body:           []byte("<html></html>"),
	}
	return f
}

func (f *fakeFetcher) typed(url, contentType string) *fakeFetcher {
	f.results[url] = &entity.FetchResult{
		RequestURL:     url,
		FinalURL:       url,
		HTTPStatusCode: http.StatusOK,
		ContentType:    contentType,
	}
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*entity.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := ctx.Err(); err != nil {
		return nil, &repository.FetchError{URL: url, Kind: repository.KindTimeout, Err: err}
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if res, ok := f.results[url]; ok {
		cp := *res
		return &cp, nil
	}
	return nil, &repository.FetchError{
		URL:        url,
		Kind:       repository.KindStatus,
		StatusCode: http.StatusNotFound,
		Err:        repository.ErrBadStatus,
	}
}
