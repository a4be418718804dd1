package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/delivery/http/handler"
	"github.com/user/sitemap-crawler/internal/delivery/http/response"
	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/sitemap"
	"github.com/user/sitemap-crawler/internal/usecase"
)

type fakeJobManager struct {
	submitted []usecase.SubmitRequest
	jobs      map[string]*entity.CrawlJob
	urls      map[string][]string
	submitErr error
}

func (f *fakeJobManager) Submit(_ context.Context, req usecase.SubmitRequest) (*entity.CrawlJob, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return &entity.CrawlJob{ID: "existing"}, f.submitErr
	}
	if strings.HasPrefix(req.URL, "ftp:") {
		return nil, fmt.Errorf("%w: unsupported scheme", usecase.ErrInvalidSeed)
	}
	return &entity.CrawlJob{ID: "job-1", Seed: req.URL, Status: entity.JobPending}, nil
}

func (f *fakeJobManager) GetStatus(_ context.Context, id string) (*entity.CrawlJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobManager) Sitemap(ctx context.Context, id string, w io.Writer, format sitemap.Format) error {
	job, err := f.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != entity.JobCompleted {
		return usecase.ErrJobNotFinished
	}
	return sitemap.Emit(w, f.urls[id], format)
}

func (f *fakeJobManager) RunWorker(context.Context) error { return nil }

func newTestRouter() (http.Handler, *fakeJobManager) {
	jm := &fakeJobManager{
		jobs: map[string]*entity.CrawlJob{
			"done": {
				ID:         "done",
				Seed:       "https://example.org/",
				Status:     entity.JobCompleted,
				StopReason: entity.StopCompleted,
				Summary:    map[string]int{entity.CountDiscovered: 2},
				CreatedAt:  time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			},
			"running": {ID: "running", Seed: "https://example.org/", Status: entity.JobCrawling},
		},
		urls: map[string][]string{"done": {"https://example.org/a", "https://example.org/"}},
	}
	return New(handler.NewHandler(jm, zap.NewNop()), zap.NewNop()), jm
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitCrawl(t *testing.T) {
	h, jm := newTestRouter()

	rec := do(t, h, http.MethodPost, "/api/crawl", `{"url":"https://example.org/","force_crawl":true,"max_pages":50}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp response.SubmitCrawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.CrawlRequestID)
	assert.Equal(t, []usecase.SubmitRequest{{URL: "https://example.org/", ForceCrawl: true, MaxPages: 50}}, jm.submitted)

	rec = do(t, h, http.MethodPost, "/api/crawl", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/crawl", `{"url":"ftp://example.org/"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/crawl", `{"url":"https://example.org/","max_pages":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/crawl", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitCrawlRecentlyCrawled(t *testing.T) {
	h, jm := newTestRouter()
	jm.submitErr = usecase.ErrURLRecentlyCrawled

	rec := do(t, h, http.MethodPost, "/api/crawl", `{"url":"https://example.org/"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp response.SubmitCrawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "existing", resp.CrawlRequestID)
}

func TestCrawlStatus(t *testing.T) {
	h, _ := newTestRouter()

	rec := do(t, h, http.MethodGet, "/api/status?id=done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp response.CrawlStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.CurrentStatus)
	assert.Equal(t, "https://example.org/", resp.URL)
	assert.Equal(t, 2, resp.Summary["discovered"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/status?id=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/status", "").Code)
}

func TestSitemapDownload(t *testing.T) {
	h, _ := newTestRouter()

	rec := do(t, h, http.MethodGet, "/api/sitemap?id=done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	doc, err := sitemap.Read(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/", "https://example.org/a"}, doc.Locs)

	rec = do(t, h, http.MethodGet, "/api/sitemap?id=done&format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.org/\nhttps://example.org/a\n", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/sitemap?id=done&format=pdf", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodGet, "/api/sitemap?id=running", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sitemap?id=nope", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter()

	rec := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/health",status="200"}`)
}
