package usecase

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/canonical"
	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/sitemap"
)

type crawlerFunc func(ctx context.Context, req CrawlRequest) (*entity.CrawlResult, error)

func (f crawlerFunc) Crawl(ctx context.Context, req CrawlRequest) (*entity.CrawlResult, error) {
	return f(ctx, req)
}

type memJobs struct {
	mu         sync.Mutex
	jobs       map[string]entity.CrawlJob
	discovered map[string][]string
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]entity.CrawlJob{}, discovered: map[string][]string{}}
}

func (m *memJobs) Save(_ context.Context, job *entity.CrawlJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*entity.CrawlJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return &job, nil
}

func (m *memJobs) SaveDiscovered(_ context.Context, id string, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovered[id] = append([]string(nil), urls...)
	return nil
}

func (m *memJobs) Discovered(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.discovered[id]...)
	sort.Strings(out)
	return out, nil
}

type memQueue struct {
	ch chan string
}

func newMemQueue() *memQueue { return &memQueue{ch: make(chan string, 16)} }

func (q *memQueue) Push(_ context.Context, id string) error {
	q.ch <- id
	return nil
}

func (q *memQueue) Pop(ctx context.Context, wait time.Duration) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-time.After(wait):
		return "", repository.ErrQueueEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *memQueue) Size(context.Context) (int64, error) { return int64(len(q.ch)), nil }

type memRecent struct {
	mu   sync.Mutex
	last map[string]string
}

func (m *memRecent) MarkCrawled(_ context.Context, seed, jobID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[seed] = jobID
	return nil
}

func (m *memRecent) LastJob(_ context.Context, seed string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.last[seed]
	return id, ok, nil
}

func (m *memRecent) Forget(_ context.Context, seed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, seed)
	return nil
}

type memFailures struct {
	mu    sync.Mutex
	saved []entity.FailedURL
}

func (m *memFailures) SaveOrUpdate(_ context.Context, failures []entity.FailedURL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, failures...)
	return nil
}

func (m *memFailures) FindByJob(context.Context, string) ([]*entity.FailedURL, error) {
	return nil, nil
}

type memReports struct {
	mu      sync.Mutex
	reports []repository.Report
}

func (m *memReports) WriteReport(_ context.Context, r repository.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

type jobFixture struct {
	manager  *jobManagerUseCase
	jobs     *memJobs
	queue    *memQueue
	recent   *memRecent
	failures *memFailures
	reports  *memReports
}

func newJobFixture(crawler Crawler) *jobFixture {
	f := &jobFixture{
		jobs:     newMemJobs(),
		queue:    newMemQueue(),
		recent:   &memRecent{last: map[string]string{}},
		failures: &memFailures{},
		reports:  &memReports{},
	}
	f.manager = NewJobManager(crawler, canonical.New(canonical.Options{}), f.jobs, f.queue, f.recent, f.failures, f.reports,
		JobManagerOptions{PollInterval: 20 * time.Millisecond}, zap.NewNop()).(*jobManagerUseCase)
	return f
}

func (f *jobFixture) waitFor(t *testing.T, id, status string) *entity.CrawlJob {
	t.Helper()
	var job *entity.CrawlJob
	require.Eventually(t, func() bool {
		var err error
		job, err = f.jobs.Get(context.Background(), id)
		return err == nil && job.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return job
}

func TestJobSubmitDeduplicates(t *testing.T) {
	f := newJobFixture(crawlerFunc(func(context.Context, CrawlRequest) (*entity.CrawlResult, error) {
		return &entity.CrawlResult{}, nil
	}))
	ctx := context.Background()

	first, err := f.manager.Submit(ctx, SubmitRequest{URL: "https://Example.org/#top", MaxPages: 10})
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/", first.Seed)
	assert.Equal(t, entity.JobPending, first.Status)
	assert.Equal(t, 10, first.MaxPages)

	again, err := f.manager.Submit(ctx, SubmitRequest{URL: "https://example.org"})
	assert.ErrorIs(t, err, ErrURLRecentlyCrawled)
	assert.Equal(t, first.ID, again.ID)

	forced, err := f.manager.Submit(ctx, SubmitRequest{URL: "https://example.org", ForceCrawl: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)

	size, _ := f.queue.Size(ctx)
	assert.EqualValues(t, 2, size)
	assert.Equal(t, forced.ID, f.recent.last["https://example.org/"])
}

func TestJobSubmitInvalidSeed(t *testing.T) {
	f := newJobFixture(nil)
	_, err := f.manager.Submit(context.Background(), SubmitRequest{URL: "mailto:someone@example.org"})
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestJobWorkerCompletesJob(t *testing.T) {
	f := newJobFixture(crawlerFunc(func(_ context.Context, req CrawlRequest) (*entity.CrawlResult, error) {
		assert.Equal(t, "https://example.org/", req.Seed)
		assert.Equal(t, 3, req.MaxPages)
		return &entity.CrawlResult{
			Seed:       req.Seed,
			Discovered: []string{"https://example.org/", "https://example.org/a"},
			Failures: []entity.FailedURL{
				{URL: "https://example.org/gone", Kind: repository.KindStatus, HTTPStatusCode: 410},
			},
			Visited:    3,
			StopReason: entity.StopCompleted,
			Summary:    map[string]int{entity.CountDiscovered: 2, entity.CountFailed: 1},
		}, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.manager.RunWorker(ctx) }()

	job, err := f.manager.Submit(ctx, SubmitRequest{URL: "https://example.org/", MaxPages: 3})
	require.NoError(t, err)

	finished := f.waitFor(t, job.ID, entity.JobCompleted)
	assert.Equal(t, entity.StopCompleted, finished.StopReason)
	assert.Equal(t, 2, finished.Summary[entity.CountDiscovered])
	assert.NotNil(t, finished.StartedAt)
	assert.NotNil(t, finished.FinishedAt)

	var buf bytes.Buffer
	require.NoError(t, f.manager.Sitemap(ctx, job.ID, &buf, sitemap.FormatCSV))
	assert.Equal(t, "https://example.org/\nhttps://example.org/a\n", buf.String())

	require.Len(t, f.failures.saved, 1)
	assert.Equal(t, job.ID, f.failures.saved[0].JobID)
	require.Len(t, f.reports.reports, 1)
	assert.Equal(t, map[string]int{"https://example.org/gone": 1}, f.reports.reports[0].Issues)

	cancel()
	assert.NoError(t, <-done)
}

func TestJobWorkerRecordsFailure(t *testing.T) {
	f := newJobFixture(crawlerFunc(func(context.Context, CrawlRequest) (*entity.CrawlResult, error) {
		return &entity.CrawlResult{
			Failures:   []entity.FailedURL{{URL: "https://example.org/", Kind: repository.KindNetwork}},
			StopReason: entity.StopCompleted,
		}, ErrSeedUnreachable
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.manager.RunWorker(ctx) }()

	job, err := f.manager.Submit(ctx, SubmitRequest{URL: "https://example.org/"})
	require.NoError(t, err)

	failed := f.waitFor(t, job.ID, entity.JobFailed)
	assert.Contains(t, failed.FailureReason, ErrSeedUnreachable.Error())

	err = f.manager.Sitemap(ctx, job.ID, &bytes.Buffer{}, sitemap.FormatXML)
	assert.ErrorIs(t, err, ErrJobNotFinished)
}

func TestJobWorkerPersistsPartialResultOnShutdown(t *testing.T) {
	started := make(chan struct{})
	f := newJobFixture(crawlerFunc(func(ctx context.Context, req CrawlRequest) (*entity.CrawlResult, error) {
		close(started)
		<-ctx.Done()
		return &entity.CrawlResult{
			Seed:       req.Seed,
			Discovered: []string{req.Seed},
			StopReason: entity.StopCancelled,
		}, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.RunWorker(ctx) }()

	job, err := f.manager.Submit(ctx, SubmitRequest{URL: "https://example.org/"})
	require.NoError(t, err)
	<-started
	cancel()
	require.NoError(t, <-done)

	finished, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, finished.Status)
	assert.Equal(t, entity.StopCancelled, finished.StopReason)
	urls, _ := f.jobs.Discovered(context.Background(), job.ID)
	assert.Equal(t, []string{"https://example.org/"}, urls)
}

func TestJobStatusUnknown(t *testing.T) {
	f := newJobFixture(nil)
	_, err := f.manager.GetStatus(context.Background(), "nope")
	assert.True(t, errors.Is(err, repository.ErrJobNotFound))
}
