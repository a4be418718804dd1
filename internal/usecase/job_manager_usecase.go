package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/canonical"
	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/sitemap"
	"github.com/user/sitemap-crawler/pkg/metrics"
)

var (
	ErrURLRecentlyCrawled = errors.New("URL has been crawled recently and force_crawl is false")
	ErrJobNotFinished     = errors.New("crawl job has not finished")
)

const (
	defaultDeduplicationWindow = 48 * time.Hour
	defaultPollInterval        = 2 * time.Second
	persistTimeout             = 30 * time.Second
)

// SubmitRequest asks for a crawl of URL.
type SubmitRequest struct {
	URL        string
	ForceCrawl bool
	MaxPages   int
}

// JobManager queues crawl jobs and runs them in background workers.
type JobManager interface {
	// Submit queues a crawl. When the seed was crawled within the
	// deduplication window and ForceCrawl is false it returns the existing
	// job with ErrURLRecentlyCrawled.
	Submit(ctx context.Context, req SubmitRequest) (*entity.CrawlJob, error)
	GetStatus(ctx context.Context, id string) (*entity.CrawlJob, error)
	// Sitemap writes the discovered set of a completed job.
	Sitemap(ctx context.Context, id string, w io.Writer, format sitemap.Format) error
	// RunWorker processes queued jobs until ctx is cancelled.
	RunWorker(ctx context.Context) error
}

// JobManagerOptions tunes deduplication and queue polling.
type JobManagerOptions struct {
	DeduplicationWindow time.Duration
	PollInterval        time.Duration
}

type jobManagerUseCase struct {
	crawler     Crawler
	canon       *canonical.Canonicalizer
	jobRepo     repository.JobRepository
	queueRepo   repository.JobQueueRepository
	recentRepo  repository.RecentCrawlRepository
	failureRepo repository.FailedURLRepository
	reports     repository.ReportWriter
	opts        JobManagerOptions
	logger      *zap.Logger
	now         func() time.Time
}

// NewJobManager creates a new JobManager use case. failureRepo and reports
// may be nil when no report store is configured.
func NewJobManager(
	crawler Crawler,
	canon *canonical.Canonicalizer,
	jobRepo repository.JobRepository,
	queueRepo repository.JobQueueRepository,
	recentRepo repository.RecentCrawlRepository,
	failureRepo repository.FailedURLRepository,
	reports repository.ReportWriter,
	opts JobManagerOptions,
	logger *zap.Logger,
) JobManager {
	if opts.DeduplicationWindow <= 0 {
		opts.DeduplicationWindow = defaultDeduplicationWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &jobManagerUseCase{
		crawler:     crawler,
		canon:       canon,
		jobRepo:     jobRepo,
		queueRepo:   queueRepo,
		recentRepo:  recentRepo,
		failureRepo: failureRepo,
		reports:     reports,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

func (uc *jobManagerUseCase) Submit(ctx context.Context, req SubmitRequest) (*entity.CrawlJob, error) {
	seed, err := uc.canon.Canonicalize(req.URL, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	if req.ForceCrawl {
		if err := uc.recentRepo.Forget(ctx, seed.String()); err != nil {
			// Not critical: the new job simply replaces the record below.
			uc.logger.Warn("Failed to forget recent crawl", zap.String("seed", seed.String()), zap.Error(err))
		}
	} else {
		id, found, err := uc.recentRepo.LastJob(ctx, seed.String())
		if err != nil {
			return nil, err
		}
		if found {
			job, err := uc.jobRepo.Get(ctx, id)
			if err == nil {
				return job, ErrURLRecentlyCrawled
			}
			if !errors.Is(err, repository.ErrJobNotFound) {
				return nil, err
			}
		}
	}

	job := &entity.CrawlJob{
		ID:         uuid.NewString(),
		Seed:       seed.String(),
		Status:     entity.JobPending,
		MaxPages:   req.MaxPages,
		ForceCrawl: req.ForceCrawl,
		CreatedAt:  uc.now().UTC(),
	}
	if err := uc.jobRepo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	if err := uc.queueRepo.Push(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}
	if err := uc.recentRepo.MarkCrawled(ctx, job.Seed, job.ID, uc.opts.DeduplicationWindow); err != nil {
		// The job is queued; a duplicate submission may slip through until
		// the record is written.
		uc.logger.Error("Failed to mark seed as recently crawled", zap.String("seed", job.Seed), zap.Error(err))
	}

	uc.logger.Info("Crawl job queued", zap.String("job_id", job.ID), zap.String("seed", job.Seed))
	return job, nil
}

func (uc *jobManagerUseCase) GetStatus(ctx context.Context, id string) (*entity.CrawlJob, error) {
	return uc.jobRepo.Get(ctx, id)
}

func (uc *jobManagerUseCase) Sitemap(ctx context.Context, id string, w io.Writer, format sitemap.Format) error {
	job, err := uc.jobRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != entity.JobCompleted {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrJobNotFinished)
	}
	urls, err := uc.jobRepo.Discovered(ctx, id)
	if err != nil {
		return err
	}
	return sitemap.Emit(w, urls, format)
}

func (uc *jobManagerUseCase) RunWorker(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		id, err := uc.queueRepo.Pop(ctx, uc.opts.PollInterval)
		switch {
		case err == nil:
			uc.process(ctx, id)
		case errors.Is(err, repository.ErrQueueEmpty):
		case ctx.Err() != nil:
			return nil
		default:
			uc.logger.Error("Failed to pop crawl job", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(uc.opts.PollInterval):
			}
		}
	}
}

// process runs one job. Results are persisted even when ctx was cancelled
// mid-crawl, so a shutdown keeps the partial discovered set.
func (uc *jobManagerUseCase) process(ctx context.Context, id string) {
	logger := uc.logger.With(zap.String("job_id", id))
	job, err := uc.jobRepo.Get(ctx, id)
	if err != nil {
		logger.Error("Failed to load crawl job", zap.Error(err))
		return
	}

	started := uc.now().UTC()
	job.Status = entity.JobCrawling
	job.StartedAt = &started
	if err := uc.jobRepo.Save(ctx, job); err != nil {
		logger.Warn("Failed to mark job as crawling", zap.Error(err))
	}

	res, crawlErr := uc.crawler.Crawl(ctx, CrawlRequest{Seed: job.Seed, MaxPages: job.MaxPages})

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if res != nil {
		job.StopReason = res.StopReason
		job.Summary = res.Summary
		if err := uc.persist(pctx, job, res); err != nil {
			logger.Error("Failed to persist crawl result", zap.Error(err))
			if crawlErr == nil {
				crawlErr = err
			}
		}
	}

	finished := uc.now().UTC()
	job.FinishedAt = &finished
	if crawlErr != nil {
		job.Status = entity.JobFailed
		job.FailureReason = crawlErr.Error()
	} else {
		job.Status = entity.JobCompleted
	}
	if err := uc.jobRepo.Save(pctx, job); err != nil {
		logger.Error("Failed to save finished job", zap.Error(err))
	}
	metrics.JobsTotal.WithLabelValues(job.Status).Inc()
	logger.Info("Crawl job finished",
		zap.String("status", job.Status),
		zap.String("stop_reason", string(job.StopReason)),
		zap.Duration("duration", finished.Sub(started)),
	)
}

func (uc *jobManagerUseCase) persist(ctx context.Context, job *entity.CrawlJob, res *entity.CrawlResult) error {
	if err := uc.jobRepo.SaveDiscovered(ctx, job.ID, res.Discovered); err != nil {
		return fmt.Errorf("save discovered set: %w", err)
	}
	if uc.failureRepo != nil && len(res.Failures) > 0 {
		failures := make([]entity.FailedURL, len(res.Failures))
		for i, f := range res.Failures {
			f.JobID = job.ID
			failures[i] = f
		}
		if err := uc.failureRepo.SaveOrUpdate(ctx, failures); err != nil {
			return fmt.Errorf("save failures: %w", err)
		}
	}
	if uc.reports != nil {
		err := uc.reports.WriteReport(ctx, repository.Report{
			JobID:      job.ID,
			Seed:       job.Seed,
			StopReason: string(res.StopReason),
			Discovered: res.Discovered,
			Issues:     res.IssueCounts(),
			Summary:    res.Summary,
		})
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
