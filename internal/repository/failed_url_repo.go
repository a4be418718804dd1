package repository

import (
	"context"

	"github.com/user/sitemap-crawler/internal/entity"
)

// FailedURLRepository persists the Visited-Failure records of crawl jobs.
type FailedURLRepository interface {
	// SaveOrUpdate creates or updates the failure records of a job.
	SaveOrUpdate(ctx context.Context, failures []entity.FailedURL) error
	// FindByJob returns the failures recorded for a job.
	FindByJob(ctx context.Context, jobID string) ([]*entity.FailedURL, error)
}
