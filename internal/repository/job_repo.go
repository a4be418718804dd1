package repository

import (
	"context"
	"errors"

	"github.com/user/sitemap-crawler/internal/entity"
)

var ErrJobNotFound = errors.New("crawl job not found")

// JobRepository stores crawl job records and their discovered URL sets.
type JobRepository interface {
	Save(ctx context.Context, job *entity.CrawlJob) error
	// Get returns ErrJobNotFound for unknown or expired jobs.
	Get(ctx context.Context, id string) (*entity.CrawlJob, error)
	SaveDiscovered(ctx context.Context, id string, urls []string) error
	// Discovered returns the job's discovered URLs sorted lexicographically.
	Discovered(ctx context.Context, id string) ([]string, error)
}
