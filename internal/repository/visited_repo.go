package repository

import (
	"context"
	"time"
)

// RecentCrawlRepository remembers which seeds were crawled recently so a
// repeated submission can return the existing job.
type RecentCrawlRepository interface {
	// MarkCrawled records jobID as the latest crawl of seed for expiry.
	MarkCrawled(ctx context.Context, seed, jobID string, expiry time.Duration) error
	// LastJob returns the job that crawled seed within the window, if any.
	LastJob(ctx context.Context, seed string) (jobID string, found bool, err error)
	// Forget removes the record, used for force_crawl.
	Forget(ctx context.Context, seed string) error
}
