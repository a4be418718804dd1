package repository

import (
	"context"
	"errors"
	"time"
)

// ErrQueueEmpty is returned by Pop when no job arrived within the wait.
var ErrQueueEmpty = errors.New("queue is empty")

// JobQueueRepository defines a FIFO queue of crawl job IDs.
type JobQueueRepository interface {
	// Push adds a job ID to the end of the queue.
	Push(ctx context.Context, jobID string) error
	// Pop removes and returns the job ID at the front of the queue, waiting
	// up to wait for one to arrive.
	Pop(ctx context.Context, wait time.Duration) (string, error)
	// Size returns the current number of queued jobs.
	Size(ctx context.Context) (int64, error)
}
