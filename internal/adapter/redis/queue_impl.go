package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/sitemap-crawler/internal/repository"
)

const crawlQueueKey = "sitemap:queue"

// QueueRepoImpl implements repository.JobQueueRepository on a Redis list.
type QueueRepoImpl struct {
	client *redis.Client
}

// NewQueueRepo creates a new instance of QueueRepoImpl.
func NewQueueRepo(client *redis.Client) *QueueRepoImpl {
	return &QueueRepoImpl{client: client}
}

// Push adds a job ID to the left side of the list.
func (r *QueueRepoImpl) Push(ctx context.Context, jobID string) error {
	return r.client.LPush(ctx, crawlQueueKey, jobID).Err()
}

// Pop removes a job ID from the right side of the list. A positive wait
// blocks with BRPOP; otherwise the pop returns immediately.
func (r *QueueRepoImpl) Pop(ctx context.Context, wait time.Duration) (string, error) {
	if wait <= 0 {
		id, err := r.client.RPop(ctx, crawlQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrQueueEmpty
		}
		return id, err
	}

	// BRPOP replies with [key, value].
	res, err := r.client.BRPop(ctx, wait, crawlQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", repository.ErrQueueEmpty
	}
	if err != nil {
		return "", err
	}
	return res[1], nil
}

// Size returns the current number of queued jobs.
func (r *QueueRepoImpl) Size(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, crawlQueueKey).Result()
}
