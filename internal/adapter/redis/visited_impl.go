package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/sitemap-crawler/pkg/utils"
)

const recentSeedPrefix = "sitemap:recent:"

// RecentCrawlRepoImpl implements repository.RecentCrawlRepository with one
// expiring key per seed.
type RecentCrawlRepoImpl struct {
	client *redis.Client
}

// NewRecentCrawlRepo creates a new instance of RecentCrawlRepoImpl.
func NewRecentCrawlRepo(client *redis.Client) *RecentCrawlRepoImpl {
	return &RecentCrawlRepoImpl{client: client}
}

// generateKey creates a consistent Redis key for a seed by hashing it.
func (r *RecentCrawlRepoImpl) generateKey(seed string) string {
	return fmt.Sprintf("%s%s", recentSeedPrefix, utils.HashURL(seed))
}

// MarkCrawled stores jobID under the seed's key for expiry.
func (r *RecentCrawlRepoImpl) MarkCrawled(ctx context.Context, seed, jobID string, expiry time.Duration) error {
	return r.client.SetEx(ctx, r.generateKey(seed), jobID, expiry).Err()
}

// LastJob returns the job recorded for seed, if the key has not expired.
func (r *RecentCrawlRepoImpl) LastJob(ctx context.Context, seed string) (string, bool, error) {
	id, err := r.client.Get(ctx, r.generateKey(seed)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Forget removes the seed's record, used for force_crawl.
func (r *RecentCrawlRepoImpl) Forget(ctx context.Context, seed string) error {
	return r.client.Del(ctx, r.generateKey(seed)).Err()
}
