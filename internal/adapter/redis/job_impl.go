package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
)

const (
	jobKeyPrefix        = "sitemap:job:"
	discoveredKeyPrefix = "sitemap:discovered:"
)

// JobRepoImpl implements repository.JobRepository. Job records are JSON
// strings and discovered URLs are sets; both expire after ttl.
type JobRepoImpl struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobRepo creates a new instance of JobRepoImpl. A zero ttl keeps
// records forever.
func NewJobRepo(client *redis.Client, ttl time.Duration) *JobRepoImpl {
	return &JobRepoImpl{client: client, ttl: ttl}
}

func (r *JobRepoImpl) Save(ctx context.Context, job *entity.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return r.client.Set(ctx, jobKeyPrefix+job.ID, data, r.ttl).Err()
}

func (r *JobRepoImpl) Get(ctx context.Context, id string) (*entity.CrawlJob, error) {
	data, err := r.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job entity.CrawlJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// SaveDiscovered replaces the job's discovered set.
func (r *JobRepoImpl) SaveDiscovered(ctx context.Context, id string, urls []string) error {
	key := discoveredKeyPrefix + id
	members := make([]interface{}, len(urls))
	for i, u := range urls {
		members[i] = u
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, members...)
			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
			}
		}
		return nil
	})
	return err
}

func (r *JobRepoImpl) Discovered(ctx context.Context, id string) ([]string, error) {
	urls, err := r.client.SMembers(ctx, discoveredKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(urls)
	return urls, nil
}
