package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/user/sitemap-crawler/internal/entity"
)

// FailedURLRepoImpl implements repository.FailedURLRepository.
type FailedURLRepoImpl struct {
	db DB
}

// NewFailedURLRepo creates a new instance of FailedURLRepoImpl.
func NewFailedURLRepo(db DB) *FailedURLRepoImpl {
	return &FailedURLRepoImpl{db: db}
}

// SaveOrUpdate upserts the failures in one batch. Attempts accumulate
// when a job records the same URL again.
func (r *FailedURLRepoImpl) SaveOrUpdate(ctx context.Context, failures []entity.FailedURL) error {
	if len(failures) == 0 {
		return nil
	}
	query := `
		INSERT INTO failed_urls (job_id, url, kind, failure_reason, http_status_code, attempts, last_attempt_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, url) DO UPDATE SET
			kind = EXCLUDED.kind,
			failure_reason = EXCLUDED.failure_reason,
			http_status_code = EXCLUDED.http_status_code,
			attempts = failed_urls.attempts + EXCLUDED.attempts,
			last_attempt_timestamp = EXCLUDED.last_attempt_timestamp;
	`
	batch := &pgx.Batch{}
	for _, f := range failures {
		attempts := f.Attempts
		if attempts < 1 {
			attempts = 1
		}
		batch.Queue(query,
			f.JobID,
			f.URL,
			f.Kind,
			f.FailureReason,
			f.HTTPStatusCode,
			attempts,
			f.LastAttemptTimestamp,
		)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

// FindByJob returns the failures recorded for a job ordered by URL.
func (r *FailedURLRepoImpl) FindByJob(ctx context.Context, jobID string) ([]*entity.FailedURL, error) {
	query := `
		SELECT id, job_id, url, kind, failure_reason, http_status_code, attempts, last_attempt_timestamp
		FROM failed_urls
		WHERE job_id = $1
		ORDER BY url ASC;
	`
	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failedURLs []*entity.FailedURL
	for rows.Next() {
		var fu entity.FailedURL
		if err := rows.Scan(
			&fu.ID,
			&fu.JobID,
			&fu.URL,
			&fu.Kind,
			&fu.FailureReason,
			&fu.HTTPStatusCode,
			&fu.Attempts,
			&fu.LastAttemptTimestamp,
		); err != nil {
			return nil, err
		}
		failedURLs = append(failedURLs, &fu)
	}

	return failedURLs, rows.Err()
}
