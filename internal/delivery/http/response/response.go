package response

import (
	"time"

	"github.com/user/sitemap-crawler/internal/entity"
)

type SubmitCrawlResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	CrawlRequestID string `json:"crawl_request_id"`
}

// CrawlStatusResponse is the public view of entity.CrawlJob.
type CrawlStatusResponse struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	CurrentStatus string         `json:"current_status"` // "pending", "crawling", "completed", "failed"
	StopReason    string         `json:"stop_reason,omitempty"`
	Summary       map[string]int `json:"summary,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

func NewCrawlStatusResponse(job *entity.CrawlJob) CrawlStatusResponse {
	return CrawlStatusResponse{
		ID:            job.ID,
		URL:           job.Seed,
		CurrentStatus: job.Status,
		StopReason:    string(job.StopReason),
		Summary:       job.Summary,
		FailureReason: job.FailureReason,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		FinishedAt:    job.FinishedAt,
	}
}
