package entity

import "time"

// Job statuses.
const (
	JobPending   = "pending"
	JobCrawling  = "crawling"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobNotFound  = "not_found"
)

// CrawlJob is a crawl submitted through the API.
type CrawlJob struct {
	ID            string         `json:"id"`
	Seed          string         `json:"seed"`
	Status        string         `json:"status"`
	MaxPages      int            `json:"max_pages,omitempty"`
	ForceCrawl    bool           `json:"force_crawl,omitempty"`
	StopReason    StopReason     `json:"stop_reason,omitempty"`
	Summary       map[string]int `json:"summary,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}
