package entity

import "time"

// FailedURL records a URL that ended its crawl in the Visited-Failure state.
type FailedURL struct {
	ID                   int64
	JobID                string
	URL                  string
	Kind                 string // "excluded", "timeout", "network", "status", ...
	FailureReason        string
	HTTPStatusCode       int
	Attempts             int
	LastAttemptTimestamp time.Time
}
