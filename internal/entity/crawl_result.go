package entity

// StopReason explains why a crawl ended. Every reason is a graceful end.
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopPageLimit StopReason = "page_limit"
	StopDeadline  StopReason = "deadline"
	StopCancelled StopReason = "cancelled"
)

// Summary categories, the row-count summary handed to score aggregation.
const (
	CountDiscovered    = "discovered"
	CountVisited       = "visited"
	CountFailed        = "failed"
	CountExcluded      = "excluded"
	CountRejectedLinks = "rejected_links"
	CountRedirected    = "redirected"
)

// CrawlResult is the outcome of one crawl run.
type CrawlResult struct {
	Seed       string
	Discovered []string // sorted copy of the Discovered Set
	Failures   []FailedURL
	Visited    int
	StopReason StopReason
	Summary    map[string]int
}

// IssueCounts maps each failed URL to the number of issues recorded for it,
// the per-URL mapping consumed by report writers.
func (r *CrawlResult) IssueCounts() map[string]int {
	out := make(map[string]int, len(r.Failures))
	for _, f := range r.Failures {
		out[f.URL]++
	}
	return out
}
