package repository

import "context"

// Report is what a finished crawl hands to the report writer.
type Report struct {
	JobID      string
	Seed       string
	StopReason string
	Discovered []string
	// Issues maps a URL to the number of issues recorded for it.
	Issues  map[string]int
	Summary map[string]int
}

// ReportWriter consumes finished crawl results.
type ReportWriter interface {
	WriteReport(ctx context.Context, report Report) error
}
