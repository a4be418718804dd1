package request

type SubmitCrawlRequest struct {
	URL        string `json:"url"`
	ForceCrawl bool   `json:"force_crawl"`
	MaxPages   int    `json:"max_pages"`
}
