package entity

import (
	"mime"
	"strings"
	"time"
)

// FetchResult is the successful outcome of fetching one URL.
type FetchResult struct {
	RequestURL     string
	FinalURL       string // post-redirect location
	HTTPStatusCode int
	ContentType    string
	Body           []byte // only populated for HTML responses
	Redirects      int
	ResponseTime   time.Duration
}

// Redirected reports whether the response was served from another location.
func (r *FetchResult) Redirected() bool {
	return r.Redirects > 0 || (r.FinalURL != "" && r.FinalURL != r.RequestURL)
}

// IsHTML reports whether the response is a markup document eligible for
// link extraction.
func (r *FetchResult) IsHTML() bool {
	return IsHTMLContentType(r.ContentType)
}

// IsHTMLContentType reports whether a Content-Type header names an HTML or
// XHTML document.
func IsHTMLContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
