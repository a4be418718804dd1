// Package extractor pulls navigable links out of fetched HTML documents.
package extractor

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/canonical"
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// Links is the outcome of extracting one document.
type Links struct {
	Keys     []canonical.Key // deduplicated, sorted
	Rejected int             // references that failed canonicalization
	Offsite  int             // references outside the crawl scope
}

// Extractor resolves anchor references to canonical keys within a scope.
type Extractor struct {
	canon   *canonical.Canonicalizer
	inScope func(canonical.Key) bool
	logger  *zap.Logger
}

// New returns an extractor. A nil inScope keeps every link.
func New(canon *canonical.Canonicalizer, inScope func(canonical.Key) bool, logger *zap.Logger) *Extractor {
	if inScope == nil {
		inScope = func(canonical.Key) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{canon: canon, inScope: inScope, logger: logger}
}

// Extract parses body and returns the in-scope links of a[href] and
// area[href] elements, resolved against the document's <base href> when
// present and base otherwise.
func (e *Extractor) Extract(body []byte, base canonical.Key) Links {
	var out Links
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Debug("unparsable document", zap.String("url", base.String()), zap.Error(err))
		return out
	}

	resolveBase := base.String()
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b := documentBase(base, href); b != "" {
			resolveBase = b
		}
	}

	seen := make(map[canonical.Key]struct{})
	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || skipped(href) {
			return
		}
		key, err := e.canon.Canonicalize(href, resolveBase)
		if err != nil {
			out.Rejected++
			e.logger.Debug("rejected link", zap.String("href", href), zap.String("page", base.String()), zap.Error(err))
			return
		}
		if !e.inScope(key) {
			out.Offsite++
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out.Keys = append(out.Keys, key)
	})

	sort.Slice(out.Keys, func(i, j int) bool { return out.Keys[i] < out.Keys[j] })
	return out
}

// documentBase resolves a <base href> against the page URL. The result
// keeps the trailing slash so relative references resolve inside it.
func documentBase(page canonical.Key, href string) string {
	p := page.URL()
	ref, err := url.Parse(strings.TrimSpace(href))
	if p == nil || err != nil {
		return ""
	}
	b := p.ResolveReference(ref)
	if b.Scheme != "http" && b.Scheme != "https" {
		return ""
	}
	return b.String()
}

func skipped(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skippedSchemes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
