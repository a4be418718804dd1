package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ErrMalformedSitemap is returned for documents that are not a urlset or a
// sitemap index. Operations that rewrite a sitemap abort on it.
var ErrMalformedSitemap = errors.New("malformed sitemap")

const (
	maxIndexDepth   = 3
	maxSitemapBytes = 50 * 1024 * 1024
)

// Kind tells a urlset apart from a sitemap index.
type Kind string

const (
	KindURLSet Kind = "urlset"
	KindIndex  Kind = "sitemapindex"
)

// Document is a parsed sitemap. For an index, Locs lists child sitemaps.
type Document struct {
	Kind Kind
	Locs []string
}

// Read parses a sitemap or sitemap index. Entries keep document order with
// surrounding whitespace trimmed.
func Read(r io.Reader) (*Document, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSitemap, err)
	}

	var root *xmlquery.Node
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			root = n
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedSitemap)
	}
	for n := root.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return nil, fmt.Errorf("%w: more than one root element", ErrMalformedSitemap)
		}
	}

	var out Document
	var expr string
	switch root.Data {
	case "urlset":
		out.Kind = KindURLSet
		expr = "/*[local-name()='urlset']/*[local-name()='url']/*[local-name()='loc']"
	case "sitemapindex":
		out.Kind = KindIndex
		expr = "/*[local-name()='sitemapindex']/*[local-name()='sitemap']/*[local-name()='loc']"
	default:
		return nil, fmt.Errorf("%w: unexpected root <%s>", ErrMalformedSitemap, root.Data)
	}

	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("query sitemap: %w", err)
	}
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out.Locs = append(out.Locs, loc)
		}
	}
	return &out, nil
}

// ReadFile reads a sitemap from disk.
func ReadFile(path string) (*Document, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read sitemap %s: %w", path, err)
	}
	doc, err := Read(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("sitemap %s: %w", path, err)
	}
	return doc, raw, nil
}

// Collect returns every page URL reachable from source, a local file path or
// an http(s) sitemap URL. Sitemap indexes are followed up to three levels.
func Collect(ctx context.Context, client *http.Client, source string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return collect(ctx, client, source, 0)
}

func collect(ctx context.Context, client *http.Client, source string, depth int) ([]string, error) {
	if depth > maxIndexDepth {
		return nil, fmt.Errorf("sitemap index nesting deeper than %d at %s", maxIndexDepth, source)
	}

	var doc *Document
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		doc, err = fetchDocument(ctx, client, source)
	} else {
		doc, _, err = ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind == KindURLSet {
		return doc.Locs, nil
	}

	var urls []string
	for _, child := range doc.Locs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, err := collect(ctx, client, child, depth+1)
		if err != nil {
			return nil, err
		}
		urls = append(urls, sub...)
	}
	return urls, nil
}

func fetchDocument(ctx context.Context, client *http.Client, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build sitemap request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch sitemap %s: status %d", url, resp.StatusCode)
	}
	doc, err := Read(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", url, err)
	}
	return doc, nil
}
