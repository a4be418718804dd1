package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/sitemap-crawler/internal/canonical"
)

func sameHost(host string) func(canonical.Key) bool {
	return func(k canonical.Key) bool { return k.Host() == host }
}

func TestExtract(t *testing.T) {
	e := New(canonical.New(canonical.Options{}), sameHost("example.org"), nil)
	body := []byte(`<html><body>
		<a href="/b">b</a>
		<a href="/b/">b again</a>
		<a href="https://EXAMPLE.org/b#frag">b fragment</a>
		<a href="c?x=1">relative</a>
		<a href="https://other.org/x">offsite</a>
		<a href="mailto:hi@example.org">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="tel:123">phone</a>
		<a href="">empty</a>
		<a href="http://%zz/">broken</a>
		<map><area href="/area-link"></map>
		<link href="/style.css">
	</body></html>`)

	links := e.Extract(body, "https://example.org/a/index")

	assert.Equal(t, []canonical.Key{
		"https://example.org/a/c",
		"https://example.org/area-link",
		"https://example.org/b",
	}, links.Keys)
	assert.Equal(t, 1, links.Offsite)
	assert.Equal(t, 1, links.Rejected)
}

func TestExtractHonoursBaseHref(t *testing.T) {
	e := New(canonical.New(canonical.Options{}), nil, nil)
	body := []byte(`<html><head><base href="/docs/"></head>
		<body><a href="intro">intro</a><a href="/root">root</a></body></html>`)

	links := e.Extract(body, "https://example.org/some/page")
	assert.Equal(t, []canonical.Key{
		"https://example.org/docs/intro",
		"https://example.org/root",
	}, links.Keys)
}

func TestExtractEmptyDocument(t *testing.T) {
	e := New(canonical.New(canonical.Options{}), nil, nil)
	links := e.Extract(nil, "https://example.org/")
	assert.Empty(t, links.Keys)
	assert.Zero(t, links.Rejected)
}
