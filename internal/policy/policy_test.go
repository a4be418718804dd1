package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/canonical"
)

func mustPolicy(t *testing.T, seed string, opts Options) *Policy {
	t.Helper()
	p, err := New(canonical.Key(seed), opts)
	require.NoError(t, err)
	return p
}

func TestInScope(t *testing.T) {
	tests := []struct {
		scope Scope
		key   string
		want  bool
	}{
		{ScopeExact, "https://example.org/a", true},
		{ScopeExact, "https://blog.example.org/a", false},
		{ScopeExact, "https://example.org:8443/a", false},
		{ScopeExact, "https://other.org/x", false},
		{ScopeSubdomains, "https://blog.example.org/a", true},
		{ScopeSubdomains, "https://badexample.org/a", false},
		{ScopeRegistrable, "https://shop.example.org/a", true},
		{ScopeRegistrable, "https://example.org.evil.com/a", false},
	}
	for _, tt := range tests {
		p := mustPolicy(t, "https://example.org/", Options{Scope: tt.scope})
		assert.Equal(t, tt.want, p.InScope(canonical.Key(tt.key)), "%s %s", tt.scope, tt.key)
	}
}

func TestCheckReasons(t *testing.T) {
	p := mustPolicy(t, "https://example.org/", Options{
		ExcludedExtensions: []string{".pdf", "JPG"},
		ExcludeSubstrings:  []string{"/admin"},
	})
	d, err := ParseDirective([]byte("User-agent: *\nDisallow: /private\n"), "sitemapper")
	require.NoError(t, err)

	tests := []struct {
		key  string
		want Reason
	}{
		{"https://other.org/a", ReasonOutOfScope},
		{"https://example.org/doc.pdf", ReasonExtension},
		{"https://example.org/photo.JPG", ReasonExtension},
		{"https://example.org/admin/users", ReasonExcludedSubstring},
		{"https://example.org/private/page", ReasonRobots},
		{"https://example.org/public", ReasonNone},
	}
	for _, tt := range tests {
		v := p.Check(canonical.Key(tt.key), d)
		assert.Equal(t, tt.want, v.Reason, tt.key)
		assert.Equal(t, tt.want == ReasonNone, v.Allowed, tt.key)
	}

	// Nil directive permits everything the other rules allow.
	assert.True(t, p.Allowed("https://example.org/private/page", nil))
}

func TestAccept(t *testing.T) {
	all := mustPolicy(t, "https://example.org/", Options{})
	assert.True(t, all.Accept("https://example.org/anything"))

	some := mustPolicy(t, "https://example.org/", Options{IncludeSubstrings: []string{"/blog/", " "}})
	assert.True(t, some.Accept("https://example.org/blog/post"))
	assert.False(t, some.Accept("https://example.org/about"))
}

func TestNewRejectsBadScope(t *testing.T) {
	_, err := New("https://example.org/", Options{Scope: "planet"})
	assert.Error(t, err)
}

func TestDirectiveLongestMatch(t *testing.T) {
	d, err := ParseDirective([]byte(`
User-agent: *
Disallow: /shop
Allow: /shop/catalog
Crawl-delay: 2
`), "sitemapper/1.0")
	require.NoError(t, err)

	assert.False(t, d.Allows("/shop/cart"))
	assert.True(t, d.Allows("/shop/catalog/shoes"))
	assert.True(t, d.Allows("/"))
	assert.Equal(t, 2*time.Second, d.CrawlDelay())
}

func TestDirectiveAgentGroup(t *testing.T) {
	d, err := ParseDirective([]byte(`
User-agent: sitemapper
Disallow: /only-for-us

User-agent: *
Disallow: /
`), "sitemapper/1.0")
	require.NoError(t, err)

	assert.True(t, d.Allows("/page"))
	assert.False(t, d.Allows("/only-for-us"))
}

func TestDirectiveCacheFetchesOncePerHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			time.Sleep(20 * time.Millisecond)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /secret\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := NewDirectiveCache(srv.Client(), "sitemapper", true, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := cache.Directive(ctx, canonical.Key(srv.URL+"/page"))
			assert.False(t, d.Allows("/secret"))
		}()
	}
	wg.Wait()

	d := cache.Directive(ctx, canonical.Key(srv.URL+"/other"))
	assert.True(t, d.Allows("/other"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDirectiveCacheFailOpen(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusForbidden} {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(status)
		}))

		cache := NewDirectiveCache(srv.Client(), "sitemapper", true, zap.NewNop())
		d := cache.Directive(context.Background(), canonical.Key(srv.URL+"/"))
		assert.Nil(t, d, "status %d", status)
		assert.True(t, d.Allows("/anything"))

		cache.Directive(context.Background(), canonical.Key(srv.URL+"/again"))
		assert.Equal(t, int32(1), hits.Load(), "status %d", status)
		srv.Close()
	}
}

func TestDirectiveCacheUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	cache := NewDirectiveCache(&http.Client{Timeout: time.Second}, "sitemapper", true, zap.NewNop())
	d := cache.Directive(context.Background(), canonical.Key(addr+"/"))
	assert.Nil(t, d)
	assert.True(t, d.Allows("/"))
}

func TestDirectiveCacheDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()

	cache := NewDirectiveCache(srv.Client(), "sitemapper", false, nil)
	assert.Nil(t, cache.Directive(context.Background(), canonical.Key(srv.URL+"/")))
	assert.Equal(t, int32(0), hits.Load())
}
