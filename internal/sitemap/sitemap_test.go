package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/user/sitemap-crawler/pkg/utils"
)

func TestEmitXMLWellFormedAndEscaped(t *testing.T) {
	urls := []string{
		"https://example.org/b",
		"https://example.org/search?q=a&b=<c>",
		"https://example.org/",
	}
	original := append([]string(nil), urls...)

	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, urls, FormatXML))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, out, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	assert.Contains(t, out, "q=a&amp;b=&lt;c&gt;")
	assert.Equal(t, original, urls, "input must not be reordered")

	// Strict decode proves well-formedness; loc text round-trips.
	var parsed urlSet
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, Namespace, parsed.XMLName.Space)
	var locs []string
	for _, u := range parsed.URLs {
		locs = append(locs, u.Loc)
	}
	assert.Equal(t, []string{
		"https://example.org/",
		"https://example.org/b",
		"https://example.org/search?q=a&b=<c>",
	}, locs)

	doc, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, KindURLSet, doc.Kind)
	assert.Equal(t, locs, doc.Locs)
}

func TestEmitEmptySet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, nil, FormatXML))
	doc, err := Read(&buf)
	require.NoError(t, err)
	assert.Empty(t, doc.Locs)
}

func TestEmitCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, []string{"https://example.org/b", "https://example.org/a,b"}, FormatCSV))
	assert.Equal(t, "\"https://example.org/a,b\"\nhttps://example.org/b\n", buf.String())
}

func TestEmitXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, []string{"https://example.org/b", "https://example.org/a"}, FormatXLSX))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"https://example.org/a"}, {"https://example.org/b"}}, rows)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatXML, f)
	f, err = ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("json")
	assert.Error(t, err)
}

func TestReadSitemapIndexAndWhitespace(t *testing.T) {
	doc, err := Read(strings.NewReader(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>
     https://example.org/sitemap-1.xml
  </loc></sitemap>
  <sitemap><loc>https://example.org/sitemap-2.xml</loc></sitemap>
</sitemapindex>`))
	require.NoError(t, err)
	assert.Equal(t, KindIndex, doc.Kind)
	assert.Equal(t, []string{"https://example.org/sitemap-1.xml", "https://example.org/sitemap-2.xml"}, doc.Locs)
}

func TestReadMalformed(t *testing.T) {
	for name, input := range map[string]string{
		"wrong root":     `<html><body>nope</body></html>`,
		"mismatched tag": `<urlset><url><loc>https://example.org/</url></urlset>`,
		"empty":          ``,
		"plain text":     `just some words`,
		"two roots":      `<urlset><url><loc>https://a.org/1</loc></url></urlset><urlset><url><loc>x</loc></url></urlset>`,
	} {
		_, err := Read(strings.NewReader(input))
		assert.ErrorIs(t, err, ErrMalformedSitemap, name)
	}
}

func TestCollectFollowsIndex(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<sitemapindex xmlns="%s"><sitemap><loc>%s/a.xml</loc></sitemap><sitemap><loc>%s/b.xml</loc></sitemap></sitemapindex>`, Namespace, srv.URL, srv.URL)
		case "/a.xml":
			fmt.Fprintf(w, `<urlset xmlns="%s"><url><loc>https://example.org/1</loc></url></urlset>`, Namespace)
		case "/b.xml":
			fmt.Fprintf(w, `<urlset xmlns="%s"><url><loc>https://example.org/2</loc></url><url><loc>https://example.org/3</loc></url></urlset>`, Namespace)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	urls, err := Collect(context.Background(), srv.Client(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/1", "https://example.org/2", "https://example.org/3"}, urls)

	_, err = Collect(context.Background(), srv.Client(), srv.URL+"/missing.xml")
	assert.Error(t, err)
}

func TestCollectLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitemap.xml")
	var buf bytes.Buffer
	require.NoError(t, Emit(&buf, []string{"https://example.org/x"}, FormatXML))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	urls, err := Collect(context.Background(), nil, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/x"}, urls)
}

func TestSampleDeterministic(t *testing.T) {
	var urls []string
	for i := 0; i < 500; i++ {
		urls = append(urls, fmt.Sprintf("https://example.org/page/%d", i))
	}

	first, err := Sample(urls, SampleOptions{Percentage: 30})
	require.NoError(t, err)
	second, err := Sample(urls, SampleOptions{Percentage: 30})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
	assert.Less(t, len(first), len(urls))

	for _, u := range first {
		assert.Contains(t, "012", utils.SampleDigest(u)[:1], u)
	}

	wider, err := Sample(urls, SampleOptions{Percentage: 50})
	require.NoError(t, err)
	assert.Subset(t, wider, first)

	limited, err := Sample(urls, SampleOptions{Percentage: 50, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, wider[:5], limited)
}

func TestSampleFilters(t *testing.T) {
	urls := []string{
		"https://example.org/report.pdf",
		"https://example.org/news/a",
		"https://example.org/news/private",
		"https://example.org/about",
	}
	// Percentage 50 still drops URLs by digest, so compare against the
	// unfiltered sample of the same candidates.
	got, err := Sample(urls, SampleOptions{
		Percentage:         50,
		ExcludedExtensions: []string{".pdf"},
		Exclude:            []string{"private"},
		Include:            []string{"/news/"},
	})
	require.NoError(t, err)
	want, err := Sample([]string{"https://example.org/news/a"}, SampleOptions{Percentage: 50})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Sample(urls, SampleOptions{Percentage: 35})
	assert.Error(t, err)
}
