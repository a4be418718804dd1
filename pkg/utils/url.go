package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HashURL creates a SHA256 hash of a URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashURL(rawURL string) string {
	h := sha256.New()
	h.Write([]byte(rawURL))
	return hex.EncodeToString(h.Sum(nil))
}

// SampleDigest returns the hex MD5 digest used for deterministic URL sampling.
func SampleDigest(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// SitemapFileName returns the conventional output name for a crawl of host,
// e.g. "example.org_sitemap_20240131.xml".
func SitemapFileName(host string, at time.Time, ext string) string {
	host = strings.NewReplacer(":", "_", "/", "_").Replace(host)
	if ext == "" {
		ext = "xml"
	}
	return fmt.Sprintf("%s_sitemap_%s.%s", host, at.Format("20060102"), strings.TrimPrefix(ext, "."))
}

// HostOf returns the host component of rawURL, or "unknown".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}
