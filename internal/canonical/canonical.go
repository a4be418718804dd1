// Package canonical turns raw links into stable, comparable crawl keys.
package canonical

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrRejected is returned for references that cannot become a crawl key.
var ErrRejected = errors.New("url rejected")

// Key is a canonical URL: scheme://host/path with optional retained query
// and fragment. Two raw URLs with equal keys are the same crawl unit.
type Key string

func (k Key) String() string { return string(k) }

// URL parses the key. Keys produced by a Canonicalizer always parse.
func (k Key) URL() *url.URL {
	u, _ := url.Parse(string(k))
	return u
}

// Host returns the key's host including any non-default port.
func (k Key) Host() string {
	if u := k.URL(); u != nil {
		return u.Host
	}
	return ""
}

// Options controls which URL components survive canonicalization.
type Options struct {
	KeepQuery         bool
	PreserveFragments bool
	// StripFragments are always removed, even with PreserveFragments.
	StripFragments []string
}

// Canonicalizer normalizes raw references. It is safe for concurrent use.
type Canonicalizer struct {
	keepQuery         bool
	preserveFragments bool
	strip             map[string]struct{}
}

func New(opts Options) *Canonicalizer {
	strip := make(map[string]struct{}, len(opts.StripFragments))
	for _, f := range opts.StripFragments {
		strip[strings.TrimPrefix(f, "#")] = struct{}{}
	}
	return &Canonicalizer{
		keepQuery:         opts.KeepQuery,
		preserveFragments: opts.PreserveFragments,
		strip:             strip,
	}
}

// Canonicalize resolves raw against base (which may be empty) and returns
// its key. Malformed references, non-http(s) schemes and references without
// a host are rejected with an error wrapping ErrRejected.
func (c *Canonicalizer) Canonicalize(raw, base string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty reference", ErrRejected)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	resolveFrom := ref
	if base = strings.TrimSpace(base); base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: base %q: %v", ErrRejected, base, err)
		}
		resolveFrom = b
	}
	// ResolveReference also removes dot segments for absolute references.
	u := resolveFrom.ResolveReference(ref)

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrRejected, u.Scheme)
	}
	host := normalizeHost(u, scheme)
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrRejected, raw)
	}

	out := &url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   u.Path,
	}
	if u.RawPath != "" {
		out.RawPath = u.RawPath
	}
	if out.Path == "" {
		out.Path = "/"
		out.RawPath = ""
	}
	if len(out.Path) > 1 && strings.HasSuffix(out.Path, "/") {
		out.Path = strings.TrimRight(out.Path, "/")
		out.RawPath = strings.TrimRight(out.RawPath, "/")
		if out.Path == "" {
			out.Path = "/"
			out.RawPath = ""
		}
	}
	if out.RawPath != "" {
		if _, err := url.PathUnescape(out.RawPath); err != nil {
			out.RawPath = ""
		}
	}

	if c.keepQuery && u.RawQuery != "" {
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			out.RawQuery = q.Encode()
		}
	}
	if c.preserveFragments && u.Fragment != "" {
		if _, drop := c.strip[u.Fragment]; !drop {
			out.Fragment = u.Fragment
		}
	}
	return Key(out.String()), nil
}

func normalizeHost(u *url.URL, scheme string) string {
	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if hostname == "" {
		return ""
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(hostname, ":") {
		// IPv6 literal
		if port == "" {
			return "[" + hostname + "]"
		}
		return net.JoinHostPort(hostname, port)
	}
	if port == "" {
		return hostname
	}
	return hostname + ":" + port
}

// NormalizeLoose canonicalizes a hand-maintained URL list entry: a missing
// scheme defaults to https, http is upgraded to https and a leading "www."
// is dropped before regular canonicalization.
func (c *Canonicalizer) NormalizeLoose(raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty reference", ErrRejected)
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	u.Scheme = "https"
	if strings.HasPrefix(strings.ToLower(u.Host), "www.") {
		u.Host = u.Host[len("www."):]
	}
	return c.Canonicalize(u.String(), "")
}
