// Package policy decides which canonical URLs a crawl may fetch and which
// enter the discovered set.
package policy

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/user/sitemap-crawler/internal/canonical"
)

// Scope selects which hosts count as the seed's domain.
type Scope string

const (
	ScopeExact       Scope = "exact"       // same host and port as the seed
	ScopeSubdomains  Scope = "subdomains"  // seed hostname or any subdomain of it
	ScopeRegistrable Scope = "registrable" // same eTLD+1
)

// Reason names why a key was refused.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonOutOfScope        Reason = "out_of_scope"
	ReasonExtension         Reason = "extension"
	ReasonExcludedSubstring Reason = "excluded_substring"
	ReasonRobots            Reason = "robots"
)

// Verdict is the outcome of a policy check.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

// Options configures a Policy.
type Options struct {
	Scope              Scope
	ExcludedExtensions []string
	ExcludeSubstrings  []string
	IncludeSubstrings  []string
}

// Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	scope        Scope
	seedHost     string // host[:port]
	seedHostname string
	seedDomain   string // eTLD+1, or the hostname when none can be derived
	extensions   []string
	exclude      []string
	include      []string
}

// New builds the policy for a crawl rooted at seed.
func New(seed canonical.Key, opts Options) (*Policy, error) {
	u := seed.URL()
	if u == nil || u.Host == "" {
		return nil, fmt.Errorf("policy: seed %q has no host", seed)
	}
	if opts.Scope == "" {
		opts.Scope = ScopeExact
	}
	switch opts.Scope {
	case ScopeExact, ScopeSubdomains, ScopeRegistrable:
	default:
		return nil, fmt.Errorf("policy: unsupported scope %q", opts.Scope)
	}

	p := &Policy{
		scope:        opts.Scope,
		seedHost:     u.Host,
		seedHostname: u.Hostname(),
		seedDomain:   registrableDomain(u.Hostname()),
		exclude:      nonEmpty(opts.ExcludeSubstrings),
		include:      nonEmpty(opts.IncludeSubstrings),
	}
	for _, ext := range nonEmpty(opts.ExcludedExtensions) {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.extensions = append(p.extensions, ext)
	}
	return p, nil
}

// InScope reports whether key belongs to the seed's domain.
func (p *Policy) InScope(key canonical.Key) bool {
	u := key.URL()
	if u == nil || u.Host == "" {
		return false
	}
	switch p.scope {
	case ScopeSubdomains:
		h := u.Hostname()
		return h == p.seedHostname || strings.HasSuffix(h, "."+p.seedHostname)
	case ScopeRegistrable:
		return registrableDomain(u.Hostname()) == p.seedDomain
	default:
		return u.Host == p.seedHost
	}
}

// Check evaluates every fetch rule in order: scope, extension denylist,
// exclude substrings, then the host's crawl directive. A nil directive
// permits everything.
func (p *Policy) Check(key canonical.Key, directive *Directive) Verdict {
	if !p.InScope(key) {
		return Verdict{Reason: ReasonOutOfScope}
	}
	if v := p.CheckRules(key); !v.Allowed {
		return v
	}
	if !directive.Allows(key.URL().RequestURI()) {
		return Verdict{Reason: ReasonRobots}
	}
	return Verdict{Allowed: true}
}

// CheckRules applies only the extension denylist and exclude substrings,
// for keys whose scope and host directive do not matter.
func (p *Policy) CheckRules(key canonical.Key) Verdict {
	u := key.URL()
	if u == nil {
		return Verdict{Reason: ReasonOutOfScope}
	}
	path := strings.ToLower(u.Path)
	for _, ext := range p.extensions {
		if strings.HasSuffix(path, ext) {
			return Verdict{Reason: ReasonExtension}
		}
	}
	s := key.String()
	for _, sub := range p.exclude {
		if strings.Contains(s, sub) {
			return Verdict{Reason: ReasonExcludedSubstring}
		}
	}
	return Verdict{Allowed: true}
}

// Allowed is Check reduced to its decision.
func (p *Policy) Allowed(key canonical.Key, directive *Directive) bool {
	return p.Check(key, directive).Allowed
}

// Accept reports whether an allowed key may enter the discovered set. With
// no include substrings configured every key is accepted.
func (p *Policy) Accept(key canonical.Key) bool {
	if len(p.include) == 0 {
		return true
	}
	s := key.String()
	for _, sub := range p.include {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func registrableDomain(hostname string) string {
	if net.ParseIP(hostname) != nil {
		return hostname
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return hostname
	}
	return d
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
