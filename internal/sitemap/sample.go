package sitemap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/user/sitemap-crawler/pkg/utils"
)

// SampleOptions controls Sample.
type SampleOptions struct {
	// Percentage of URLs to keep, 10 to 50 in steps of 10. Zero means 10.
	Percentage         int
	Limit              int // zero means no limit
	ExcludedExtensions []string
	Exclude            []string
	Include            []string
}

// Sample filters urls and keeps a stable pseudo-random subset: a URL is
// kept when the first hex digit of its MD5 digest is below Percentage/10.
// The same input always yields the same sample. Input order is preserved
// and duplicates are dropped.
func Sample(urls []string, opts SampleOptions) ([]string, error) {
	if opts.Percentage == 0 {
		opts.Percentage = 10
	}
	if opts.Percentage < 10 || opts.Percentage > 50 || opts.Percentage%10 != 0 {
		return nil, fmt.Errorf("sample percentage must be one of 10, 20, 30, 40, 50; got %d", opts.Percentage)
	}
	bound := uint64(opts.Percentage / 10)

	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if !keep(u, opts) {
			continue
		}
		digit, err := strconv.ParseUint(utils.SampleDigest(u)[:1], 16, 8)
		if err != nil || digit >= bound {
			continue
		}
		out = append(out, u)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func keep(u string, opts SampleOptions) bool {
	lower := strings.ToLower(u)
	for _, ext := range opts.ExcludedExtensions {
		if ext != "" && strings.HasSuffix(lower, strings.ToLower(ext)) {
			return false
		}
	}
	for _, s := range opts.Exclude {
		if s != "" && strings.Contains(u, s) {
			return false
		}
	}
	if len(opts.Include) == 0 {
		return true
	}
	for _, s := range opts.Include {
		if s != "" && strings.Contains(u, s) {
			return true
		}
	}
	return false
}
