package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/sitemap-crawler/internal/canonical"
	"github.com/user/sitemap-crawler/internal/entity"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/sitemap"
)

var ErrSitemapIndex = errors.New("operation needs a urlset, got a sitemap index")

// UpdateReport summarises a sitemap refresh.
type UpdateReport struct {
	Original   int
	Kept       int
	Removed    int
	Redirected int
	Changed    bool
	BackupPath string
}

// MergeReport summarises merging a URL list into a sitemap.
type MergeReport struct {
	Existing int
	Added    int
	Skipped  int // list entries that are not usable URLs
	Total    int
}

// Redirect pairs a requested URL with where it resolved.
type Redirect struct {
	From string
	To   string
}

// VerifyReport is the outcome of checking a URL list.
type VerifyReport struct {
	Resolved  []string // sorted, deduplicated final URLs
	Redirects []Redirect
	Failures  []entity.FailedURL
	Skipped   int // entries dropped by normalization or the extension filter
}

// SitemapService maintains existing sitemaps and URL lists.
type SitemapService interface {
	// Update re-fetches every location of the sitemap at path and keeps the
	// final URL of each 200 HTML response once. When anything changed the
	// original is backed up next to it and the sitemap rewritten. A
	// malformed sitemap aborts without writing.
	Update(ctx context.Context, path string) (*UpdateReport, error)
	// Merge adds the URLs listed in listPath to the sitemap at sitemapPath
	// and writes the union to outputPath.
	Merge(ctx context.Context, sitemapPath, listPath, outputPath string) (*MergeReport, error)
	// Verify normalizes and fetches raw URLs and reports where they resolve.
	Verify(ctx context.Context, rawURLs []string) (*VerifyReport, error)
}

// SitemapOptions configures the maintenance operations.
type SitemapOptions struct {
	Concurrency        int
	ExcludedExtensions []string
}

type sitemapUseCase struct {
	fetcher repository.Fetcher
	canon   *canonical.Canonicalizer
	opts    SitemapOptions
	logger  *zap.Logger
	now     func() time.Time
}

// NewSitemapService creates the sitemap maintenance use case.
func NewSitemapService(fetcher repository.Fetcher, canon *canonical.Canonicalizer, opts SitemapOptions, logger *zap.Logger) SitemapService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sitemapUseCase{fetcher: fetcher, canon: canon, opts: opts, logger: logger, now: time.Now}
}

type probe struct {
	url string
	res *entity.FetchResult
	err error
}

// probeAll fetches urls with bounded concurrency, preserving input order.
func (uc *sitemapUseCase) probeAll(ctx context.Context, urls []string) ([]probe, error) {
	out := make([]probe, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.opts.Concurrency)
	for i, u := range urls {
		out[i].url = u
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i].res, out[i].err = uc.fetcher.Fetch(gctx, u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

func (uc *sitemapUseCase) Update(ctx context.Context, path string) (*UpdateReport, error) {
	doc, raw, err := sitemap.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if doc.Kind != sitemap.KindURLSet {
		return nil, fmt.Errorf("update %s: %w", path, ErrSitemapIndex)
	}

	probes, err := uc.probeAll(ctx, doc.Locs)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", path, err)
	}

	report := &UpdateReport{Original: len(doc.Locs)}
	seen := make(map[string]struct{}, len(probes))
	var kept []string
	for _, p := range probes {
		if p.err != nil || p.res.HTTPStatusCode != 200 || !p.res.IsHTML() {
			uc.logger.Info("dropping sitemap entry", zap.String("url", p.url), zap.Error(p.err))
			continue
		}
		// The location is written exactly as the server answered; the
		// canonical form only identifies duplicates.
		final := p.res.FinalURL
		if final == "" {
			final = p.url
		}
		if p.res.Redirected() {
			report.Redirected++
		}
		id := final
		if key, err := uc.canon.Canonicalize(final, ""); err == nil {
			id = key.String()
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, final)
	}
	report.Kept = len(kept)
	report.Removed = report.Original - report.Kept
	report.Changed = report.Removed > 0 || report.Redirected > 0
	if !report.Changed {
		return report, nil
	}

	report.BackupPath = fmt.Sprintf("%s-%s.xml", strings.TrimSuffix(path, filepath.Ext(path)), uc.now().Format("02Jan2006"))
	if err := os.WriteFile(report.BackupPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write backup %s: %w", report.BackupPath, err)
	}
	if err := sitemap.WriteFile(path, kept, sitemap.FormatXML); err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", path, err)
	}
	uc.logger.Info("sitemap updated",
		zap.String("path", path),
		zap.String("backup", report.BackupPath),
		zap.Int("original", report.Original),
		zap.Int("kept", report.Kept),
	)
	return report, nil
}

func (uc *sitemapUseCase) Merge(ctx context.Context, sitemapPath, listPath, outputPath string) (*MergeReport, error) {
	doc, _, err := sitemap.ReadFile(sitemapPath)
	if err != nil {
		return nil, err
	}
	if doc.Kind != sitemap.KindURLSet {
		return nil, fmt.Errorf("merge into %s: %w", sitemapPath, ErrSitemapIndex)
	}
	list, err := sitemap.ReadURLListFile(listPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &MergeReport{}
	seen := make(map[string]struct{}, len(doc.Locs)+len(list))
	var merged []string
	add := func(u string) bool {
		if _, dup := seen[u]; dup {
			return false
		}
		seen[u] = struct{}{}
		merged = append(merged, u)
		return true
	}
	// Existing entries are kept verbatim; only exact repeats collapse. Their
	// canonical forms still stop list entries from re-adding the same page.
	covered := make(map[string]struct{}, len(doc.Locs))
	for _, loc := range doc.Locs {
		add(loc)
		if key, err := uc.canon.Canonicalize(loc, ""); err == nil {
			covered[key.String()] = struct{}{}
		}
	}
	report.Existing = len(merged)
	for _, raw := range list {
		key, err := uc.canon.Canonicalize(raw, "")
		if err != nil {
			report.Skipped++
			uc.logger.Debug("skipping list entry", zap.String("entry", raw), zap.Error(err))
			continue
		}
		if _, dup := covered[key.String()]; dup {
			continue
		}
		if add(key.String()) {
			report.Added++
		}
	}
	report.Total = len(merged)

	if outputPath == "" {
		outputPath = sitemapPath
	}
	if err := sitemap.WriteFile(outputPath, merged, sitemap.FormatXML); err != nil {
		return nil, fmt.Errorf("write merged sitemap: %w", err)
	}
	return report, nil
}

func (uc *sitemapUseCase) Verify(ctx context.Context, rawURLs []string) (*VerifyReport, error) {
	report := &VerifyReport{}
	seen := make(map[string]struct{}, len(rawURLs))
	var candidates []string
	for _, raw := range rawURLs {
		key, err := uc.canon.NormalizeLoose(raw)
		if err != nil || uc.excludedExtension(key) {
			report.Skipped++
			continue
		}
		if _, dup := seen[key.String()]; dup {
			continue
		}
		seen[key.String()] = struct{}{}
		candidates = append(candidates, key.String())
	}

	probes, err := uc.probeAll(ctx, candidates)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]struct{}, len(probes))
	for _, p := range probes {
		if p.err != nil {
			var fe *repository.FetchError
			failure := entity.FailedURL{
				URL:                  p.url,
				Kind:                 repository.FailureKind(p.err),
				FailureReason:        p.err.Error(),
				Attempts:             1,
				LastAttemptTimestamp: uc.now(),
			}
			if errors.As(p.err, &fe) {
				failure.HTTPStatusCode = fe.StatusCode
			}
			report.Failures = append(report.Failures, failure)
			continue
		}
		final := p.res.FinalURL
		if key, err := uc.canon.Canonicalize(final, ""); err == nil {
			final = key.String()
		}
		if final != p.url {
			report.Redirects = append(report.Redirects, Redirect{From: p.url, To: final})
			uc.logger.Info("redirected url", zap.String("from", p.url), zap.String("to", final))
		}
		resolved[final] = struct{}{}
	}

	for u := range resolved {
		report.Resolved = append(report.Resolved, u)
	}
	sort.Strings(report.Resolved)
	return report, nil
}

func (uc *sitemapUseCase) excludedExtension(key canonical.Key) bool {
	path := strings.ToLower(key.URL().Path)
	for _, ext := range uc.opts.ExcludedExtensions {
		if ext != "" && strings.HasSuffix(path, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
