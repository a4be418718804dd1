// Command sitemapper crawls a site into a sitemap and maintains existing
// sitemaps and URL lists.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/user/sitemap-crawler/internal/bootstrap"
	"github.com/user/sitemap-crawler/internal/sitemap"
	"github.com/user/sitemap-crawler/internal/usecase"
	"github.com/user/sitemap-crawler/pkg/config"
	"github.com/user/sitemap-crawler/pkg/logger"
	"github.com/user/sitemap-crawler/pkg/utils"
)

const usage = `usage: sitemapper <command> [flags] <args>

commands:
  crawl  <seed-url>              crawl a site and write its sitemap
  update <sitemap.xml>           drop dead, non-HTML and duplicate entries
  merge  <sitemap.xml> <list>    add the URLs of a list to a sitemap
  sample <sitemap-file-or-url>   write a deterministic sample of a sitemap
  verify <list>                  normalize and resolve a URL list

run "sitemapper <command> --help" for the flags of a command.
`

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name    string
	args    string
	nargs   int
	flags   func(fs *pflag.FlagSet)
	execute func(ctx context.Context, env *env, args []string) error
}

// env carries what every command needs once flags are parsed.
type env struct {
	cfg    *config.Config
	fs     *pflag.FlagSet
	log    *zap.Logger
	stdout io.Writer
}

var commands = []command{
	{name: "crawl", args: "<seed-url>", nargs: 1, flags: crawlFlags, execute: runCrawl},
	{name: "update", args: "<sitemap.xml>", nargs: 1, flags: maintenanceFlags, execute: runUpdate},
	{name: "merge", args: "<sitemap.xml> <list>", nargs: 2, flags: mergeFlags, execute: runMerge},
	{name: "sample", args: "<sitemap-file-or-url>", nargs: 1, flags: sampleFlags, execute: runSample},
	{name: "verify", args: "<list>", nargs: 1, flags: verifyFlags, execute: runVerify},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitUsage
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: sitemapper %s [flags] %s\n\n", cmd.name, cmd.args)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "configuration file (defaults to .env when present)")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "console", "log format: json or console")
	cmd.flags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != cmd.nargs {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	// The CLI logs to the console unless told otherwise.
	format := cfg.LogFormat
	if !fs.Changed("log-format") && os.Getenv("LOG_FORMAT") == "" {
		format = "console"
	}
	log, err := logger.New(cfg.LogLevel, format)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer func() { _ = log.Sync() }()

	if err := cmd.execute(ctx, &env{cfg: cfg, fs: fs, log: log, stdout: stdout}, fs.Args()); err != nil {
		log.Error("Command failed", zap.String("command", cmd.name), zap.Error(err))
		return exitError
	}
	return exitOK
}

func outputFlags(fs *pflag.FlagSet, defaultFormat string) {
	fs.StringP("output", "o", "", "output file")
	fs.String("format", defaultFormat, "output format: xml, csv or xlsx")
}

func crawlFlags(fs *pflag.FlagSet) {
	outputFlags(fs, "xml")
	fs.Int("max-pages", 0, "stop after this many fetches (0 = unbounded)")
	fs.Duration("max-duration", 0, "stop after this long (0 = no deadline)")
	fs.Int("concurrency", 5, "number of fetch workers")
	fs.StringSlice("exclude-ext", nil, "excluded file extensions")
	fs.StringSlice("exclude", nil, "exclude URLs containing any of these substrings")
	fs.StringSlice("include", nil, "only list URLs containing one of these substrings")
	fs.Bool("respect-robots", true, "honour robots.txt")
	fs.Duration("timeout", 5*time.Second, "per-request timeout")
	fs.Int("retries", 0, "retries for transient fetch failures")
	fs.Bool("keep-query", false, "keep query strings in URLs")
	fs.Bool("preserve-fragments", false, "keep fragments in URLs")
	fs.String("scope", "exact", "host scope: exact, subdomains or registrable")
	fs.Bool("offsite-redirects", false, "list offsite redirect targets")
	fs.Bool("html-only", false, "only list pages served as HTML")
	fs.String("user-agent", "", "user agent for requests and robots.txt")
	fs.Float64("rate-limit", 0, "requests per second per host (0 = unlimited)")
	fs.String("fetch-mode", "http", "fetch mode: http or browser")
}

func maintenanceFlags(fs *pflag.FlagSet) {
	fs.Int("concurrency", 5, "number of concurrent fetches")
	fs.Duration("timeout", 5*time.Second, "per-request timeout")
	fs.String("user-agent", "", "user agent for requests")
	fs.String("fetch-mode", "http", "fetch mode: http or browser")
}

func mergeFlags(fs *pflag.FlagSet) {
	fs.StringP("output", "o", "", "output file (defaults to the input sitemap)")
}

func sampleFlags(fs *pflag.FlagSet) {
	outputFlags(fs, "xml")
	fs.Int("percentage", 10, "share of URLs to keep: 10, 20, 30, 40 or 50")
	fs.Int("limit", 0, "maximum number of sampled URLs (0 = no limit)")
	fs.StringSlice("exclude-ext", nil, "excluded file extensions")
	fs.StringSlice("exclude", nil, "drop URLs containing any of these substrings")
	fs.StringSlice("include", nil, "keep only URLs containing one of these substrings")
	fs.Duration("timeout", 5*time.Second, "per-request timeout for remote sitemaps")
}

func verifyFlags(fs *pflag.FlagSet) {
	maintenanceFlags(fs)
	outputFlags(fs, "csv")
	fs.StringSlice("exclude-ext", nil, "excluded file extensions")
}

// output resolves the output path and format flags. fallback names the
// file when --output is empty.
func output(fs *pflag.FlagSet, fallback func(sitemap.Format) string) (string, sitemap.Format, error) {
	rawFormat, _ := fs.GetString("format")
	format, err := sitemap.ParseFormat(rawFormat)
	if err != nil {
		return "", "", err
	}
	path, _ := fs.GetString("output")
	if path == "" {
		path = fallback(format)
	}
	return path, format, nil
}

func runCrawl(ctx context.Context, e *env, args []string) error {
	components, err := bootstrap.New(e.cfg.Crawl, e.log)
	if err != nil {
		return err
	}
	defer components.Close()

	seed := args[0]
	if !strings.Contains(seed, "://") {
		seed = "https://" + seed
	}
	path, format, err := output(e.fs, func(f sitemap.Format) string {
		return utils.SitemapFileName(utils.HostOf(seed), time.Now(), string(f))
	})
	if err != nil {
		return err
	}

	res, err := components.Crawler(e.cfg.Crawl, e.log).Crawl(ctx, usecase.CrawlRequest{Seed: seed})
	if err != nil {
		return err
	}
	if err := sitemap.WriteFile(path, res.Discovered, format); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("output", path),
		zap.String("stop_reason", string(res.StopReason)),
	}
	for _, k := range []string{"discovered", "visited", "failed", "excluded", "redirected"} {
		fields = append(fields, zap.Int(k, res.Summary[k]))
	}
	e.log.Info("Sitemap written", fields...)
	fmt.Fprintln(e.stdout, path)
	return nil
}

func runUpdate(ctx context.Context, e *env, args []string) error {
	components, err := bootstrap.New(e.cfg.Crawl, e.log)
	if err != nil {
		return err
	}
	defer components.Close()

	report, err := components.SitemapService(e.cfg.Crawl, e.log).Update(ctx, args[0])
	if err != nil {
		return err
	}
	if !report.Changed {
		fmt.Fprintf(e.stdout, "%s is up to date (%d URLs)\n", args[0], report.Original)
		return nil
	}
	fmt.Fprintf(e.stdout, "%s: kept %d of %d URLs, %d redirected, backup at %s\n",
		args[0], report.Kept, report.Original, report.Redirected, report.BackupPath)
	return nil
}

func runMerge(ctx context.Context, e *env, args []string) error {
	components, err := bootstrap.New(e.cfg.Crawl, e.log)
	if err != nil {
		return err
	}
	defer components.Close()

	out, _ := e.fs.GetString("output")
	report, err := components.SitemapService(e.cfg.Crawl, e.log).Merge(ctx, args[0], args[1], out)
	if err != nil {
		return err
	}
	if out == "" {
		out = args[0]
	}
	fmt.Fprintf(e.stdout, "%s: %d existing, %d added, %d skipped, %d total\n",
		out, report.Existing, report.Added, report.Skipped, report.Total)
	return nil
}

func runSample(ctx context.Context, e *env, args []string) error {
	components, err := bootstrap.New(e.cfg.Crawl, e.log)
	if err != nil {
		return err
	}
	defer components.Close()

	percentage, _ := e.fs.GetInt("percentage")
	limit, _ := e.fs.GetInt("limit")
	path, format, err := output(e.fs, func(f sitemap.Format) string {
		return fmt.Sprintf("sitemap_sample_%d.%s", percentage, f)
	})
	if err != nil {
		return err
	}

	urls, err := sitemap.Collect(ctx, components.Client, args[0])
	if err != nil {
		return err
	}
	sample, err := sitemap.Sample(urls, sitemap.SampleOptions{
		Percentage:         percentage,
		Limit:              limit,
		ExcludedExtensions: e.cfg.Crawl.ExcludedExtensions,
		Exclude:            e.cfg.Crawl.ExcludeSubstrings,
		Include:            e.cfg.Crawl.IncludeSubstrings,
	})
	if err != nil {
		return err
	}
	if err := sitemap.WriteFile(path, sample, format); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: sampled %d of %d URLs\n", path, len(sample), len(urls))
	return nil
}

func runVerify(ctx context.Context, e *env, args []string) error {
	components, err := bootstrap.New(e.cfg.Crawl, e.log)
	if err != nil {
		return err
	}
	defer components.Close()

	path, format, err := output(e.fs, func(f sitemap.Format) string {
		return "verified_urls." + string(f)
	})
	if err != nil {
		return err
	}
	raw, err := sitemap.ReadURLListFile(args[0])
	if err != nil {
		return err
	}

	report, err := components.SitemapService(e.cfg.Crawl, e.log).Verify(ctx, raw)
	if err != nil {
		return err
	}
	for _, f := range report.Failures {
		e.log.Warn("Unresolved URL", zap.String("url", f.URL), zap.String("kind", f.Kind), zap.Int("status", f.HTTPStatusCode))
	}
	if err := sitemap.WriteFile(path, report.Resolved, format); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: %d resolved, %d redirected, %d failed, %d skipped\n",
		path, len(report.Resolved), len(report.Redirects), len(report.Failures), report.Skipped)
	return nil
}
