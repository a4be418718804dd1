package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultExcludedExtensions is the non-page suffix denylist used when none is configured.
var DefaultExcludedExtensions = []string{
	".pdf", ".pdf-0", ".doc", ".docx", ".docx-0", ".xls", ".xls-0", ".xlsx", ".xlsx-0",
	".ppt", ".ppt-0", ".pptx", ".pptx-0", ".txt", ".json", ".xml", ".rss", ".csv",
	".css", ".js", ".mjs", ".map",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".bmp", ".tif", ".tiff",
	".zip", ".zip-0", ".zip-1", ".rar", ".tar", ".gz", ".tgz", ".7z",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".mp3", ".mp4", ".avi", ".mov", ".wmv", ".wav", ".flac",
	".exe", ".dmg", ".iso",
}

// DefaultStripFragments are in-page anchors that never denote a distinct resource.
var DefaultStripFragments = []string{"main-content", "footer--section", "top", "content"}

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`

	PostgresURL string `mapstructure:"POSTGRES_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	APIWorkers          int           `mapstructure:"API_WORKERS"`
	ResultTTL           time.Duration `mapstructure:"RESULT_TTL"`
	DeduplicationWindow time.Duration `mapstructure:"DEDUPLICATION_WINDOW"`

	Crawl CrawlConfig `mapstructure:",squash"`
}

// CrawlConfig holds the crawl engine options.
type CrawlConfig struct {
	MaxPages               int           `mapstructure:"CRAWL_MAX_PAGES"`
	MaxDuration            time.Duration `mapstructure:"CRAWL_MAX_DURATION"`
	Concurrency            int           `mapstructure:"CRAWL_CONCURRENCY"`
	ExcludedExtensions     []string      `mapstructure:"CRAWL_EXCLUDED_EXTENSIONS"`
	ExcludeSubstrings      []string      `mapstructure:"CRAWL_EXCLUDE_SUBSTRINGS"`
	IncludeSubstrings      []string      `mapstructure:"CRAWL_INCLUDE_SUBSTRINGS"`
	RespectRobots          bool          `mapstructure:"CRAWL_RESPECT_ROBOTS"`
	RequestTimeout         time.Duration `mapstructure:"CRAWL_REQUEST_TIMEOUT"`
	MaxRetries             int           `mapstructure:"CRAWL_MAX_RETRIES"`
	RetryBackoff           time.Duration `mapstructure:"CRAWL_RETRY_BACKOFF"`
	KeepQuery              bool          `mapstructure:"CRAWL_KEEP_QUERY"`
	PreserveFragments      bool          `mapstructure:"CRAWL_PRESERVE_FRAGMENTS"`
	StripFragments         []string      `mapstructure:"CRAWL_STRIP_FRAGMENTS"`
	Scope                  string        `mapstructure:"CRAWL_SCOPE"`
	RecordOffsiteRedirects bool          `mapstructure:"CRAWL_RECORD_OFFSITE_REDIRECTS"`
	HTMLOnly               bool          `mapstructure:"CRAWL_HTML_ONLY"`
	UserAgent              string        `mapstructure:"CRAWL_USER_AGENT"`
	RateLimit              float64       `mapstructure:"CRAWL_RATE_LIMIT"`
	MaxBodyBytes           int64         `mapstructure:"CRAWL_MAX_BODY_BYTES"`
	FetchMode              string        `mapstructure:"CRAWL_FETCH_MODE"`
	ProxyURLs              []string      `mapstructure:"PROXY_URLS"`
	UserAgents             []string      `mapstructure:"USER_AGENTS"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("API_WORKERS", 2)
	v.SetDefault("RESULT_TTL", 7*24*time.Hour)
	v.SetDefault("DEDUPLICATION_WINDOW", 48*time.Hour)

	v.SetDefault("CRAWL_MAX_PAGES", 0)
	v.SetDefault("CRAWL_MAX_DURATION", time.Duration(0))
	v.SetDefault("CRAWL_CONCURRENCY", 5)
	v.SetDefault("CRAWL_EXCLUDED_EXTENSIONS", DefaultExcludedExtensions)
	v.SetDefault("CRAWL_EXCLUDE_SUBSTRINGS", []string{})
	v.SetDefault("CRAWL_INCLUDE_SUBSTRINGS", []string{})
	v.SetDefault("CRAWL_RESPECT_ROBOTS", true)
	v.SetDefault("CRAWL_REQUEST_TIMEOUT", 5*time.Second)
	v.SetDefault("CRAWL_MAX_RETRIES", 0)
	v.SetDefault("CRAWL_RETRY_BACKOFF", time.Second)
	v.SetDefault("CRAWL_KEEP_QUERY", false)
	v.SetDefault("CRAWL_PRESERVE_FRAGMENTS", false)
	v.SetDefault("CRAWL_STRIP_FRAGMENTS", DefaultStripFragments)
	v.SetDefault("CRAWL_SCOPE", "exact")
	v.SetDefault("CRAWL_RECORD_OFFSITE_REDIRECTS", false)
	v.SetDefault("CRAWL_HTML_ONLY", false)
	v.SetDefault("CRAWL_USER_AGENT", "sitemapper/1.0 (+https://www.sitemaps.org/)")
	v.SetDefault("CRAWL_RATE_LIMIT", 0.0)
	v.SetDefault("CRAWL_MAX_BODY_BYTES", int64(5*1024*1024))
	v.SetDefault("CRAWL_FETCH_MODE", "http")
	v.SetDefault("PROXY_URLS", []string{})
	v.SetDefault("USER_AGENTS", []string{})
}

// Load reads configuration from an optional file, environment variables and
// any flags bound by the caller. An empty path falls back to ".env" and
// tolerates its absence so production can be configured purely through the
// environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".env") {
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Crawl.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindFlags maps every changed flag onto its configuration key. Flag names
// are the lower-kebab form of the key without the CRAWL_ prefix, e.g.
// --max-pages sets CRAWL_MAX_PAGES.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := FlagKey(f.Name)
		if key == "" || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

var flagKeys = map[string]string{
	"max-pages":          "CRAWL_MAX_PAGES",
	"max-duration":       "CRAWL_MAX_DURATION",
	"concurrency":        "CRAWL_CONCURRENCY",
	"exclude-ext":        "CRAWL_EXCLUDED_EXTENSIONS",
	"exclude":            "CRAWL_EXCLUDE_SUBSTRINGS",
	"include":            "CRAWL_INCLUDE_SUBSTRINGS",
	"respect-robots":     "CRAWL_RESPECT_ROBOTS",
	"timeout":            "CRAWL_REQUEST_TIMEOUT",
	"retries":            "CRAWL_MAX_RETRIES",
	"keep-query":         "CRAWL_KEEP_QUERY",
	"scope":              "CRAWL_SCOPE",
	"offsite-redirects":  "CRAWL_RECORD_OFFSITE_REDIRECTS",
	"html-only":          "CRAWL_HTML_ONLY",
	"user-agent":         "CRAWL_USER_AGENT",
	"rate-limit":         "CRAWL_RATE_LIMIT",
	"fetch-mode":         "CRAWL_FETCH_MODE",
	"log-level":          "LOG_LEVEL",
	"log-format":         "LOG_FORMAT",
	"preserve-fragments": "CRAWL_PRESERVE_FRAGMENTS",
}

// FlagKey returns the configuration key a command-line flag overrides, or ""
// when the flag is not a configuration flag.
func FlagKey(name string) string {
	return flagKeys[name]
}

func (c *CrawlConfig) normalize() {
	c.ExcludedExtensions = cleanList(c.ExcludedExtensions, true)
	c.ExcludeSubstrings = cleanList(c.ExcludeSubstrings, false)
	c.IncludeSubstrings = cleanList(c.IncludeSubstrings, false)
	c.StripFragments = cleanList(c.StripFragments, false)
	c.ProxyURLs = cleanList(c.ProxyURLs, false)
	c.UserAgents = cleanList(c.UserAgents, false)
	c.Scope = strings.ToLower(strings.TrimSpace(c.Scope))
	c.FetchMode = strings.ToLower(strings.TrimSpace(c.FetchMode))
}

// Validate rejects option combinations the crawl engine cannot run with.
func (c *Config) Validate() error {
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("CRAWL_CONCURRENCY must be positive, got %d", c.Crawl.Concurrency)
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("CRAWL_MAX_PAGES must not be negative, got %d", c.Crawl.MaxPages)
	}
	if c.Crawl.MaxRetries < 0 {
		return fmt.Errorf("CRAWL_MAX_RETRIES must not be negative, got %d", c.Crawl.MaxRetries)
	}
	if c.Crawl.RequestTimeout <= 0 {
		return fmt.Errorf("CRAWL_REQUEST_TIMEOUT must be positive, got %s", c.Crawl.RequestTimeout)
	}
	switch c.Crawl.Scope {
	case "exact", "subdomains", "registrable":
	default:
		return fmt.Errorf("unsupported CRAWL_SCOPE %q", c.Crawl.Scope)
	}
	switch c.Crawl.FetchMode {
	case "http", "browser":
	default:
		return fmt.Errorf("unsupported CRAWL_FETCH_MODE %q", c.Crawl.FetchMode)
	}
	return nil
}

// cleanList splits comma separated entries, trims them and drops empties.
// Extensions are lower-cased and given a leading dot.
func cleanList(in []string, extensions bool) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if extensions {
				part = strings.ToLower(part)
				if !strings.HasPrefix(part, ".") {
					part = "." + part
				}
			}
			out = append(out, part)
		}
	}
	return out
}
