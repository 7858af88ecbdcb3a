package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Cache struct {
		Path string        `yaml:"path" json:"path" jsonschema:"default=rssnotizie.db,description=SQLite file holding processed article records"`
		TTL  time.Duration `yaml:"ttl" json:"ttl" jsonschema:"default=72h,description=Maximum record age before eviction at load time"`
	} `yaml:"cache" json:"cache" jsonschema:"description=Dedup cache configuration"`

	Feeds struct {
		OPMLURL         string        `yaml:"opml_url" json:"opml_url" jsonschema:"description=Remote OPML document listing feed subscriptions"`
		OPMLFile        string        `yaml:"opml_file" json:"opml_file" jsonschema:"default=feeds.opml,description=Local OPML file used as cache and fallback"`
		Limit           int           `yaml:"limit" json:"limit" jsonschema:"default=20,description=Maximum number of feeds polled per cycle"`
		RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" jsonschema:"default=24h,description=How often the feed list is re-read"`
	} `yaml:"feeds" json:"feeds" jsonschema:"description=Feed list source configuration"`

	Fetch struct {
		Timeout         time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10s,description=Per-request HTTP timeout"`
		ArticlesPerFeed int           `yaml:"articles_per_feed" json:"articles_per_feed" jsonschema:"default=10,description=Maximum entries taken from one feed per fetch"`
		CoolDown        time.Duration `yaml:"cool_down" json:"cool_down" jsonschema:"default=5m,description=How long a failed feed is not retried"`
		UserAgent       string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=RssNotizie/1.0,description=User agent for feed requests"`
	} `yaml:"fetch" json:"fetch" jsonschema:"description=Feed fetcher configuration"`

	Schedule struct {
		CycleInterval   time.Duration `yaml:"cycle_interval" json:"cycle_interval" jsonschema:"default=1h,description=Target delay between pipeline cycles"`
		MinSleep        time.Duration `yaml:"min_sleep" json:"min_sleep" jsonschema:"default=60s,description=Floor for the end-of-cycle sleep"`
		MaxWorkers      int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=3,description=Concurrency limit for fetch and classify pools"`
		PublishInterval time.Duration `yaml:"publish_interval" json:"publish_interval" jsonschema:"default=6h,description=How often categorized feeds are republished and synced"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Publish struct {
		OutputDir string `yaml:"output_dir" json:"output_dir" jsonschema:"default=categorized_feeds,description=Directory receiving per-category OPML files"`
	} `yaml:"publish" json:"publish" jsonschema:"description=Publisher configuration"`

	Git GitConfig `yaml:"git" json:"git" jsonschema:"description=Git mirror sync configuration"`

	Categories []CategoryRule `yaml:"categories" json:"categories" jsonschema:"description=Weighted keyword rules; declared order breaks score ties"`
}

// GitConfig holds settings for the git mirror sync
type GitConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable pushing published feeds to a git mirror"`
	RepoPath    string `yaml:"repo_path" json:"repo_path" jsonschema:"description=Local path of the mirror repository"`
	RemoteURL   string `yaml:"remote_url" json:"remote_url" jsonschema:"description=Remote the mirror pushes to"`
	AuthorName  string `yaml:"author_name" json:"author_name" jsonschema:"default=rssnotizie,description=Commit author name"`
	AuthorEmail string `yaml:"author_email" json:"author_email" jsonschema:"default=rssnotizie@localhost,description=Commit author email"`
}

// CategoryRule defines one category: weighted keyword patterns, optional
// exclusion patterns and the minimum qualifying score. Patterns are
// case-insensitive regular expressions matched against normalized text.
type CategoryRule struct {
	Name      string    `yaml:"name" json:"name" jsonschema:"required,description=Category label"`
	Keywords  []Keyword `yaml:"keywords" json:"keywords" jsonschema:"required,description=Weighted keyword patterns"`
	Exclude   []string  `yaml:"exclude" json:"exclude" jsonschema:"description=Patterns that disqualify the category outright"`
	Threshold int       `yaml:"threshold" json:"threshold" jsonschema:"required,description=Minimum summed score to qualify"`
}

// Keyword is a single weighted pattern within a category rule
type Keyword struct {
	Pattern string `yaml:"pattern" json:"pattern" jsonschema:"required,description=Case-insensitive regular expression"`
	Weight  int    `yaml:"weight" json:"weight" jsonschema:"required,description=Score added once when the pattern matches"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is present.
// All values mirror the historical constants of the categorizer.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Cache.Path == "" {
		c.Cache.Path = "rssnotizie.db"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 72 * time.Hour
	}

	if c.Feeds.OPMLFile == "" {
		c.Feeds.OPMLFile = "feeds.opml"
	}
	if c.Feeds.Limit == 0 {
		c.Feeds.Limit = 20
	}
	if c.Feeds.RefreshInterval == 0 {
		c.Feeds.RefreshInterval = 24 * time.Hour
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 10 * time.Second
	}
	if c.Fetch.ArticlesPerFeed == 0 {
		c.Fetch.ArticlesPerFeed = 10
	}
	if c.Fetch.CoolDown == 0 {
		c.Fetch.CoolDown = 5 * time.Minute
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "RssNotizie/1.0"
	}

	if c.Schedule.CycleInterval == 0 {
		c.Schedule.CycleInterval = time.Hour
	}
	if c.Schedule.MinSleep == 0 {
		c.Schedule.MinSleep = 60 * time.Second
	}
	if c.Schedule.MaxWorkers == 0 {
		c.Schedule.MaxWorkers = 3
	}
	if c.Schedule.PublishInterval == 0 {
		c.Schedule.PublishInterval = 6 * time.Hour
	}

	if c.Publish.OutputDir == "" {
		c.Publish.OutputDir = "categorized_feeds"
	}

	if c.Git.AuthorName == "" {
		c.Git.AuthorName = "rssnotizie"
	}
	if c.Git.AuthorEmail == "" {
		c.Git.AuthorEmail = "rssnotizie@localhost"
	}

	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories()
	}
}

// DefaultCategories returns the built-in rule set: Italian national news,
// economy and US politics, with the exclusions and thresholds the system
// has always shipped with.
func DefaultCategories() []CategoryRule {
	return []CategoryRule{
		{
			Name: "Italia",
			Keywords: []Keyword{
				{Pattern: `\b(italia|italy)\b`, Weight: 3},
				{Pattern: `\b(roma|rome|milano|milan)\b`, Weight: 2},
				{Pattern: `\b(governo|senato|camera|parlamento)\b`, Weight: 4},
			},
			Exclude:   []string{`\b(ue|eu|nato|europa)\b`},
			Threshold: 5,
		},
		{
			Name: "Economy",
			Keywords: []Keyword{
				{Pattern: `\b(pil|gdp)\b`, Weight: 4},
				{Pattern: `\b(inflazione|inflation)\b`, Weight: 3},
				{Pattern: `\b(spread|bce|ecb)\b`, Weight: 4},
			},
			Threshold: 6,
		},
		{
			Name: "USA",
			Keywords: []Keyword{
				{Pattern: `\b(usa|u\.s\.a|united states)\b`, Weight: 5},
				{Pattern: `\b(white house|congresso usa)\b`, Weight: 4},
			},
			Threshold: 4,
		},
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Feeds.Limit < 1 {
		return fmt.Errorf("feeds.limit must be at least 1")
	}
	if cfg.Fetch.Timeout < time.Second {
		return fmt.Errorf("fetch.timeout must be at least 1 second")
	}
	if cfg.Fetch.ArticlesPerFeed < 1 {
		return fmt.Errorf("fetch.articles_per_feed must be at least 1")
	}
	if cfg.Schedule.MaxWorkers < 1 {
		return fmt.Errorf("schedule.max_workers must be at least 1")
	}
	if cfg.Schedule.MinSleep > cfg.Schedule.CycleInterval {
		return fmt.Errorf("schedule.min_sleep must not exceed schedule.cycle_interval")
	}

	if cfg.Git.Enabled && cfg.Git.RepoPath == "" {
		return fmt.Errorf("git.repo_path is required when git sync is enabled")
	}

	seen := make(map[string]bool, len(cfg.Categories))
	for _, cat := range cfg.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category name must not be empty")
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		seen[cat.Name] = true

		if cat.Threshold < 1 {
			return fmt.Errorf("category %q: threshold must be at least 1", cat.Name)
		}
		if len(cat.Keywords) == 0 {
			return fmt.Errorf("category %q: at least one keyword is required", cat.Name)
		}
		for _, kw := range cat.Keywords {
			if kw.Weight < 1 {
				return fmt.Errorf("category %q: keyword %q weight must be at least 1", cat.Name, kw.Pattern)
			}
			if _, err := regexp.Compile(kw.Pattern); err != nil {
				return fmt.Errorf("category %q: keyword pattern %q: %w", cat.Name, kw.Pattern, err)
			}
		}
		for _, excl := range cat.Exclude {
			if _, err := regexp.Compile(excl); err != nil {
				return fmt.Errorf("category %q: exclude pattern %q: %w", cat.Name, excl, err)
			}
		}
	}

	return nil
}
