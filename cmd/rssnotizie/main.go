package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/cache"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/classify"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/config"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/feed"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/gitsync"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/publish"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/scheduler"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting rssnotizie version %s", revision)

	cfg := loadConfig(opts.Config)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	err := run(ctx, cfg)
	cancel()

	if err != nil {
		log.Printf("[ERROR] pipeline failed: %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] shutdown complete")
}

// loadConfig reads the config file, falling back to built-in defaults when
// the file does not exist
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] config file %s not found, using defaults", path)
			return config.Default()
		}
		log.Printf("[ERROR] failed to load config %s: %v", path, err)
		os.Exit(1)
	}
	return cfg
}

// run wires the pipeline components and drives the scheduler
func run(ctx context.Context, cfg *config.Config) error {
	classifier, err := classify.New(cfg.Categories)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	dedupCache := cache.Open(ctx, cfg.Cache.Path, cfg.Cache.TTL)
	defer func() {
		if closeErr := dedupCache.Close(); closeErr != nil {
			log.Printf("[WARN] failed to close cache: %v", closeErr)
		}
	}()

	fetcher := feed.NewFetcher(feed.FetcherConfig{
		Timeout:         cfg.Fetch.Timeout,
		ArticlesPerFeed: cfg.Fetch.ArticlesPerFeed,
		CoolDown:        cfg.Fetch.CoolDown,
		UserAgent:       cfg.Fetch.UserAgent,
	})

	feedList := feed.NewListSource(feed.ListConfig{
		RemoteURL:       cfg.Feeds.OPMLURL,
		LocalPath:       cfg.Feeds.OPMLFile,
		Limit:           cfg.Feeds.Limit,
		RefreshInterval: cfg.Feeds.RefreshInterval,
		Timeout:         cfg.Fetch.Timeout,
	})

	publisher := publish.NewPublisher(cfg.Publish.OutputDir)

	var syncer scheduler.Syncer
	if cfg.Git.Enabled {
		syncer = gitsync.New(gitsync.Config{
			RepoPath:    cfg.Git.RepoPath,
			RemoteURL:   cfg.Git.RemoteURL,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		})
	}

	sched := scheduler.New(scheduler.Config{
		Feeds:           feedList,
		Fetcher:         fetcher,
		Classifier:      classifier,
		Cache:           dedupCache,
		Publisher:       publisher,
		Syncer:          syncer,
		CycleInterval:   cfg.Schedule.CycleInterval,
		MinSleep:        cfg.Schedule.MinSleep,
		PublishInterval: cfg.Schedule.PublishInterval,
		MaxWorkers:      cfg.Schedule.MaxWorkers,
	})

	return sched.Run(ctx)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
