package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/classify"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/domain"
)

// FeedSource provides the current feed-URL list
type FeedSource interface {
	URLs(ctx context.Context) []string
}

// Fetcher retrieves entries for one feed URL
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]domain.Entry, error)
}

// Classifier assigns a category label to article text
type Classifier interface {
	Classify(text string) string
	Categories() []string
}

// Cache is the dedup cache shared by classification workers
type Cache interface {
	Contains(fingerprint string) bool
	Insert(rec domain.Record)
	Values() []domain.Record
	Save(ctx context.Context) error
}

// Publisher materializes per-category output documents
type Publisher interface {
	PublishAll(categories []string, recs []domain.Record) error
}

// Syncer pushes published output to the remote mirror
type Syncer interface {
	Sync(ctx context.Context) error
}

// Scheduler drives the pipeline: each cycle fetches all feeds concurrently,
// classifies entries not yet in the dedup cache, persists the cache once, and
// on a coarser interval republishes per-category feeds and syncs the mirror.
type Scheduler struct {
	feeds      FeedSource
	fetcher    Fetcher
	classifier Classifier
	cache      Cache
	publisher  Publisher
	syncer     Syncer // nil disables mirror sync

	cycleInterval   time.Duration
	minSleep        time.Duration
	publishInterval time.Duration
	maxWorkers      int

	lastPublish time.Time
}

// Config holds scheduler configuration
type Config struct {
	Feeds      FeedSource
	Fetcher    Fetcher
	Classifier Classifier
	Cache      Cache
	Publisher  Publisher
	Syncer     Syncer

	CycleInterval   time.Duration
	MinSleep        time.Duration
	PublishInterval time.Duration
	MaxWorkers      int
}

// New creates a scheduler. The first publish happens one publish interval
// after startup; shutdown always triggers a final one.
func New(cfg Config) *Scheduler {
	if cfg.CycleInterval == 0 {
		cfg.CycleInterval = time.Hour
	}
	if cfg.MinSleep == 0 {
		cfg.MinSleep = 60 * time.Second
	}
	if cfg.PublishInterval == 0 {
		cfg.PublishInterval = 6 * time.Hour
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 3
	}

	return &Scheduler{
		feeds:           cfg.Feeds,
		fetcher:         cfg.Fetcher,
		classifier:      cfg.Classifier,
		cache:           cfg.Cache,
		publisher:       cfg.Publisher,
		syncer:          cfg.Syncer,
		cycleInterval:   cfg.CycleInterval,
		minSleep:        cfg.MinSleep,
		publishInterval: cfg.PublishInterval,
		maxWorkers:      cfg.MaxWorkers,
		lastPublish:     time.Now(),
	}
}

// Run executes cycles until the context is canceled, then makes one final
// best-effort publish and sync before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	lgr.Printf("[INFO] scheduler started: cycle %v, publish every %v, %d workers",
		s.cycleInterval, s.publishInterval, s.maxWorkers)

	for {
		start := time.Now()

		s.RunCycle(ctx)

		if ctx.Err() != nil {
			break
		}

		if time.Since(s.lastPublish) >= s.publishInterval {
			s.publishAndSync(ctx)
			s.lastPublish = time.Now()
		}

		sleep := s.cycleInterval - time.Since(start)
		if sleep < s.minSleep {
			sleep = s.minSleep
		}
		lgr.Printf("[DEBUG] cycle took %v, sleeping %v", time.Since(start).Round(time.Millisecond), sleep)

		select {
		case <-ctx.Done():
		case <-time.After(sleep):
			continue
		}
		break
	}

	// final best-effort publish, the canceled run context can't be used
	lgr.Printf("[INFO] shutting down, final publish")
	finalCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.publishAndSync(finalCtx)

	return nil
}

// RunCycle executes one fetch-classify-persist cycle
func (s *Scheduler) RunCycle(ctx context.Context) {
	urls := s.feeds.URLs(ctx)
	lgr.Printf("[INFO] cycle started: %d feeds", len(urls))

	entries := s.fetchAll(ctx, urls)
	lgr.Printf("[INFO] fetched %d entries", len(entries))

	processed := s.classifyAll(ctx, entries)
	lgr.Printf("[INFO] classified %d new entries out of %d", processed, len(entries))

	if err := s.cache.Save(ctx); err != nil {
		lgr.Printf("[WARN] failed to save cache, continuing in-memory: %v", err)
	}
}

// fetchAll fans fetches out over a bounded worker pool and collects entries
// in completion order. A failed feed contributes nothing and never fails the
// cycle.
func (s *Scheduler) fetchAll(ctx context.Context, urls []string) []domain.Entry {
	var mu sync.Mutex
	var entries []domain.Entry

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for _, url := range urls {
		g.Go(func() error {
			fetched, err := s.fetcher.Fetch(ctx, url)
			if err != nil {
				lgr.Printf("[WARN] feed %s failed: %v", url, err)
				return nil
			}
			if len(fetched) == 0 {
				return nil
			}
			mu.Lock()
			entries = append(entries, fetched...)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // workers never return errors
	return entries
}

// classifyAll classifies entries whose fingerprint is not yet cached and
// inserts the resulting records, bounded by the worker limit. Within one
// batch each fingerprint is classified at most once.
func (s *Scheduler) classifyAll(ctx context.Context, entries []domain.Entry) int {
	var mu sync.Mutex
	seen := make(map[string]bool)
	processed := 0

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for _, entry := range entries {
		g.Go(func() error {
			fp := entry.Fingerprint()

			mu.Lock()
			if seen[fp] || s.cache.Contains(fp) {
				mu.Unlock()
				return nil
			}
			seen[fp] = true
			mu.Unlock()

			category := s.classifier.Classify(entry.Title + " " + entry.Description)
			s.cache.Insert(domain.NewRecord(entry, category, time.Now()))

			mu.Lock()
			processed++
			mu.Unlock()

			lgr.Printf("[DEBUG] classified %q as %s", entry.Title, category)
			return nil
		})
	}

	_ = g.Wait()
	return processed
}

// publishAndSync materializes per-category documents and pushes the mirror.
// Failures are logged and retried on the next scheduled attempt.
func (s *Scheduler) publishAndSync(ctx context.Context) {
	categories := append(s.classifier.Categories(), classify.Uncategorized)

	if err := s.publisher.PublishAll(categories, s.cache.Values()); err != nil {
		lgr.Printf("[ERROR] publish failed: %v", err)
		return
	}
	lgr.Printf("[INFO] published %d categories", len(categories))

	if s.syncer == nil {
		return
	}
	if err := s.syncer.Sync(ctx); err != nil {
		lgr.Printf("[WARN] mirror sync failed: %v", err)
	}
}
