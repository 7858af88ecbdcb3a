package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/cache"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/classify"
	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/domain"
)

type stubFeeds struct {
	urls []string
}

func (s *stubFeeds) URLs(context.Context) []string { return s.urls }

type stubFetcher struct {
	mu      sync.Mutex
	byURL   map[string][]domain.Entry
	failing map[string]bool
	calls   int
}

func (s *stubFetcher) Fetch(_ context.Context, feedURL string) ([]domain.Entry, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.failing[feedURL] {
		return nil, errors.New("boom")
	}
	return s.byURL[feedURL], nil
}

type stubClassifier struct {
	mu    sync.Mutex
	calls int
}

func (s *stubClassifier) Classify(text string) string {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if len(text)%2 == 0 {
		return "Italia"
	}
	return classify.Uncategorized
}

func (s *stubClassifier) Categories() []string { return []string{"Italia"} }

type stubPublisher struct {
	mu         sync.Mutex
	calls      int
	categories []string
	records    int
}

func (s *stubPublisher) PublishAll(categories []string, recs []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.categories = categories
	s.records = len(recs)
	return nil
}

type stubSyncer struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSyncer) Sync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func entry(title, feedURL string) domain.Entry {
	return domain.Entry{Title: title, Description: "desc " + title, Link: "https://example.com/" + title, FeedURL: feedURL}
}

func newTestScheduler(t *testing.T, fetcher *stubFetcher, urls []string) (*Scheduler, *cache.Cache, *stubClassifier, *stubPublisher, *stubSyncer) {
	t.Helper()
	c := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), time.Hour)
	t.Cleanup(func() { c.Close() })

	classifier := &stubClassifier{}
	publisher := &stubPublisher{}
	syncer := &stubSyncer{}

	s := New(Config{
		Feeds:           &stubFeeds{urls: urls},
		Fetcher:         fetcher,
		Classifier:      classifier,
		Cache:           c,
		Publisher:       publisher,
		Syncer:          syncer,
		CycleInterval:   10 * time.Millisecond,
		MinSleep:        time.Millisecond,
		PublishInterval: time.Millisecond,
		MaxWorkers:      3,
	})
	return s, c, classifier, publisher, syncer
}

func TestScheduler_RunCycle(t *testing.T) {
	t.Run("fetches all feeds and classifies new entries", func(t *testing.T) {
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{
			"feed1": {entry("a", "feed1"), entry("b", "feed1")},
			"feed2": {entry("c", "feed2")},
		}}
		s, c, classifier, _, _ := newTestScheduler(t, fetcher, []string{"feed1", "feed2"})

		s.RunCycle(context.Background())

		assert.Equal(t, 2, fetcher.calls)
		assert.Equal(t, 3, classifier.calls)
		assert.Equal(t, 3, c.Len())
	})

	t.Run("duplicate content across feeds classified once", func(t *testing.T) {
		dup := entry("stesso articolo", "feed1")
		dupOther := dup
		dupOther.FeedURL = "feed2" // different source, same content
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{
			"feed1": {dup},
			"feed2": {dupOther},
		}}
		s, c, classifier, _, _ := newTestScheduler(t, fetcher, []string{"feed1", "feed2"})

		s.RunCycle(context.Background())

		assert.Equal(t, 1, classifier.calls)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("cached entries are not reclassified", func(t *testing.T) {
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{
			"feed1": {entry("a", "feed1")},
		}}
		s, c, classifier, _, _ := newTestScheduler(t, fetcher, []string{"feed1"})

		s.RunCycle(context.Background())
		s.RunCycle(context.Background())

		assert.Equal(t, 1, classifier.calls)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("one broken feed does not stop the cycle", func(t *testing.T) {
		fetcher := &stubFetcher{
			byURL:   map[string][]domain.Entry{"good": {entry("a", "good")}},
			failing: map[string]bool{"bad": true},
		}
		s, c, _, _, _ := newTestScheduler(t, fetcher, []string{"bad", "good"})

		s.RunCycle(context.Background())

		assert.Equal(t, 1, c.Len())
	})

	t.Run("records carry category and timestamp", func(t *testing.T) {
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{"feed1": {entry("aa", "feed1")}}}
		s, c, _, _, _ := newTestScheduler(t, fetcher, []string{"feed1"})

		s.RunCycle(context.Background())

		vals := c.Values()
		require.Len(t, vals, 1)
		assert.NotEmpty(t, vals[0].Category)
		assert.False(t, vals[0].Timestamp.IsZero())
	})
}

func TestScheduler_Run(t *testing.T) {
	t.Run("publishes on interval and once more on shutdown", func(t *testing.T) {
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{
			"feed1": {entry("a", "feed1")},
		}}
		s, _, _, publisher, syncer := newTestScheduler(t, fetcher, []string{"feed1"})
		s.lastPublish = time.Now().Add(-time.Hour) // due immediately

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := s.Run(ctx)
		require.NoError(t, err)

		// at least one interval publish plus the final shutdown publish
		assert.GreaterOrEqual(t, publisher.calls, 2)
		assert.Equal(t, publisher.calls, syncer.calls)
		assert.Equal(t, []string{"Italia", classify.Uncategorized}, publisher.categories)
	})

	t.Run("final publish includes cached records", func(t *testing.T) {
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{
			"feed1": {entry("aa", "feed1")}, // classifies
		}}
		s, _, _, publisher, _ := newTestScheduler(t, fetcher, []string{"feed1"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // canceled before the first cycle completes its sleep

		err := s.Run(ctx)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, publisher.calls, 1)
	})

	t.Run("nil syncer skips mirror sync", func(t *testing.T) {
		fetcher := &stubFetcher{byURL: map[string][]domain.Entry{}}
		s, _, _, publisher, _ := newTestScheduler(t, fetcher, nil)
		s.syncer = nil

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.NoError(t, s.Run(ctx))
		assert.GreaterOrEqual(t, publisher.calls, 1)
	})
}
