package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/domain"
)

// Fetcher retrieves RSS/Atom feeds over HTTP with conditional requests and
// per-feed failure cool-down. A feed that fails is not contacted again until
// its cool-down expires; while cooling down Fetch returns immediately with no
// entries and no network call.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxItems int
	coolDown time.Duration
	agent    string

	mu     sync.Mutex
	health map[string]*feedHealth
}

// feedHealth is per-feed-URL state, owned exclusively by the Fetcher
type feedHealth struct {
	lastFetch time.Time // basis for If-Modified-Since
	coolUntil time.Time
}

// FetcherConfig holds fetcher settings
type FetcherConfig struct {
	Timeout         time.Duration
	ArticlesPerFeed int
	CoolDown        time.Duration
	UserAgent       string
}

// NewFetcher creates a feed fetcher
func NewFetcher(cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:  cfg.Timeout,
		maxItems: cfg.ArticlesPerFeed,
		coolDown: cfg.CoolDown,
		agent:    cfg.UserAgent,
		health:   make(map[string]*feedHealth),
	}
}

// Fetch retrieves and parses the feed at feedURL, returning at most the
// configured number of entries. A failure marks the feed cooling-down and is
// reported back so the caller can log it; it never aborts the cycle. A
// not-modified response yields no entries and no error.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]domain.Entry, error) {
	h := f.healthFor(feedURL)

	f.mu.Lock()
	if time.Now().Before(h.coolUntil) {
		f.mu.Unlock()
		lgr.Printf("[DEBUG] feed %s cooling down until %s", feedURL, h.coolUntil.Format(time.RFC3339))
		return nil, nil
	}
	lastFetch := h.lastFetch
	f.mu.Unlock()

	entries, notModified, err := f.fetch(ctx, feedURL, lastFetch)
	if err != nil {
		f.mu.Lock()
		h.coolUntil = time.Now().Add(f.coolDown)
		f.mu.Unlock()
		return nil, err
	}

	if notModified {
		return nil, nil
	}

	f.mu.Lock()
	h.lastFetch = time.Now()
	f.mu.Unlock()

	return entries, nil
}

// fetch performs the conditional GET and parses the response
func (f *Fetcher) fetch(ctx context.Context, feedURL string, lastFetch time.Time) (entries []domain.Entry, notModified bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.agent)
	if !lastFetch.IsZero() {
		req.Header.Set("If-Modified-Since", lastFetch.UTC().Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("feed %s: unexpected status code: %d", feedURL, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	items := parsed.Items
	if len(items) > f.maxItems {
		items = items[:f.maxItems]
	}

	entries = make([]domain.Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, domain.Entry{
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			FeedURL:     feedURL,
		})
	}
	return entries, false, nil
}

func (f *Fetcher) healthFor(feedURL string) *feedHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.health[feedURL]
	if !ok {
		h = &feedHealth{}
		f.health[feedURL] = h
	}
	return h
}
