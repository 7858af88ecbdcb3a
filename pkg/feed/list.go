package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-pkgz/lgr"
)

// defaultFeeds is the last-resort feed list when neither the remote OPML nor
// the local copy can be used
var defaultFeeds = []string{
	"https://www.ansa.it/sito/ansait_rss.xml",
	"https://www.repubblica.it/rss.xml",
}

const defaultOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="1.0">
<head>
  <title>Feed Predefiniti</title>
</head>
<body>
  <outline text="ANSA" title="ANSA" type="rss" xmlUrl="https://www.ansa.it/sito/ansait_rss.xml"/>
  <outline text="Repubblica" title="Repubblica" type="rss" xmlUrl="https://www.repubblica.it/rss.xml"/>
</body>
</opml>`

// ListSource provides the feed-URL list from an OPML document. The remote
// copy is downloaded and cached to a local file on its own refresh interval;
// between refreshes, and whenever the remote is unreachable, the local copy
// is used. An unparseable list falls back to the built-in defaults.
type ListSource struct {
	client      *http.Client
	remoteURL   string
	localPath   string
	limit       int
	refresh     time.Duration
	urls        []string
	lastRefresh time.Time
}

// ListConfig holds feed list source settings
type ListConfig struct {
	RemoteURL       string
	LocalPath       string
	Limit           int
	RefreshInterval time.Duration
	Timeout         time.Duration
}

// NewListSource creates a feed list source
func NewListSource(cfg ListConfig) *ListSource {
	return &ListSource{
		client:    &http.Client{Timeout: cfg.Timeout},
		remoteURL: cfg.RemoteURL,
		localPath: cfg.LocalPath,
		limit:     cfg.Limit,
		refresh:   cfg.RefreshInterval,
	}
}

// URLs returns the current feed list, refreshing it when stale. The stale
// list is reused on refresh failure; this never fails the caller.
func (s *ListSource) URLs(ctx context.Context) []string {
	if len(s.urls) == 0 || time.Since(s.lastRefresh) > s.refresh {
		s.update(ctx)
	}
	return s.urls
}

// update re-downloads the remote OPML and re-parses the local copy
func (s *ListSource) update(ctx context.Context) {
	if s.remoteURL != "" {
		if err := s.download(ctx); err != nil {
			lgr.Printf("[WARN] remote OPML unavailable, using local copy: %v", err)
		}
	}

	if _, err := os.Stat(s.localPath); err != nil {
		lgr.Printf("[INFO] no local OPML, writing default feed list to %s", s.localPath)
		if writeErr := os.WriteFile(s.localPath, []byte(defaultOPML), 0o600); writeErr != nil {
			lgr.Printf("[WARN] failed to write default OPML: %v", writeErr)
		}
	}

	urls, err := parseOPMLFile(s.localPath)
	if err != nil {
		lgr.Printf("[ERROR] failed to parse OPML %s, using default feeds: %v", s.localPath, err)
		urls = defaultFeeds
	}

	if len(urls) > s.limit {
		urls = urls[:s.limit]
	}
	s.urls = urls
	s.lastRefresh = time.Now()
	lgr.Printf("[INFO] feed list refreshed: %d feeds", len(s.urls))
}

// download fetches the remote OPML and overwrites the local copy
func (s *ListSource) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.remoteURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch OPML: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read OPML: %w", err)
	}

	if err := os.WriteFile(s.localPath, data, 0o600); err != nil {
		return fmt.Errorf("write local OPML: %w", err)
	}
	return nil
}

// opmlOutline mirrors the nested OPML outline structure
type opmlOutline struct {
	XMLUrl   string        `xml:"xmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

type opmlDoc struct {
	XMLName xml.Name `xml:"opml"`
	Body    struct {
		Outlines []opmlOutline `xml:"outline"`
	} `xml:"body"`
}

// parseOPMLFile extracts all xmlUrl attributes from an OPML document,
// walking nested outlines in document order
func parseOPMLFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("read OPML file: %w", err)
	}

	var doc opmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse OPML: %w", err)
	}

	var urls []string
	var walk func([]opmlOutline)
	walk = func(outlines []opmlOutline) {
		for _, o := range outlines {
			if o.XMLUrl != "" {
				urls = append(urls, o.XMLUrl)
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)

	if len(urls) == 0 {
		return nil, fmt.Errorf("no feed URLs in OPML")
	}
	return urls, nil
}
