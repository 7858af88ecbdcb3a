package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="1.0">
<head><title>Feeds</title></head>
<body>
  <outline text="News">
    <outline text="ANSA" type="rss" xmlUrl="https://ansa.example.com/rss.xml"/>
    <outline text="Repubblica" type="rss" xmlUrl="https://repubblica.example.com/rss.xml"/>
  </outline>
  <outline text="Corriere" type="rss" xmlUrl="https://corriere.example.com/rss.xml"/>
</body>
</opml>`

func TestListSource_URLs(t *testing.T) {
	t.Run("remote opml downloaded and parsed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(testOPML))
		}))
		defer server.Close()

		localPath := filepath.Join(t.TempDir(), "feeds.opml")
		s := NewListSource(ListConfig{
			RemoteURL:       server.URL,
			LocalPath:       localPath,
			Limit:           20,
			RefreshInterval: time.Hour,
			Timeout:         5 * time.Second,
		})

		urls := s.URLs(context.Background())
		assert.Equal(t, []string{
			"https://ansa.example.com/rss.xml",
			"https://repubblica.example.com/rss.xml",
			"https://corriere.example.com/rss.xml",
		}, urls)

		// remote copy cached locally
		data, err := os.ReadFile(localPath)
		require.NoError(t, err)
		assert.Equal(t, testOPML, string(data))
	})

	t.Run("list truncated to limit", func(t *testing.T) {
		localPath := filepath.Join(t.TempDir(), "feeds.opml")
		require.NoError(t, os.WriteFile(localPath, []byte(testOPML), 0o600))

		s := NewListSource(ListConfig{
			LocalPath:       localPath,
			Limit:           2,
			RefreshInterval: time.Hour,
			Timeout:         5 * time.Second,
		})

		urls := s.URLs(context.Background())
		assert.Len(t, urls, 2)
		assert.Equal(t, "https://ansa.example.com/rss.xml", urls[0])
	})

	t.Run("remote failure falls back to local copy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		localPath := filepath.Join(t.TempDir(), "feeds.opml")
		require.NoError(t, os.WriteFile(localPath, []byte(testOPML), 0o600))

		s := NewListSource(ListConfig{
			RemoteURL:       server.URL,
			LocalPath:       localPath,
			Limit:           20,
			RefreshInterval: time.Hour,
			Timeout:         5 * time.Second,
		})

		urls := s.URLs(context.Background())
		assert.Len(t, urls, 3)
	})

	t.Run("missing local copy gets default feed list", func(t *testing.T) {
		localPath := filepath.Join(t.TempDir(), "feeds.opml")
		s := NewListSource(ListConfig{
			LocalPath:       localPath,
			Limit:           20,
			RefreshInterval: time.Hour,
			Timeout:         5 * time.Second,
		})

		urls := s.URLs(context.Background())
		assert.Equal(t, defaultFeeds, urls)

		// default OPML written for the next run
		_, err := os.Stat(localPath)
		assert.NoError(t, err)
	})

	t.Run("unparseable local copy falls back to defaults", func(t *testing.T) {
		localPath := filepath.Join(t.TempDir(), "feeds.opml")
		require.NoError(t, os.WriteFile(localPath, []byte("not an opml document"), 0o600))

		s := NewListSource(ListConfig{
			LocalPath:       localPath,
			Limit:           20,
			RefreshInterval: time.Hour,
			Timeout:         5 * time.Second,
		})

		urls := s.URLs(context.Background())
		assert.Equal(t, defaultFeeds, urls)
	})

	t.Run("stale list reused between refreshes", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.Write([]byte(testOPML))
		}))
		defer server.Close()

		s := NewListSource(ListConfig{
			RemoteURL:       server.URL,
			LocalPath:       filepath.Join(t.TempDir(), "feeds.opml"),
			Limit:           20,
			RefreshInterval: time.Hour,
			Timeout:         5 * time.Second,
		})

		s.URLs(context.Background())
		s.URLs(context.Background())
		assert.Equal(t, int32(1), requests.Load())
	})
}

func TestParseOPMLFile(t *testing.T) {
	t.Run("no urls", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.opml")
		require.NoError(t, os.WriteFile(path, []byte(`<opml version="1.0"><body/></opml>`), 0o600))
		_, err := parseOPMLFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no feed URLs")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := parseOPMLFile(filepath.Join(t.TempDir(), "absent.opml"))
		require.Error(t, err)
	})
}
