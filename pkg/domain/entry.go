package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry represents a single article pulled from a feed. Entries are transient:
// they live only long enough to be fingerprinted and classified.
type Entry struct {
	Title       string
	Description string
	Link        string
	FeedURL     string
}

// Fingerprint returns the dedup key for the entry: a sha256 hex digest of the
// raw title and description. Two entries with the same fingerprint are the
// same article regardless of which feed delivered them.
func (e Entry) Fingerprint() string {
	h := sha256.Sum256([]byte(e.Title + " " + e.Description))
	return hex.EncodeToString(h[:])
}

// Record is the persisted result of classifying a novel entry.
// Timestamp is set once at insertion and never updated; it drives
// TTL eviction at cache load time.
type Record struct {
	Fingerprint string    `db:"fingerprint"`
	Category    string    `db:"category"`
	Title       string    `db:"title"`
	Link        string    `db:"link"`
	Timestamp   time.Time `db:"timestamp"`
}

// MaxTitleLen caps the title stored in a Record.
const MaxTitleLen = 200

// NewRecord builds a Record for an entry classified into category,
// truncating the title to MaxTitleLen.
func NewRecord(e Entry, category string, now time.Time) Record {
	title := e.Title
	if r := []rune(title); len(r) > MaxTitleLen {
		title = string(r[:MaxTitleLen])
	}
	return Record{
		Fingerprint: e.Fingerprint(),
		Category:    category,
		Title:       title,
		Link:        e.Link,
		Timestamp:   now,
	}
}
