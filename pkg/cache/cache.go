package cache

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/Snapcyberdragon/Feed-Rss-notizie/pkg/domain"
)

//go:embed schema.sql
var schema string

// Cache is the dedup cache: an in-memory fingerprint-to-record map with a
// durable SQLite mirror. Reads and inserts are safe under concurrent use by
// classification workers. Insert is the only mutation; records leave the
// cache only through TTL eviction at load time.
type Cache struct {
	db  *sqlx.DB
	ttl time.Duration

	mu   sync.Mutex
	recs map[string]domain.Record
}

// Open loads the dedup cache from the SQLite file at path, dropping records
// older than ttl. Storage problems never fail the caller: a missing or
// corrupt store yields an empty cache running in-memory only.
func Open(ctx context.Context, path string, ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl, recs: make(map[string]domain.Record)}

	db, err := openDB(path)
	if err != nil {
		lgr.Printf("[WARN] cache store unavailable, running in-memory only: %v", err)
		return c
	}
	c.db = db
	c.load(ctx)
	return c
}

func openDB(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	// single writer, serialized access
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return db, nil
}

// load reads persisted records, applying lazy TTL eviction. Errors degrade
// to an empty cache.
func (c *Cache) load(ctx context.Context) {
	var rows []domain.Record
	if err := c.db.SelectContext(ctx, &rows, "SELECT fingerprint, category, title, link, timestamp FROM records"); err != nil {
		lgr.Printf("[WARN] failed to load cache, starting empty: %v", err)
		return
	}

	now := time.Now()
	evicted := 0
	c.mu.Lock()
	for _, rec := range rows {
		if now.Sub(rec.Timestamp) > c.ttl {
			evicted++
			continue
		}
		c.recs[rec.Fingerprint] = rec
	}
	loaded := len(c.recs)
	c.mu.Unlock()

	lgr.Printf("[INFO] cache loaded: %d records, %d expired", loaded, evicted)
}

// Contains reports whether a record exists for the given fingerprint
func (c *Cache) Contains(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.recs[fingerprint]
	return ok
}

// Insert stores a record, overwriting any existing record for the same
// fingerprint
func (c *Cache) Insert(rec domain.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.Fingerprint] = rec
}

// Values returns a snapshot of all records
func (c *Cache) Values() []domain.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs := make([]domain.Record, 0, len(c.recs))
	for _, rec := range c.recs {
		recs = append(recs, rec)
	}
	return recs
}

// Len returns the number of cached records
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

// Save persists the full in-memory set, rewriting the store wholesale inside
// one transaction. Lock contention is retried with backoff; a returned error
// means the cache continues in-memory until the next successful save.
func (c *Cache) Save(ctx context.Context) error {
	if c.db == nil {
		return nil // in-memory mode, nothing to persist
	}

	recs := c.Values()

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return fmt.Errorf("begin cache save: %w", err)
		}

		if err := saveTx(tx, recs); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("cache save failed: %w (rollback also failed: %s)", err, rbErr.Error())
			}
			if isLockError(err) {
				return err // retry
			}
			return fmt.Errorf("cache save: %w", err)
		}

		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return fmt.Errorf("commit cache save: %w", err)
		}
		return nil
	})
}

func saveTx(tx *sqlx.Tx, recs []domain.Record) error {
	if _, err := tx.Exec("DELETE FROM records"); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	query := `INSERT INTO records (fingerprint, category, title, link, timestamp)
	          VALUES (:fingerprint, :category, :title, :link, :timestamp)`
	for _, rec := range recs {
		if _, err := tx.NamedExec(query, rec); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.Fingerprint, err)
		}
	}
	return nil
}

// Close closes the underlying store
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
