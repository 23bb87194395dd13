package geo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/netip"
	"time"
)

// CachedLookup wraps a Lookup with a SQLite cache keyed by address.
//
// Only successful lookups are stored. Cache read or write errors are logged
// and fall through to the wrapped backend, so a broken cache never turns a
// resolvable address into Unknown.
type CachedLookup struct {
	next   Lookup
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger CacheLogger
}

// CacheLogger is the logging interface used by CachedLookup.
type CacheLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopCacheLogger struct{}

func (noopCacheLogger) Debug(string, ...any) {}
func (noopCacheLogger) Warn(string, ...any)  {}

// NewCachedLookup creates a cache in front of next. The geo_cache table must
// exist (see migrations). Entries older than ttl are ignored; ttl <= 0 keeps
// entries forever.
func NewCachedLookup(next Lookup, db *sql.DB, ttl time.Duration) *CachedLookup {
	return &CachedLookup{
		next:   next,
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: noopCacheLogger{},
	}
}

// SetLogger sets the logger for cache failures.
func (c *CachedLookup) SetLogger(logger CacheLogger) {
	c.logger = logger
}

// Lookup implements Lookup.
func (c *CachedLookup) Lookup(ctx context.Context, addr netip.Addr) (Location, error) {
	key := addr.String()

	if loc, ok := c.get(ctx, key); ok {
		return loc, nil
	}

	loc, err := c.next.Lookup(ctx, addr)
	if err != nil {
		return Location{}, err
	}

	// A backend that answers with Unknown may know more next time.
	if !loc.IsUnknown() {
		c.put(ctx, key, loc)
	}
	return loc, nil
}

func (c *CachedLookup) get(ctx context.Context, key string) (Location, bool) {
	var (
		raw       string
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT location, created_at FROM geo_cache WHERE ip = ?`, key,
	).Scan(&raw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, false
	}
	if err != nil {
		c.logger.Warn("failed to read geo cache", "ip", key, "error", err)
		return Location{}, false
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(createdAt, 0)) > c.ttl {
		return Location{}, false
	}

	var loc Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		c.logger.Warn("corrupt geo cache entry", "ip", key, "error", err)
		return Location{}, false
	}

	c.logger.Debug("geo cache hit", "ip", key)
	return loc, true
}

func (c *CachedLookup) put(ctx context.Context, key string, loc Location) {
	raw, err := json.Marshal(loc)
	if err != nil {
		return
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO geo_cache (ip, location, created_at)
		VALUES (?, ?, ?)
	`, key, string(raw), c.now().Unix())
	if err != nil {
		c.logger.Warn("failed to write geo cache", "ip", key, "error", err)
	}
}

// Prune deletes entries older than the TTL and returns how many were removed.
func (c *CachedLookup) Prune(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM geo_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
