// Package cache implements the analysis result cache: a bounded map from
// (content hash, request intent) to the verbatim upstream response, held in
// memory and mirrored into a single named record of a durable Store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/infralens/infralens/pkg/clock"
	"github.com/infralens/infralens/pkg/fingerprint"
	"github.com/infralens/infralens/pkg/metrics"
	"github.com/infralens/infralens/pkg/models"
)

// Store persists the serialized cache map. Load returns (nil, nil) when the
// record has never been written.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Config bounds the cache.
type Config struct {
	MaxEntries int
	MaxAge     time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{MaxEntries: 50, MaxAge: 24 * time.Hour}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(rc *Cache) { rc.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(rc *Cache) { rc.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(rc *Cache) { rc.metrics = m }
}

// Cache is safe for concurrent use.
type Cache struct {
	store   Store
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu        sync.Mutex
	entries   map[string]models.CacheEntry
	hits      int64
	misses    int64
	evictions int64
}

// New builds a Cache and hydrates it from store. An unreadable or corrupt
// record yields an empty cache.
func New(ctx context.Context, store Store, cfg Config, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	c := &Cache{
		store:   store,
		cfg:     cfg,
		clock:   clock.Real{},
		logger:  slog.Default(),
		entries: make(map[string]models.CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.load(ctx)
	return c
}

// Key derives the composite key for a (content hash, request intent) pair.
// The intent is digested so arbitrarily long prompts give fixed-size keys.
func Key(contentHash, requestIntent string) string {
	return contentHash + ":" + fingerprint.HashString(requestIntent)
}

// Get returns the stored value for the pair. An expired entry is deleted and
// reported as absent.
func (c *Cache) Get(ctx context.Context, contentHash, requestIntent string) (string, bool) {
	key := Key(contentHash, requestIntent)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
		return "", false
	}
	if c.clock.Now().Sub(entry.CreatedAt) >= c.cfg.MaxAge {
		delete(c.entries, key)
		c.misses++
		c.metrics.ObserveCacheLookup(metrics.CacheLookupExpired)
		c.persistLocked(ctx)
		return "", false
	}
	c.hits++
	c.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
	return entry.Value, true
}

// Put stores value for the pair. When a new key would exceed capacity, the
// entry with the oldest CreatedAt is evicted first. The store is written
// synchronously; a failed write is logged and the in-memory state kept.
func (c *Cache) Put(ctx context.Context, contentHash, requestIntent, value string) {
	key := Key(contentHash, requestIntent)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = models.CacheEntry{
		Value:       value,
		CreatedAt:   c.clock.Now().UTC(),
		ContentHash: contentHash,
	}
	if c.persistLocked(ctx) {
		c.metrics.ObserveCacheStore(metrics.CacheStoreStored)
	} else {
		c.metrics.ObserveCacheStore(metrics.CacheStorePersistError)
	}
}

// Clear removes entries and persists the result. If expiredOnly is true only
// entries past MaxAge are removed. It returns the number of removed entries.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.clock.Now()
	for key, entry := range c.entries {
		if expiredOnly && now.Sub(entry.CreatedAt) < c.cfg.MaxAge {
			continue
		}
		delete(c.entries, key)
		removed++
	}
	data, err := json.Marshal(c.entries)
	if err != nil {
		return removed, fmt.Errorf("cache: encode: %w", err)
	}
	if err := c.store.Save(ctx, data); err != nil {
		return removed, fmt.Errorf("cache: persist: %w", err)
	}
	return removed, nil
}

// Stats returns entry counts and lookup counters for this process.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := models.CacheStats{
		Entries:   int64(len(c.entries)),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	now := c.clock.Now()
	for _, entry := range c.entries {
		if now.Sub(entry.CreatedAt) >= c.cfg.MaxAge {
			stats.Expired++
		}
		if stats.OldestSeen.IsZero() || entry.CreatedAt.Before(stats.OldestSeen) {
			stats.OldestSeen = entry.CreatedAt
		}
	}
	return stats
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	// Sorted so equal timestamps evict deterministically.
	sort.Strings(keys)
	oldest := keys[0]
	for _, k := range keys[1:] {
		if c.entries[k].CreatedAt.Before(c.entries[oldest].CreatedAt) {
			oldest = k
		}
	}
	delete(c.entries, oldest)
	c.evictions++
	c.metrics.ObserveCacheEviction()
	c.logger.Debug("cache entry evicted", "key", oldest)
}

func (c *Cache) load(ctx context.Context) {
	data, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("cache store unreadable, starting empty", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	var entries map[string]models.CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("cache store corrupt, starting empty", "error", err)
		return
	}
	for k, v := range entries {
		c.entries[k] = v
	}
	for len(c.entries) > c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
}

func (c *Cache) persistLocked(ctx context.Context) bool {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Error("cache encode failed", "error", err)
		return false
	}
	if err := c.store.Save(ctx, data); err != nil {
		c.logger.Warn("cache persist failed, keeping in-memory state", "error", err)
		return false
	}
	return true
}
