package featurecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trackle/internal/config"
	"trackle/internal/fingerprint"
	"trackle/internal/logging"
	"trackle/internal/media"
)

type key struct {
	fingerprint string
	descriptor  string
}

// Entry describes one cached feature vector. The blob lives in its own file
// under the cache directory; Size tracks the blob's bytes.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Descriptor  string    `json:"descriptor"`
	Blob        string    `json:"blob"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Seq         uint64    `json:"seq"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats describes current cache usage.
type Stats struct {
	Entries          int   `json:"entries"`
	TotalBytes       int64 `json:"total_bytes"`
	MaxBytes         int64 `json:"max_bytes"`
	CleanupThreshold int64 `json:"cleanup_threshold"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Evictions        int64 `json:"evictions"`
}

// Cache is a content-addressed feature store keyed by (fingerprint,
// feature-set descriptor). It enforces max_size with eviction down to
// cleanup_threshold and treats TTL-expired entries as absent. All methods
// are safe for concurrent use; the cache is an optimization only and every
// failure degrades to a miss.
type Cache struct {
	dir              string
	maxSize          int64
	cleanupThreshold int64
	ttl              time.Duration
	logger           *slog.Logger

	mu        sync.Mutex
	entries   map[key]*Entry
	totalSize int64
	nextSeq   uint64
	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

// Open builds the cache from configuration and loads the on-disk index.
// Returns nil when caching is disabled; a nil *Cache is a valid always-miss
// cache. Index load failures degrade to an empty cache, never an error.
func Open(cfg *config.Config, logger *slog.Logger) *Cache {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil
	}
	c := &Cache{
		dir:              cfg.Cache.Location,
		maxSize:          cfg.Cache.MaxSize,
		cleanupThreshold: cfg.Cache.CleanupThreshold,
		ttl:              cfg.Cache.TTL(),
		logger:           logging.NewComponentLogger(logger, "featurecache"),
		entries:          make(map[key]*Entry),
		now:              time.Now,
	}
	if err := c.load(); err != nil {
		c.logger.Warn("failed to load feature cache index; starting empty",
			logging.Error(err),
			logging.String("cache_dir", c.dir),
		)
		c.entries = make(map[key]*Entry)
		c.totalSize = 0
	}
	return c
}

// Get returns the cached vector for the key, or absent on a miss. An entry
// whose TTL has elapsed is removed and reported absent, never served stale.
func (c *Cache) Get(fp, descriptor string) (media.Vector, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{fingerprint: fp, descriptor: descriptor}
	entry, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	now := c.now()
	if entry.expired(now) {
		c.removeLocked(k, entry)
		c.misses++
		return nil, false
	}

	data, err := os.ReadFile(entry.Blob)
	if err != nil {
		// Blob vanished out from under the index; treat as a miss.
		c.removeLocked(k, entry)
		c.misses++
		return nil, false
	}
	var vector media.Vector
	if err := json.Unmarshal(data, &vector); err != nil {
		c.removeLocked(k, entry)
		c.misses++
		return nil, false
	}

	entry.LastAccess = now
	c.hits++
	return vector, true
}

// Put inserts or overwrites an entry. When the insertion pushes total size
// past max_size, eviction runs immediately until size fits under
// cleanup_threshold or the cache is empty.
func (c *Cache) Put(fp, descriptor string, vector media.Vector) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("featurecache: encode vector: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blobPath := c.blobPath(fp, descriptor)
	if err := writeFileAtomic(blobPath, data); err != nil {
		return fmt.Errorf("featurecache: write blob: %w", err)
	}

	k := key{fingerprint: fp, descriptor: descriptor}
	if existing, ok := c.entries[k]; ok {
		c.totalSize -= existing.Size
	}
	now := c.now()
	entry := &Entry{
		Fingerprint: fp,
		Descriptor:  descriptor,
		Blob:        blobPath,
		Size:        int64(len(data)),
		CreatedAt:   now,
		LastAccess:  now,
		Seq:         c.nextSeq,
	}
	if c.ttl > 0 {
		entry.ExpiresAt = now.Add(c.ttl)
	}
	c.nextSeq++
	c.entries[k] = entry
	c.totalSize += entry.Size

	if c.totalSize > c.maxSize {
		for c.totalSize > c.cleanupThreshold && len(c.entries) > 0 {
			if !c.evictOneLocked() {
				break
			}
		}
	}

	if err := c.saveLocked(); err != nil {
		c.logger.Warn("failed to persist feature cache index", logging.Error(err))
	}
	return nil
}

// EvictOne removes a single entry chosen by policy: TTL-expired entries
// first (oldest expiry first), then least-recently-used, ties broken by
// insertion order. Reports whether anything was removed.
func (c *Cache) EvictOne() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.evictOneLocked()
	if removed {
		if err := c.saveLocked(); err != nil {
			c.logger.Warn("failed to persist feature cache index", logging.Error(err))
		}
	}
	return removed
}

func (c *Cache) evictOneLocked() bool {
	if len(c.entries) == 0 {
		return false
	}
	now := c.now()

	var victimKey key
	var victim *Entry
	// Pass 1: expired entries, oldest expiry first.
	for k, entry := range c.entries {
		if !entry.expired(now) {
			continue
		}
		if victim == nil || entry.ExpiresAt.Before(victim.ExpiresAt) ||
			(entry.ExpiresAt.Equal(victim.ExpiresAt) && entry.Seq < victim.Seq) {
			victimKey, victim = k, entry
		}
	}
	// Pass 2: least-recently-used, insertion order as tiebreak.
	if victim == nil {
		for k, entry := range c.entries {
			if victim == nil || entry.LastAccess.Before(victim.LastAccess) ||
				(entry.LastAccess.Equal(victim.LastAccess) && entry.Seq < victim.Seq) {
				victimKey, victim = k, entry
			}
		}
	}
	if victim == nil {
		return false
	}
	c.removeLocked(victimKey, victim)
	c.evictions++
	return true
}

func (c *Cache) removeLocked(k key, entry *Entry) {
	delete(c.entries, k)
	c.totalSize -= entry.Size
	if err := os.Remove(entry.Blob); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("failed to remove cache blob",
			logging.String("blob", entry.Blob),
			logging.Error(err),
		)
	}
}

// Stats returns current usage counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:          len(c.entries),
		TotalBytes:       c.totalSize,
		MaxBytes:         c.maxSize,
		CleanupThreshold: c.cleanupThreshold,
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalSize returns the accounted blob bytes.
func (c *Cache) TotalSize() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// Clear removes every entry and its blob.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range c.entries {
		c.removeLocked(k, entry)
	}
	return c.saveLocked()
}

// Close persists the index.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Cache) blobPath(fp, descriptor string) string {
	name := fp
	if len(name) > 32 {
		name = name[:32]
	}
	return filepath.Join(c.dir, "blobs", name+"-"+fingerprint.Bytes([]byte(descriptor))[:16]+".json")
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
