package featurecache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trackle/internal/config"
	"trackle/internal/media"
)

func newTestCache(t *testing.T, maxSize, cleanupThreshold int64, ttlSeconds int) *Cache {
	t.Helper()
	cfg := config.Default()
	cfg.Cache = config.Cache{
		Enabled:          true,
		Location:         t.TempDir(),
		MaxSize:          maxSize,
		CleanupThreshold: cleanupThreshold,
		FeatureCacheTTL:  ttlSeconds,
	}
	c := Open(&cfg, nil)
	if c == nil {
		t.Fatal("expected enabled cache")
	}
	return c
}

func vector(seed float64) media.Vector {
	return media.Vector{"tempo": 120 + seed, "rms_energy_mean": 0.5, "zero_crossing_rate_mean": seed}
}

func TestGetAfterPut(t *testing.T) {
	c := newTestCache(t, 1<<20, 1<<19, 3600)

	if err := c.Put("fp-1", "standard-v1", vector(1)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get("fp-1", "standard-v1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got["tempo"] != 121 {
		t.Fatalf("unexpected vector: %v", got)
	}

	if _, ok := c.Get("fp-1", "other-set"); ok {
		t.Fatal("descriptor must be part of the key")
	}
	if _, ok := c.Get("fp-2", "standard-v1"); ok {
		t.Fatal("fingerprint must be part of the key")
	}
}

func TestTTLExpiryTreatedAsAbsent(t *testing.T) {
	c := newTestCache(t, 1<<20, 1<<19, 60)
	base := time.Now()
	c.now = func() time.Time { return base }

	if err := c.Put("fp-1", "standard-v1", vector(1)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := c.Get("fp-1", "standard-v1"); !ok {
		t.Fatal("expected hit before expiry")
	}

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	if _, ok := c.Get("fp-1", "standard-v1"); ok {
		t.Fatal("expired entry must be absent")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be removed on lookup, have %d entries", c.Len())
	}
}

func TestPutEnforcesSizeBudget(t *testing.T) {
	var blobSize int64
	{
		probe := newTestCache(t, 1<<20, 1<<19, 0)
		if err := probe.Put("probe", "standard-v1", vector(0)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		blobSize = probe.TotalSize()
	}

	maxSize := blobSize*4 + blobSize/2
	cleanup := blobSize * 3
	c := newTestCache(t, maxSize, cleanup, 0)

	for i := 0; i < 10; i++ {
		if err := c.Put(fmt.Sprintf("fp-%d", i), "standard-v1", vector(float64(i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if c.TotalSize() > maxSize {
			t.Fatalf("size invariant violated after put %d: %d > %d", i, c.TotalSize(), maxSize)
		}
	}
	if c.TotalSize() > cleanup {
		t.Fatalf("eviction cycle must end at or below cleanup_threshold: %d > %d", c.TotalSize(), cleanup)
	}
	if c.Len() == 0 {
		t.Fatal("cache should retain recent entries")
	}
	if _, ok := c.Get("fp-9", "standard-v1"); !ok {
		t.Fatal("most recent entry should survive eviction")
	}
}

func TestEvictOnePrefersExpiredThenLRU(t *testing.T) {
	c := newTestCache(t, 1<<20, 1<<19, 0)
	base := time.Now()
	clock := base
	c.now = func() time.Time { return clock }

	for i, name := range []string{"a", "b", "c"} {
		clock = base.Add(time.Duration(i) * time.Second)
		if err := c.Put(name, "standard-v1", vector(float64(i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Expire only "c" by hand-setting its expiry, then evict: expired wins
	// over the older untouched entries.
	c.mu.Lock()
	c.entries[key{fingerprint: "c", descriptor: "standard-v1"}].ExpiresAt = base.Add(1 * time.Second)
	c.mu.Unlock()
	clock = base.Add(10 * time.Second)

	if !c.EvictOne() {
		t.Fatal("expected eviction")
	}
	if _, ok := c.Get("c", "standard-v1"); ok {
		t.Fatal("expired entry should be evicted first")
	}

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.Get("a", "standard-v1"); !ok {
		t.Fatal("expected hit for a")
	}
	if !c.EvictOne() {
		t.Fatal("expected eviction")
	}
	if _, ok := c.Get("b", "standard-v1"); ok {
		t.Fatal("least-recently-used entry should be evicted")
	}
	if _, ok := c.Get("a", "standard-v1"); !ok {
		t.Fatal("recently used entry should survive")
	}
}

func TestEvictOneTieBrokenByInsertionOrder(t *testing.T) {
	c := newTestCache(t, 1<<20, 1<<19, 0)
	base := time.Now()
	c.now = func() time.Time { return base }

	for i, name := range []string{"first", "second", "third"} {
		if err := c.Put(name, "standard-v1", vector(float64(i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if !c.EvictOne() {
		t.Fatal("expected eviction")
	}
	if _, ok := c.Get("first", "standard-v1"); ok {
		t.Fatal("oldest inserted entry should lose the tie")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	cfg := config.Default()
	cfg.Cache = config.Cache{
		Enabled:          true,
		Location:         t.TempDir(),
		MaxSize:          1 << 20,
		CleanupThreshold: 1 << 19,
		FeatureCacheTTL:  3600,
	}

	first := Open(&cfg, nil)
	if err := first.Put("fp-1", "standard-v1", vector(7)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := Open(&cfg, nil)
	got, ok := second.Get("fp-1", "standard-v1")
	if !ok {
		t.Fatal("expected hit after reopen")
	}
	if got["tempo"] != 127 {
		t.Fatalf("unexpected vector after reopen: %v", got)
	}
}

func TestCorruptIndexDegradesToEmpty(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Cache = config.Cache{
		Enabled:          true,
		Location:         dir,
		MaxSize:          1 << 20,
		CleanupThreshold: 1 << 19,
	}
	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt index: %v", err)
	}

	c := Open(&cfg, nil)
	if c == nil {
		t.Fatal("cache should open despite corrupt index")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Len())
	}
	if err := c.Put("fp-1", "standard-v1", vector(1)); err != nil {
		t.Fatalf("Put after corrupt index failed: %v", err)
	}
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	var c *Cache
	if _, ok := c.Get("fp", "set"); ok {
		t.Fatal("nil cache must miss")
	}
	if err := c.Put("fp", "set", vector(0)); err != nil {
		t.Fatalf("nil cache Put should be a no-op, got %v", err)
	}
	if c.EvictOne() {
		t.Fatal("nil cache has nothing to evict")
	}
	if c.Stats() != (Stats{}) {
		t.Fatal("nil cache stats should be zero")
	}
}

func TestConcurrentGetPut(t *testing.T) {
	c := newTestCache(t, 1<<20, 1<<19, 3600)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				fp := fmt.Sprintf("fp-%d", i%10)
				if err := c.Put(fp, "standard-v1", vector(float64(worker))); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
				if vec, ok := c.Get(fp, "standard-v1"); ok {
					// A racing get may observe any worker's value, but never
					// a torn one.
					if vec["rms_energy_mean"] != 0.5 {
						t.Errorf("torn vector observed: %v", vec)
						return
					}
				}
			}
		}(worker)
	}
	wg.Wait()

	if c.TotalSize() > 1<<20 {
		t.Fatalf("size accounting drifted: %d", c.TotalSize())
	}
}
