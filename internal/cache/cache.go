// Package cache implements the Response Cache (C3): a fingerprint-keyed,
// TTL-bounded, size-capped cache with single-flight producer coalescing and
// an atomically-persisted on-disk index.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/fortitude/internal/domain/query"
	portcache "github.com/Strob0t/fortitude/internal/port/cache"
)

// Entry mirrors the spec's CacheEntry record.
type Entry struct {
	Fingerprint  string         `json:"fingerprint"`
	SizeBytes    int            `json:"size_bytes"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	ExpiresAt    time.Time      `json:"expires_at"`
	ContentHash  string         `json:"content_hash"`
	ResearchType string         `json:"research_type"`
	OriginalQuery string        `json:"original_query"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (e *Entry) expired(now time.Time) bool { return !now.Before(e.ExpiresAt) }

// Stats summarizes cache occupancy, for the admin surface and metrics.
type Stats struct {
	Entries   int
	SizeBytes int64
	Hits      int64
	Misses    int64
}

// InvalidateCriteria is an AND-composed set of invalidation predicates.
type InvalidateCriteria struct {
	Keys           []string
	KeyContains    string
	ResearchType   string
	Tag            string
	OlderThan      time.Duration
	QualityBelow   float64
	HasQuality     bool
	DryRun         bool
}

// Cache is the Response Cache. backend stores payload bytes (tiered L1/L2);
// index is the in-memory, disk-persisted metadata map keyed by fingerprint
// hex string.
type Cache struct {
	backend portcache.Cache
	group   singleflight.Group

	mu          sync.Mutex
	index       map[string]*Entry
	contentRefs map[string]string // content_hash -> fingerprint, for dedup
	indexPath   string
	maxSizeBytes int64
	curSizeBytes int64
	hits, misses int64

	now func() time.Time
}

// New creates a Cache over backend, persisting its index at indexPath
// (empty to disable persistence).
func New(backend portcache.Cache, indexPath string, maxSizeBytes int64) *Cache {
	c := &Cache{
		backend:      backend,
		index:        make(map[string]*Entry),
		contentRefs:  make(map[string]string),
		indexPath:    indexPath,
		maxSizeBytes: maxSizeBytes,
		now:          time.Now,
	}
	_ = c.loadIndex()
	return c
}

func fpKey(fp query.Fingerprint) string { return hex.EncodeToString(fp[:]) }

// Lookup returns the cached payload for fingerprint, or ok=false if absent
// or expired. A hit that is present on disk but missing from the in-memory
// index (lazy recovery) repopulates the index.
func (c *Cache) Lookup(ctx context.Context, fp query.Fingerprint) (payload []byte, ok bool, err error) {
	key := fpKey(fp)

	c.mu.Lock()
	entry, known := c.index[key]
	c.mu.Unlock()

	if known && entry.expired(c.now()) {
		_ = c.Delete(ctx, fp)
		c.recordMiss()
		return nil, false, nil
	}

	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if known {
			// Index said present but backend disagrees: index is stale, drop it.
			c.mu.Lock()
			delete(c.index, key)
			c.mu.Unlock()
		}
		c.recordMiss()
		return nil, false, nil
	}

	c.mu.Lock()
	if entry == nil {
		// Lazy recovery: file exists on the backend but not in our index.
		entry = &Entry{Fingerprint: key, SizeBytes: len(data), CreatedAt: c.now(), ExpiresAt: c.now().Add(24 * time.Hour)}
		c.index[key] = entry
	}
	entry.LastAccessed = c.now()
	c.mu.Unlock()
	c.recordHit()

	return data, true, nil
}

// Store writes payload under fingerprint with the given TTL and metadata,
// coalescing concurrent producers for the same fingerprint into a single
// call (at-most-one concurrent producer per fingerprint).
func (c *Cache) Store(ctx context.Context, fp query.Fingerprint, payload []byte, ttl time.Duration, researchType, originalQuery string, metadata map[string]any) error {
	key := fpKey(fp)
	// Stores use their own singleflight key space so a Store issued from
	// inside a Coalesce producer for the same fingerprint does not wait on
	// itself.
	_, err, _ := c.group.Do("store:"+key, func() (any, error) {
		if err := c.backend.Set(ctx, key, payload, ttl); err != nil {
			return nil, err
		}

		sum := sha256.Sum256(payload)
		contentHash := hex.EncodeToString(sum[:])
		now := c.now()

		entry := &Entry{
			Fingerprint:   key,
			SizeBytes:     len(payload),
			CreatedAt:     now,
			LastAccessed:  now,
			ExpiresAt:     now.Add(ttl),
			ContentHash:   contentHash,
			ResearchType:  researchType,
			OriginalQuery: originalQuery,
			Metadata:      metadata,
		}

		c.mu.Lock()
		if old, existed := c.index[key]; existed {
			c.curSizeBytes -= int64(old.SizeBytes)
		}
		c.index[key] = entry
		c.contentRefs[contentHash] = key
		c.curSizeBytes += int64(entry.SizeBytes)
		c.mu.Unlock()

		c.evictIfOverCap(ctx)
		_ = c.saveIndex()
		return nil, nil
	})
	return err
}

// Coalesce runs produce at most once concurrently per fingerprint and hands
// its result to every waiting caller; it does not store the result itself.
// Callers use this to implement cache-miss-then-call without duplicate
// concurrent upstream calls, calling Store from inside produce.
func (c *Cache) Coalesce(ctx context.Context, fp query.Fingerprint, produce func() ([]byte, error)) ([]byte, error, bool) {
	key := fpKey(fp)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return produce()
	})
	if err != nil {
		return nil, err, shared
	}
	return v.([]byte), nil, shared
}

// Delete removes an entry from both the backend and the index.
func (c *Cache) Delete(ctx context.Context, fp query.Fingerprint) error {
	key := fpKey(fp)
	c.mu.Lock()
	if entry, ok := c.index[key]; ok {
		c.curSizeBytes -= int64(entry.SizeBytes)
		delete(c.contentRefs, entry.ContentHash)
	}
	delete(c.index, key)
	c.mu.Unlock()
	return c.backend.Delete(ctx, key)
}

// CleanupExpired sweeps the index for expired entries and deletes them,
// returning the count removed.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	now := c.now()
	c.mu.Lock()
	var stale []string
	for key, e := range c.index {
		if e.expired(now) {
			stale = append(stale, key)
		}
	}
	c.mu.Unlock()

	for _, key := range stale {
		var fp query.Fingerprint
		b, err := hex.DecodeString(key)
		if err == nil && len(b) == len(fp) {
			copy(fp[:], b)
			if err := c.Delete(ctx, fp); err != nil {
				return len(stale), err
			}
		}
	}
	return len(stale), nil
}

// evictIfOverCap evicts entries by oldest LastAccessed until curSizeBytes no
// longer exceeds maxSizeBytes.
func (c *Cache) evictIfOverCap(ctx context.Context) {
	if c.maxSizeBytes <= 0 {
		return
	}

	c.mu.Lock()
	over := c.curSizeBytes > c.maxSizeBytes
	c.mu.Unlock()
	if !over {
		return
	}

	for {
		c.mu.Lock()
		if c.curSizeBytes <= c.maxSizeBytes || len(c.index) == 0 {
			c.mu.Unlock()
			return
		}
		var oldestKey string
		var oldest time.Time
		first := true
		for key, e := range c.index {
			if first || e.LastAccessed.Before(oldest) {
				oldestKey, oldest = key, e.LastAccessed
				first = false
			}
		}
		c.mu.Unlock()

		var fp query.Fingerprint
		b, err := hex.DecodeString(oldestKey)
		if err != nil || len(b) != len(fp) {
			return
		}
		copy(fp[:], b)
		_ = c.Delete(ctx, fp)
	}
}

// Stats reports current occupancy and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.index), SizeBytes: c.curSizeBytes, Hits: c.hits, Misses: c.misses}
}

func (c *Cache) recordHit()  { c.mu.Lock(); c.hits++; c.mu.Unlock() }
func (c *Cache) recordMiss() { c.mu.Lock(); c.misses++; c.mu.Unlock() }

// Invalidate applies an AND-composed set of criteria and, unless DryRun,
// deletes matching entries. It always returns the list of keys that matched.
func (c *Cache) Invalidate(ctx context.Context, crit InvalidateCriteria) ([]string, error) {
	now := c.now()

	c.mu.Lock()
	var matched []string
	keySet := make(map[string]bool, len(crit.Keys))
	for _, k := range crit.Keys {
		keySet[k] = true
	}
	for key, e := range c.index {
		if len(crit.Keys) > 0 && !keySet[key] {
			continue
		}
		if crit.KeyContains != "" && !strings.Contains(key, crit.KeyContains) {
			continue
		}
		if crit.ResearchType != "" && e.ResearchType != crit.ResearchType {
			continue
		}
		if crit.Tag != "" {
			tags, _ := e.Metadata["tags"].([]string)
			found := false
			for _, t := range tags {
				if t == crit.Tag {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if crit.OlderThan > 0 && now.Sub(e.CreatedAt) < crit.OlderThan {
			continue
		}
		if crit.HasQuality {
			q, _ := e.Metadata["quality"].(float64)
			if q >= crit.QualityBelow {
				continue
			}
		}
		matched = append(matched, key)
	}
	c.mu.Unlock()

	if crit.DryRun {
		return matched, nil
	}

	for _, key := range matched {
		var fp query.Fingerprint
		b, err := hex.DecodeString(key)
		if err == nil && len(b) == len(fp) {
			copy(fp[:], b)
			if err := c.Delete(ctx, fp); err != nil {
				return matched, err
			}
		}
	}
	return matched, nil
}

// persistedIndex is the on-disk shape of the index file.
type persistedIndex struct {
	Entries []*Entry `json:"entries"`
}

func (c *Cache) saveIndex() error {
	if c.indexPath == "" {
		return nil
	}

	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Fingerprint < entries[j].Fingerprint })

	data, err := json.MarshalIndent(persistedIndex{Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache index: %w", err)
	}

	dir := filepath.Dir(c.indexPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create cache index dir: %w", err)
		}
	}

	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cache index temp: %w", err)
	}
	if err := os.Rename(tmp, c.indexPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename cache index: %w", err)
	}
	return nil
}

func (c *Cache) loadIndex() error {
	if c.indexPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.indexPath) //nolint:gosec // local index file, not user-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}

	var p persistedIndex
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range p.Entries {
		c.index[e.Fingerprint] = e
		c.contentRefs[e.ContentHash] = e.Fingerprint
		c.curSizeBytes += int64(e.SizeBytes)
	}
	return nil
}
