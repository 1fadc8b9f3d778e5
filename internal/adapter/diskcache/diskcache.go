// Package diskcache implements the cache port as a directory of
// individually-keyed files, grounding the tiered cache's L2 (durable, slower)
// tier with the same plain-file persistence idiom the rest of this module
// uses for its append-only logs.
package diskcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Cache is a directory-backed implementation of port/cache.Cache. Each key
// is stored as one file named by its hex-encoded SHA-256 hash, holding a
// JSON envelope with the value and its expiry.
type Cache struct {
	dir string
}

type entry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns the value stored for key, or ok=false if absent or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(c.path(key)) //nolint:gosec // path derived from a content hash, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, err
	}
	if !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt) {
		_ = os.Remove(c.path(key))
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Set writes value for key with the given ttl (zero means no expiry).
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(key), raw, 0o600)
}

// Delete removes key, if present.
func (c *Cache) Delete(_ context.Context, key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
