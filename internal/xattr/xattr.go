// Package xattr caches per-file content hashes in extended attributes.
// The cache is strictly best-effort: every failure degrades to
// recomputing the hash from file bytes, and platforms without xattr
// support compile to a no-op.
package xattr

import (
	"os"
	"time"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/hashutil"
)

// Cache reads and writes cached git-blob hashes for local files.
type Cache struct{}

// NewCache returns the platform cache.
func NewCache() *Cache { return &Cache{} }

// Enabled reports whether this platform backs the cache with real
// extended attributes. When false, every lookup is a miss.
func (c *Cache) Enabled() bool { return supported }

// Get returns the cached hash for path when present and still fresh
// (attribute mtime matches the file's). Empty string means miss.
func (c *Cache) Get(path string) string {
	hash, stamp, err := getAttrs(path)
	if err != nil || hash == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if stamp != info.ModTime().UTC().Format(time.RFC3339Nano) {
		return "" // file changed since the attribute was written
	}
	if !hashutil.IsHash(hash) {
		return ""
	}
	return hash
}

// Put records the hash for path. Failures are logged and ignored.
func (c *Cache) Put(path, hash string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	stamp := info.ModTime().UTC().Format(time.RFC3339Nano)
	if err := setAttrs(path, hash, stamp); err != nil {
		debug.Logf("xattr cache write failed for %s: %v", path, err)
	}
}

// Clear removes cached attributes for path. Safe on missing files.
func (c *Cache) Clear(path string) {
	if err := removeAttrs(path); err != nil {
		debug.Logf("xattr cache clear failed for %s: %v", path, err)
	}
}

// HashOf returns the content hash for the file at path, consulting the
// cache first and recomputing (and re-caching) on miss.
func (c *Cache) HashOf(path string) (string, error) {
	if hash := c.Get(path); hash != "" {
		return hash, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := hashutil.GitBlobSHA1(string(data))
	c.Put(path, hash)
	return hash, nil
}
