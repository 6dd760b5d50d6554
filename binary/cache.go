package binary

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile returns the lowercase hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashCache remembers executable digests for the lifetime of a run. Each
// path is hashed at most once; a failed read is remembered as "" and never
// retried. Entries are never evicted, so the cache grows with the number of
// distinct executables seen. Not safe for concurrent use.
type HashCache struct {
	digests map[string]string
	hash    func(path string) (string, error)
}

func NewHashCache() *HashCache {
	return NewHashCacheFunc(HashFile)
}

// NewHashCacheFunc creates a cache that computes digests with hash.
func NewHashCacheFunc(hash func(path string) (string, error)) *HashCache {
	return &HashCache{
		digests: make(map[string]string),
		hash:    hash,
	}
}

// Digest returns the cached digest for path, computing it on first use.
func (c *HashCache) Digest(path string) string {
	if d, ok := c.digests[path]; ok {
		return d
	}
	d, err := c.hash(path)
	if err != nil {
		d = ""
	}
	c.digests[path] = d
	return d
}

// Len returns the number of cached paths.
func (c *HashCache) Len() int {
	return len(c.digests)
}
