package binary

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// Store keeps read-only copies of executables, addressed by content hash,
// so a terminated binary can still be examined afterwards.
type Store struct {
	known *lru.Cache
	dir   string
}

// NewStore creates the quarantine directory. size bounds how many recent
// hashes are remembered without touching the disk.
func NewStore(size int, dir string) (*Store, error) {
	known, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	return &Store{known: known, dir: dir}, nil
}

// PathFor returns where a binary with the given hash is kept.
func (s *Store) PathFor(hash string) string {
	return filepath.Join(s.dir, hash[:2], hash+".bin")
}

// Has reports whether hash is already stored.
func (s *Store) Has(hash string) bool {
	if len(hash) < 2 {
		return false
	}
	if s.known.Contains(hash) {
		return true
	}
	if _, err := os.Stat(s.PathFor(hash)); err == nil {
		s.known.Add(hash, struct{}{})
		return true
	}
	return false
}

// Put copies sourcePath into the store under hash. Copying an already
// stored hash is a no-op.
func (s *Store) Put(sourcePath, hash string) (string, error) {
	if len(hash) < 2 {
		return "", fmt.Errorf("invalid hash %q", hash)
	}
	dest := s.PathFor(hash)
	if s.Has(hash) {
		return dest, nil
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to copy %s: %w", sourcePath, err)
	}
	if err := tmp.Chmod(0444); err != nil {
		log.WithError(err).WithField("path", dest).Warn("Failed to set permissions on quarantined binary")
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}

	s.known.Add(hash, struct{}{})
	return dest, nil
}
