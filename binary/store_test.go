package binary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutCopiesReadOnly(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(src, []byte("evil"), 0755))

	store, err := NewStore(16, filepath.Join(dir, "quarantine"))
	require.NoError(t, err)

	hash, err := HashFile(src)
	require.NoError(t, err)
	assert.False(t, store.Has(hash))

	dest, err := store.Put(src, hash)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "quarantine", hash[:2], hash+".bin"), dest)
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "evil", string(content))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())
	assert.True(t, store.Has(hash))
}

func TestStore_PutTwiceIsNoop(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	store, err := NewStore(16, filepath.Join(dir, "q"))
	require.NoError(t, err)

	first, err := store.Put(src, "abcdef")
	require.NoError(t, err)
	require.NoError(t, os.Remove(src))
	second, err := store.Put(src, "abcdef")

	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_HasSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	store, err := NewStore(16, filepath.Join(dir, "q"))
	require.NoError(t, err)
	_, err = store.Put(src, "ff00")
	require.NoError(t, err)

	reopened, err := NewStore(16, filepath.Join(dir, "q"))
	require.NoError(t, err)
	assert.True(t, reopened.Has("ff00"))
}

func TestStore_RejectsShortHash(t *testing.T) {
	store, err := NewStore(4, t.TempDir())
	require.NoError(t, err)

	_, err = store.Put("/bin/true", "a")
	assert.Error(t, err)
	assert.False(t, store.Has(""))
}

func TestStore_MissingSource(t *testing.T) {
	store, err := NewStore(4, t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(filepath.Join(t.TempDir(), "gone"), "abcd")
	assert.Error(t, err)
}
