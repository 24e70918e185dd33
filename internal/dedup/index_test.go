package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "5eb63bbbe01eeed093cb22bb8f5acdc3"

func TestFileIndex_RegisterAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "md5_index.json")
	idx := NewFileIndex(path, nil)

	_, ok := idx.Lookup(testDigest)
	assert.False(t, ok)

	require.NoError(t, idx.Register(testDigest, "2026/08/25/anonymous/a.jpg"))

	rel, ok := idx.Lookup(testDigest)
	assert.True(t, ok)
	assert.Equal(t, "2026/08/25/anonymous/a.jpg", rel)

	// Digest comparison is case-insensitive.
	rel, ok = idx.Lookup("5EB63BBBE01EEED093CB22BB8F5ACDC3")
	assert.True(t, ok)
	assert.Equal(t, "2026/08/25/anonymous/a.jpg", rel)
}

func TestFileIndex_RegisterUpserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "md5_index.json")
	idx := NewFileIndex(path, nil)

	require.NoError(t, idx.Register(testDigest, "old/path.jpg"))
	require.NoError(t, idx.Register(testDigest, "new/path.jpg"))

	rel, ok := idx.Lookup(testDigest)
	assert.True(t, ok)
	assert.Equal(t, "new/path.jpg", rel)
}

func TestFileIndex_StaleEntryReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "md5_index.json")
	live := map[string]bool{"kept.jpg": true}
	idx := NewFileIndex(path, func(rel string) bool { return live[rel] })

	require.NoError(t, idx.Register(testDigest, "kept.jpg"))
	require.NoError(t, idx.Register("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "swept.jpg"))

	_, ok := idx.Lookup(testDigest)
	assert.True(t, ok)

	// The referenced object is gone; the mapping must not resurrect it.
	_, ok = idx.Lookup("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assert.False(t, ok)
}

func TestFileIndex_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "md5_index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	idx := NewFileIndex(path, nil)
	_, ok := idx.Lookup(testDigest)
	assert.False(t, ok)

	// Registration recovers the file.
	require.NoError(t, idx.Register(testDigest, "a.jpg"))
	rel, ok := idx.Lookup(testDigest)
	assert.True(t, ok)
	assert.Equal(t, "a.jpg", rel)
}

func TestFileIndex_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "md5_index.json")

	idx := NewFileIndex(path, nil)
	require.NoError(t, idx.Register(testDigest, "a.jpg"))

	reopened := NewFileIndex(path, nil)
	rel, ok := reopened.Lookup(testDigest)
	assert.True(t, ok)
	assert.Equal(t, "a.jpg", rel)
}
