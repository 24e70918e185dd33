package staging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	a, err := NewArea(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)
	return a
}

func TestStageChunk(t *testing.T) {
	a := newTestArea(t)

	written, err := a.StageChunk("sess1", 0, bytes.NewReader([]byte("chunk zero")))
	require.NoError(t, err)
	assert.Equal(t, int64(10), written)
	assert.True(t, a.HasChunk("sess1", 0))
	assert.False(t, a.HasChunk("sess1", 1))
	assert.False(t, a.HasChunk("other", 0))

	data, err := os.ReadFile(a.ChunkPath("sess1", 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk zero"), data)
}

func TestStageChunk_OverwriteKeepsLatest(t *testing.T) {
	a := newTestArea(t)

	_, err := a.StageChunk("sess1", 0, bytes.NewReader([]byte("first")))
	require.NoError(t, err)
	_, err = a.StageChunk("sess1", 0, bytes.NewReader([]byte("second")))
	require.NoError(t, err)

	data, err := os.ReadFile(a.ChunkPath("sess1", 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestEnumerateChunks(t *testing.T) {
	a := newTestArea(t)

	indices, err := a.EnumerateChunks("missing")
	require.NoError(t, err)
	assert.Empty(t, indices)

	for _, i := range []int{0, 2, 5} {
		_, err := a.StageChunk("sess1", i, bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}

	// Foreign files in the staging directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(a.SessionDir("sess1"), "notes.txt"), []byte("x"), 0o644))

	indices, err = a.EnumerateChunks("sess1")
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{0: {}, 2: {}, 5: {}}, indices)
}

func TestReassemble(t *testing.T) {
	a := newTestArea(t)
	parts := [][]byte{[]byte("alpha-"), []byte("beta-"), []byte("gamma")}
	// Stage out of order; reassembly follows the index, not arrival.
	for _, i := range []int{2, 0, 1} {
		_, err := a.StageChunk("sess1", i, bytes.NewReader(parts[i]))
		require.NoError(t, err)
	}

	out := filepath.Join(t.TempDir(), "assembled.bin")
	require.NoError(t, a.Reassemble("sess1", 3, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha-beta-gamma"), data)
}

func TestReassemble_MissingChunk(t *testing.T) {
	a := newTestArea(t)
	_, err := a.StageChunk("sess1", 0, bytes.NewReader([]byte("only")))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "assembled.bin")
	err = a.Reassemble("sess1", 2, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// No partial output left behind.
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPurge(t *testing.T) {
	a := newTestArea(t)
	_, err := a.StageChunk("sess1", 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, a.Purge("sess1"))
	_, statErr := os.Stat(a.SessionDir("sess1"))
	assert.True(t, os.IsNotExist(statErr))

	// Purging an absent session is a no-op.
	require.NoError(t, a.Purge("sess1"))
}

func TestPurgeExpired(t *testing.T) {
	a := newTestArea(t)

	_, err := a.StageChunk("old", 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	_, err = a.StageChunk("fresh", 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	// Unrelated directories are never touched.
	foreign := filepath.Join(a.Root(), "keepme")
	require.NoError(t, os.MkdirAll(foreign, 0o755))

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(a.SessionDir("old"), stale, stale))
	require.NoError(t, os.Chtimes(foreign, stale, stale))

	deleted, err := a.PurgeExpired(time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, statErr := os.Stat(a.SessionDir("old"))
	assert.True(t, os.IsNotExist(statErr))
	assert.True(t, a.HasChunk("fresh", 0))
	_, statErr = os.Stat(foreign)
	assert.NoError(t, statErr)
}
