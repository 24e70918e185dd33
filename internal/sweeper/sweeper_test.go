package sweeper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediastash-io/mediastash/internal/objectstore"
	"github.com/mediastash-io/mediastash/internal/staging"
)

func newTestSweeper(t *testing.T) (*Sweeper, *staging.Area, *objectstore.Store) {
	t.Helper()
	dir := t.TempDir()

	stagingArea, err := staging.NewArea(filepath.Join(dir, "staging"))
	require.NoError(t, err)

	objects, err := objectstore.New(filepath.Join(dir, "storage"))
	require.NoError(t, err)

	sw := New(stagingArea, objects, nil, 30*time.Minute, 30)
	return sw, stagingArea, objects
}

func storeObject(t *testing.T, objects *objectstore.Store, name, content string) string {
	t.Helper()
	tmp, err := objects.TempFile()
	require.NoError(t, err)
	_, err = tmp.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	rel, err := objects.Store(tmp.Name(), name, "")
	require.NoError(t, err)
	return rel
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestPurgeExpiredStaging(t *testing.T) {
	sw, stagingArea, _ := newTestSweeper(t)

	_, err := stagingArea.StageChunk("stale", 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	_, err = stagingArea.StageChunk("active", 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	backdate(t, stagingArea.SessionDir("stale"), time.Hour)

	deleted, err := sw.PurgeExpiredStaging(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.False(t, stagingArea.HasChunk("stale", 0))
	assert.True(t, stagingArea.HasChunk("active", 0))
}

func TestPurgeExpiredObjects(t *testing.T) {
	sw, _, objects := newTestSweeper(t)

	oldRel := storeObject(t, objects, "old.jpg", "old payload")
	freshRel := storeObject(t, objects, "fresh.jpg", "fresh")

	// The dedup index lives at the root and must survive any retention.
	indexPath := filepath.Join(objects.Root(), objectstore.IndexFilename)
	require.NoError(t, os.WriteFile(indexPath, []byte("{}"), 0o644))

	backdate(t, objects.FullPath(oldRel), 31*24*time.Hour)
	backdate(t, indexPath, 90*24*time.Hour)

	result, err := sw.PurgeExpiredObjects(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, int64(len("old payload")), result.FreedBytes)

	assert.False(t, objects.Exists(oldRel))
	assert.True(t, objects.Exists(freshRel))
	_, statErr := os.Stat(indexPath)
	assert.NoError(t, statErr)
}

func TestPurgeExpiredObjects_PrunesEmptyDirectories(t *testing.T) {
	sw, _, objects := newTestSweeper(t)

	rel := storeObject(t, objects, "only.jpg", "payload")
	backdate(t, objects.FullPath(rel), 31*24*time.Hour)

	result, err := sw.PurgeExpiredObjects(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	// The date/owner directory chain for the deleted object is gone.
	yearDir := filepath.Join(objects.Root(), filepath.FromSlash(rel))
	for d := filepath.Dir(yearDir); d != objects.Root(); d = filepath.Dir(d) {
		_, statErr := os.Stat(d)
		assert.True(t, os.IsNotExist(statErr), "expected %s to be pruned", d)
	}

	// The storage root itself stays.
	_, statErr := os.Stat(objects.Root())
	assert.NoError(t, statErr)
}

func TestPurgeExpiredObjects_NothingExpired(t *testing.T) {
	sw, _, objects := newTestSweeper(t)
	storeObject(t, objects, "fresh.jpg", "fresh")

	result, err := sw.PurgeExpiredObjects(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 0, result.Deleted)
	assert.Equal(t, int64(0), result.FreedBytes)
}

func TestStartStop(t *testing.T) {
	sw, _, _ := newTestSweeper(t)
	require.NoError(t, sw.Start())
	sw.Stop()
}
