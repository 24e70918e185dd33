package objectstore

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)
	return s
}

func TestSanitizeStem(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"my file (1)", "my_file__1_"},
		{"résumé", "r_sum_"},
		{"UPPER-case_09", "UPPER-case_09"},
		{"", "file"},
		{"...", "___"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeStem(tt.in), "input %q", tt.in)
	}
}

func TestRelPathFor(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	rel := s.RelPathFor("hi there.jpg", "", at)
	assert.Regexp(t, regexp.MustCompile(`^2026/08/25/anonymous/hi_there_\d{14}[0-9a-f]{10}\.jpg$`), rel)

	rel = s.RelPathFor("clip.MP4", "user-42", at)
	assert.Regexp(t, regexp.MustCompile(`^2026/08/25/user-42/clip_\d{14}[0-9a-f]{10}\.mp4$`), rel)

	// Extensionless names get no trailing dot.
	rel = s.RelPathFor("blob", "user-42", at)
	assert.Regexp(t, regexp.MustCompile(`^2026/08/25/user-42/blob_\d{14}[0-9a-f]{10}$`), rel)

	// Owner tokens are sanitized like filename stems.
	rel = s.RelPathFor("a.png", "../evil", at)
	assert.True(t, strings.HasPrefix(rel, "2026/08/25/___evil/"), rel)
}

func TestStoreAndRetrieve(t *testing.T) {
	s := newTestStore(t)

	tmp, err := s.TempFile()
	require.NoError(t, err)
	_, err = tmp.WriteString("object payload")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	rel, err := s.Store(tmp.Name(), "photo.jpg", "alice")
	require.NoError(t, err)
	assert.True(t, s.Exists(rel))

	data, err := os.ReadFile(s.FullPath(rel))
	require.NoError(t, err)
	assert.Equal(t, []byte("object payload"), data)

	// The temp file was moved, not copied.
	_, statErr := os.Stat(tmp.Name())
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, s.Delete(rel))
	assert.False(t, s.Exists(rel))
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	store := func(name, content string) {
		tmp, err := s.TempFile()
		require.NoError(t, err)
		_, err = tmp.WriteString(content)
		require.NoError(t, err)
		require.NoError(t, tmp.Close())
		_, err = s.Store(tmp.Name(), name, "")
		require.NoError(t, err)
	}

	store("a.jpg", "12345")
	store("b.jpg", "123")

	// The dedup index and temp files do not count as stored objects.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), IndexFilename), []byte("{}"), 0o644))
	leftover, err := s.TempFile()
	require.NoError(t, err)
	_, err = leftover.WriteString("partial")
	require.NoError(t, err)
	require.NoError(t, leftover.Close())

	files, bytes, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(8), bytes)
}
