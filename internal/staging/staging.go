// Package staging owns the filesystem area where received chunks
// accumulate before finalization. Chunks for a session live under
// <root>/upload_<sessionID>/chunk_<index>.bin; the filename is the sole
// carrier of the chunk index.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

const (
	sessionDirPrefix = "upload_"
	chunkFilePrefix  = "chunk_"
	chunkFileSuffix  = ".bin"

	copyBufferSize = 64 * 1024
)

// Area manages staged chunks under a single root directory.
type Area struct {
	root string
}

// NewArea creates the staging root if needed and returns the area.
func NewArea(root string) (*Area, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Area{root: root}, nil
}

// Root returns the staging root directory.
func (a *Area) Root() string {
	return a.root
}

// SessionDir returns the staging directory for a session.
func (a *Area) SessionDir(sessionID string) string {
	return filepath.Join(a.root, sessionDirPrefix+sessionID)
}

// ChunkPath returns the staged path for one chunk.
func (a *Area) ChunkPath(sessionID string, index int) string {
	return filepath.Join(a.SessionDir(sessionID), fmt.Sprintf("%s%d%s", chunkFilePrefix, index, chunkFileSuffix))
}

// HasChunk reports whether the chunk is already staged.
func (a *Area) HasChunk(sessionID string, index int) bool {
	info, err := os.Stat(a.ChunkPath(sessionID, index))
	return err == nil && !info.IsDir()
}

// StageChunk writes the payload to the chunk's staged path atomically.
// An existing file at the target path is left untouched by concurrent
// racers: whichever rename lands last wins, and both wrote identical
// payload paths, so the operation is effectively idempotent.
func (a *Area) StageChunk(sessionID string, index int, r io.Reader) (int64, error) {
	dir := a.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create session staging dir: %w", err)
	}

	target := a.ChunkPath(sessionID, index)
	t, err := renameio.TempFile(dir, target)
	if err != nil {
		return 0, fmt.Errorf("create chunk temp file: %w", err)
	}
	defer t.Cleanup() //nolint:errcheck // best-effort removal on error paths

	buf := make([]byte, copyBufferSize)
	written, err := io.CopyBuffer(t, r, buf)
	if err != nil {
		return 0, fmt.Errorf("write chunk %d: %w", index, err)
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("publish chunk %d: %w", index, err)
	}

	log.Debug().
		Str("session", sessionID).
		Int("chunk", index).
		Int64("size", written).
		Msg("Chunk staged")

	return written, nil
}

// EnumerateChunks returns the set of chunk indices present for a session.
// A missing staging directory yields an empty set.
func (a *Area) EnumerateChunks(sessionID string) (map[int]struct{}, error) {
	entries, err := os.ReadDir(a.SessionDir(sessionID))
	if os.IsNotExist(err) {
		return map[int]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	indices := make(map[int]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, chunkFilePrefix) || !strings.HasSuffix(name, chunkFileSuffix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, chunkFilePrefix), chunkFileSuffix))
		if err != nil || idx < 0 {
			continue
		}
		indices[idx] = struct{}{}
	}
	return indices, nil
}

// Reassemble streams chunks 0..totalChunks-1 in order into outputPath.
// On any error no partial output is left behind.
func (a *Area) Reassemble(sessionID string, totalChunks int, outputPath string) error {
	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create assembly output: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	for i := 0; i < totalChunks; i++ {
		if err := a.appendChunk(out, sessionID, i, buf); err != nil {
			out.Close()
			os.Remove(outputPath)
			return err
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("close assembly output: %w", err)
	}
	return nil
}

func (a *Area) appendChunk(out io.Writer, sessionID string, index int, buf []byte) error {
	f, err := os.Open(a.ChunkPath(sessionID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("chunk %d: %w", index, os.ErrNotExist)
		}
		return fmt.Errorf("open chunk %d: %w", index, err)
	}
	defer f.Close()

	if _, err := io.CopyBuffer(out, f, buf); err != nil {
		return fmt.Errorf("copy chunk %d: %w", index, err)
	}
	return nil
}

// Purge removes the session's staging directory recursively.
func (a *Area) Purge(sessionID string) error {
	if err := os.RemoveAll(a.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("purge staging dir: %w", err)
	}
	log.Debug().Str("session", sessionID).Msg("Staging directory purged")
	return nil
}

// PurgeExpired deletes staging directories whose mtime is older than
// now - timeout and returns the number deleted.
func (a *Area) PurgeExpired(now time.Time, timeout time.Duration) (int, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return 0, fmt.Errorf("read staging root: %w", err)
	}

	cutoff := now.Add(-timeout)
	deleted := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sessionDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(a.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to purge expired staging directory")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Expired staging directories purged")
	}
	return deleted, nil
}
