// Package objectstore owns the finalized object layout under the storage
// root: <YYYY>/<MM>/<DD>/<owner-or-anonymous>/<sanitized-name>_<unique>.<ext>.
// Objects are immutable once written.
package objectstore

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mediastash-io/mediastash/internal/uid"
)

const (
	// AnonymousOwner is the owner segment used when no owner token was
	// supplied.
	AnonymousOwner = "anonymous"

	// IndexFilename is the dedup index file living at the storage root;
	// it is exempt from stats and retention.
	IndexFilename = "md5_index.json"

	tmpDirName  = ".tmp"
	maxStemLen  = 100
	dirPerm     = 0o755
	filePerm    = 0o644
	copyBufSize = 64 * 1024
)

// Store manages the finalized object tree.
type Store struct {
	root string
}

// New creates the storage root (and its temp dir) if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, tmpDirName), dirPerm); err != nil {
		return nil, fmt.Errorf("create storage temp dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// TempFile creates a private temp file inside the storage root so the
// final move stays on one filesystem.
func (s *Store) TempFile() (*os.File, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "assemble_*")
	if err != nil {
		return nil, fmt.Errorf("create assembly temp file: %w", err)
	}
	return f, nil
}

// sanitizeStem replaces every character outside [A-Za-z0-9_-] with an
// underscore and truncates to maxStemLen.
func sanitizeStem(stem string) string {
	var b strings.Builder
	b.Grow(len(stem))
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxStemLen {
		out = out[:maxStemLen]
	}
	if out == "" {
		out = "file"
	}
	return out
}

// splitName returns the stem and extension (without dot) of a filename.
func splitName(filename string) (stem, ext string) {
	base := filepath.Base(filename)
	if i := strings.LastIndex(base, "."); i > 0 && i < len(base)-1 {
		return base[:i], strings.ToLower(base[i+1:])
	}
	return base, ""
}

// RelPathFor computes the relative object path for a file stored now.
func (s *Store) RelPathFor(originalFilename, owner string, now time.Time) string {
	stem, ext := splitName(originalFilename)
	name := sanitizeStem(stem) + "_" + uid.NewSuffix(now)
	if ext != "" {
		name += "." + ext
	}

	ownerSegment := owner
	if ownerSegment == "" {
		ownerSegment = AnonymousOwner
	} else {
		ownerSegment = sanitizeStem(ownerSegment)
	}

	t := now.UTC()
	return path.Join(
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		ownerSegment,
		name,
	)
}

// Store moves sourcePath into its canonical location and returns the
// path relative to the storage root.
func (s *Store) Store(sourcePath, originalFilename, owner string) (string, error) {
	rel := s.RelPathFor(originalFilename, owner, time.Now())
	target := s.FullPath(rel)

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	if err := os.Rename(sourcePath, target); err != nil {
		// Rename fails across filesystems; fall back to copy + remove.
		if copyErr := copyFile(sourcePath, target); copyErr != nil {
			return "", fmt.Errorf("store object: %w", copyErr)
		}
		os.Remove(sourcePath)
	}

	log.Info().
		Str("path", rel).
		Str("owner", ownerOrAnonymous(owner)).
		Msg("Object stored")

	return rel, nil
}

func ownerOrAnonymous(owner string) string {
	if owner == "" {
		return AnonymousOwner
	}
	return owner
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// FullPath resolves a relative object path against the storage root.
func (s *Store) FullPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Exists reports whether the object at rel still exists.
func (s *Store) Exists(rel string) bool {
	info, err := os.Stat(s.FullPath(rel))
	return err == nil && !info.IsDir()
}

// Delete removes the object at rel.
func (s *Store) Delete(rel string) error {
	if err := os.Remove(s.FullPath(rel)); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Stats walks the object tree and returns file count and byte total,
// ignoring the dedup index file and internal temp files.
func (s *Store) Stats() (files int, bytes int64, err error) {
	err = filepath.Walk(s.root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if info.Name() == tmpDirName && p != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == IndexFilename {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("walk storage root: %w", err)
	}
	return files, bytes, nil
}
