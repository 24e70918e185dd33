// Package dedup maintains the digest-to-object mapping used to
// short-circuit uploads of content already on disk.
package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

// Index is the deduplication contract. The file-backed implementation
// below is adequate at modest scale; a KV store can replace it without
// touching the session manager as long as Lookup keeps re-validating
// existence.
type Index interface {
	// Lookup returns the stored relative path for a digest, but only if
	// the referenced object still exists. Stale entries read as absent.
	Lookup(digestHex string) (string, bool)
	// Register upserts the digest -> relative path mapping.
	Register(digestHex, relPath string) error
}

// ExistsFunc reports whether an object at a relative path still exists.
type ExistsFunc func(relPath string) bool

// FileIndex is a single-JSON-file index, fully rewritten on each
// register. In-process writers serialize on a mutex; cross-process
// writers (the sweeper CLI shares the storage root) serialize on a file
// lock next to the index.
type FileIndex struct {
	path   string
	exists ExistsFunc

	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileIndex creates an index stored at path. exists is consulted on
// every lookup to discard mappings whose object was swept.
func NewFileIndex(path string, exists ExistsFunc) *FileIndex {
	return &FileIndex{
		path:   path,
		exists: exists,
		lock:   flock.New(path + ".lock"),
	}
}

// load reads the index file; a missing file is an empty index.
func (i *FileIndex) load() map[string]string {
	data, err := os.ReadFile(i.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", i.path).Msg("Failed to read dedup index")
		}
		return map[string]string{}
	}

	entries := map[string]string{}
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt index only costs us dedup, never correctness.
		log.Warn().Err(err).Str("path", i.path).Msg("Dedup index corrupt, starting empty")
		return map[string]string{}
	}
	return entries
}

// Lookup implements Index.
func (i *FileIndex) Lookup(digestHex string) (string, bool) {
	i.mu.Lock()
	entries := i.load()
	i.mu.Unlock()

	rel, ok := entries[strings.ToLower(digestHex)]
	if !ok {
		return "", false
	}
	if i.exists != nil && !i.exists(rel) {
		return "", false
	}
	return rel, true
}

// Register implements Index.
func (i *FileIndex) Register(digestHex, relPath string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.lock.Lock(); err != nil {
		return fmt.Errorf("lock dedup index: %w", err)
	}
	defer i.lock.Unlock() //nolint:errcheck // unlock on shared lock file

	entries := i.load()
	entries[strings.ToLower(digestHex)] = relPath

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dedup index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("create dedup index dir: %w", err)
	}
	if err := renameio.WriteFile(i.path, data, 0o644); err != nil {
		return fmt.Errorf("write dedup index: %w", err)
	}

	log.Debug().Str("digest", digestHex).Str("path", relPath).Msg("Dedup entry registered")
	return nil
}
