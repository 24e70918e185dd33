// Package sweeper reclaims abandoned staging directories and expired
// stored objects on a schedule.
package sweeper

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/mediastash-io/mediastash/internal/objectstore"
	"github.com/mediastash-io/mediastash/internal/observability"
	"github.com/mediastash-io/mediastash/internal/staging"
)

// ObjectSweepResult summarizes one retention pass over the object store.
type ObjectSweepResult struct {
	Scanned    int   `json:"scanned"`
	Deleted    int   `json:"deleted"`
	Errors     int   `json:"errors"`
	FreedBytes int64 `json:"freedBytes"`
}

// Sweeper runs the two lifecycle tasks.
type Sweeper struct {
	staging      *staging.Area
	objects      *objectstore.Store
	metrics      *observability.Metrics
	chunkTimeout time.Duration
	retention    time.Duration

	cron *cron.Cron
}

// New creates a sweeper. metrics may be nil in tests.
func New(stagingArea *staging.Area, objects *objectstore.Store, metrics *observability.Metrics,
	chunkTimeout time.Duration, retentionDays int) *Sweeper {
	return &Sweeper{
		staging:      stagingArea,
		objects:      objects,
		metrics:      metrics,
		chunkTimeout: chunkTimeout,
		retention:    time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start schedules the staging sweep hourly and the object sweep daily.
func (s *Sweeper) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc("@hourly", func() {
		if _, err := s.PurgeExpiredStaging(time.Now()); err != nil {
			log.Error().Err(err).Msg("Staging sweep failed")
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc("@daily", func() {
		if _, err := s.PurgeExpiredObjects(time.Now()); err != nil {
			log.Error().Err(err).Msg("Object sweep failed")
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Info().
		Dur("chunk_timeout", s.chunkTimeout).
		Dur("retention", s.retention).
		Msg("Lifecycle sweeper started")
	return nil
}

// Stop halts the schedule and waits for running sweeps.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	log.Info().Msg("Lifecycle sweeper stopped")
}

// PurgeExpiredStaging removes staging directories older than the chunk
// timeout. Sessions whose staging was purged simply become
// unfinalizable; the session store is not touched.
func (s *Sweeper) PurgeExpiredStaging(now time.Time) (int, error) {
	deleted, err := s.staging.PurgeExpired(now, s.chunkTimeout)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && deleted > 0 {
		s.metrics.SweeperStagingDeleted(deleted)
	}
	return deleted, nil
}

// PurgeExpiredObjects walks the object store and deletes files whose
// mtime is older than the retention horizon, then removes directories
// that became empty. The dedup index file is exempt.
func (s *Sweeper) PurgeExpiredObjects(now time.Time) (*ObjectSweepResult, error) {
	cutoff := now.Add(-s.retention)
	result := &ObjectSweepResult{}
	root := s.objects.Root()

	err := filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			result.Errors++
			return nil //nolint:nilerr // keep walking past unreadable entries
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == objectstore.IndexFilename {
			return nil
		}

		result.Scanned++
		if info.ModTime().After(cutoff) {
			return nil
		}

		size := info.Size()
		if err := os.Remove(p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Failed to delete expired object")
			result.Errors++
			return nil
		}
		result.Deleted++
		result.FreedBytes += size
		return nil
	})
	if err != nil {
		return result, err
	}

	s.removeEmptyDirs(root)

	if result.Deleted > 0 {
		log.Info().
			Int("scanned", result.Scanned).
			Int("deleted", result.Deleted).
			Int("errors", result.Errors).
			Int64("freed_bytes", result.FreedBytes).
			Msg("Expired objects purged")
	}
	if s.metrics != nil && result.Deleted > 0 {
		s.metrics.SweeperObjectsDeleted(result.Deleted, result.FreedBytes)
	}
	return result, nil
}

// removeEmptyDirs prunes empty directories bottom-up, leaving the root
// and dot-prefixed internals in place.
func (s *Sweeper) removeEmptyDirs(root string) {
	var dirs []string
	_ = filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr
		}
		if info.IsDir() && p != root && !strings.HasPrefix(info.Name(), ".") {
			dirs = append(dirs, p)
		}
		return nil
	})

	// Deepest first so parents empty out as children go.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		_ = os.Remove(dirs[i])
	}
}
