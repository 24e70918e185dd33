// Package manager orchestrates the upload session lifecycle: initiate,
// chunk receipt, finalization, status and cancellation. All state
// transitions for one session are serialized behind a per-session lock.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mediastash-io/mediastash/internal/dedup"
	"github.com/mediastash-io/mediastash/internal/digest"
	"github.com/mediastash-io/mediastash/internal/domain"
	"github.com/mediastash-io/mediastash/internal/objectstore"
	"github.com/mediastash-io/mediastash/internal/observability"
	"github.com/mediastash-io/mediastash/internal/session"
	"github.com/mediastash-io/mediastash/internal/staging"
	"github.com/mediastash-io/mediastash/internal/uid"
	"github.com/mediastash-io/mediastash/internal/validator"
)

// Manager coordinates the upload components.
type Manager struct {
	store     session.Store
	staging   *staging.Area
	objects   *objectstore.Store
	index     dedup.Index
	metadata  *validator.Metadata
	metrics   *observability.Metrics
	chunkSize int64
	locks     *sessionLocks
}

// New wires a manager from its components. metrics may be nil in tests.
func New(store session.Store, stagingArea *staging.Area, objects *objectstore.Store,
	index dedup.Index, metadata *validator.Metadata, metrics *observability.Metrics,
	chunkSize int64) *Manager {
	return &Manager{
		store:     store,
		staging:   stagingArea,
		objects:   objects,
		index:     index,
		metadata:  metadata,
		metrics:   metrics,
		chunkSize: chunkSize,
		locks:     newSessionLocks(),
	}
}

// ChunkSize returns the configured chunk size.
func (m *Manager) ChunkSize() int64 {
	return m.chunkSize
}

// InitiateResult is the outcome of Initiate.
type InitiateResult struct {
	Duplicate   bool
	StoragePath string
	UploadID    string
	TotalChunks int
	ChunkSize   int64
}

// Initiate validates the declared metadata, consults the dedup index and
// creates a new session in state Initiated.
func (m *Manager) Initiate(ctx context.Context, filename, mimeType string, fileSize int64, md5Hash, owner string) (*InitiateResult, error) {
	errs := m.metadata.Check(filename, mimeType, fileSize)
	if !digest.ValidHex(md5Hash) {
		errs = append(errs, "md5Hash must be a 32-character hex digest")
	}
	if len(errs) > 0 {
		return nil, domain.Validation(errs)
	}

	if rel, ok := m.index.Lookup(md5Hash); ok {
		log.Info().Str("digest", md5Hash).Str("path", rel).Msg("Duplicate upload suppressed")
		if m.metrics != nil {
			m.metrics.DedupHit()
		}
		return &InitiateResult{Duplicate: true, StoragePath: rel}, nil
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:          uid.NewUploadID(now),
		Owner:       owner,
		Filename:    filename,
		MimeType:    strings.ToLower(mimeType),
		FileSize:    fileSize,
		MD5Hash:     strings.ToLower(md5Hash),
		TotalChunks: domain.TotalChunksFor(fileSize, m.chunkSize),
		State:       domain.StateInitiated,
		CreatedAt:   now,
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, domain.Internal("failed to create upload session", err)
	}

	log.Info().
		Str("session", sess.ID).
		Str("filename", filename).
		Int64("size", fileSize).
		Int("total_chunks", sess.TotalChunks).
		Str("owner", sess.Owner).
		Msg("Upload session initiated")

	if m.metrics != nil {
		m.metrics.UploadInitiated()
	}

	return &InitiateResult{
		UploadID:    sess.ID,
		TotalChunks: sess.TotalChunks,
		ChunkSize:   m.chunkSize,
	}, nil
}

// ChunkResult is the outcome of ReceiveChunk.
type ChunkResult struct {
	ChunkIndex      int
	UploadedChunks  int
	TotalChunks     int
	Progress        float64
	AlreadyUploaded bool
}

// ReceiveChunk stages one chunk. Receipt of an already-staged index is
// idempotent: it succeeds without rewriting and without incrementing the
// counter. The existence probe, the staging write and the counter
// increment share the per-session critical section so concurrent
// receives of the same index count at most once.
func (m *Manager) ReceiveChunk(ctx context.Context, sessionID string, index int, payload io.Reader) (*ChunkResult, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State.Terminal() {
		return nil, domain.ErrSessionFinished
	}
	if index < 0 || index >= sess.TotalChunks {
		return nil, domain.NewUploadError(domain.ErrCodeInvalidArgument,
			fmt.Sprintf("chunk index %d out of range [0, %d)", index, sess.TotalChunks), nil)
	}

	if m.staging.HasChunk(sessionID, index) {
		if err := m.store.TouchLastChunk(ctx, sessionID, time.Now()); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Failed to touch session on duplicate chunk")
		}
		return &ChunkResult{
			ChunkIndex:      index,
			UploadedChunks:  sess.UploadedChunks,
			TotalChunks:     sess.TotalChunks,
			Progress:        sess.Progress(),
			AlreadyUploaded: true,
		}, nil
	}

	written, err := m.staging.StageChunk(sessionID, index, payload)
	if err != nil {
		return nil, domain.Internal("failed to stage chunk", err)
	}

	updated, err := m.store.RecordChunk(ctx, sessionID, time.Now())
	if err != nil {
		// Undo the staged file so a retry of this index can count.
		_ = os.Remove(m.staging.ChunkPath(sessionID, index))
		if errors.Is(err, session.ErrStateConflict) {
			return nil, domain.ErrSessionFinished
		}
		return nil, domain.Internal("failed to record chunk", err)
	}

	if m.metrics != nil {
		m.metrics.ChunkReceived(written)
	}

	return &ChunkResult{
		ChunkIndex:     index,
		UploadedChunks: updated.UploadedChunks,
		TotalChunks:    updated.TotalChunks,
		Progress:       updated.Progress(),
	}, nil
}

// Finalize reassembles the staged chunks, verifies integrity and
// content, materializes the object and completes the session. Calling it
// again on a Completed session returns the stored path.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (string, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.State == domain.StateCompleted {
		return sess.StoragePath, nil
	}
	if sess.State.Terminal() {
		return "", domain.ErrSessionFinished
	}
	if sess.UploadedChunks < sess.TotalChunks {
		return "", domain.NewUploadError(domain.ErrCodeFailedPrecondition,
			fmt.Sprintf("only %d of %d chunks uploaded", sess.UploadedChunks, sess.TotalChunks), nil)
	}

	storedPath, err := m.runPipeline(ctx, sess)
	if err != nil {
		return "", err
	}

	log.Info().
		Str("session", sess.ID).
		Str("path", storedPath).
		Msg("Upload finalized")

	if m.metrics != nil {
		m.metrics.UploadCompleted()
	}
	return storedPath, nil
}

// runPipeline performs the finalization steps. Integrity, content and
// data-loss failures transition the session to Failed; internal errors
// leave it untouched for operator recovery.
func (m *Manager) runPipeline(ctx context.Context, sess *domain.Session) (string, error) {
	tmp, err := m.objects.TempFile()
	if err != nil {
		return "", domain.Internal("failed to create assembly file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := m.staging.Reassemble(sess.ID, sess.TotalChunks, tmpPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", m.fail(ctx, sess, domain.NewUploadError(domain.ErrCodeDataLoss,
				fmt.Sprintf("staged chunk missing: %v", err), err))
		}
		os.Remove(tmpPath)
		return "", domain.Internal("failed to reassemble chunks", err)
	}

	ok, err := digest.Verify(tmpPath, sess.MD5Hash)
	if err != nil {
		os.Remove(tmpPath)
		return "", domain.Internal("failed to verify digest", err)
	}
	if !ok {
		os.Remove(tmpPath)
		return "", m.fail(ctx, sess, domain.ErrHashMismatch)
	}

	result, detail, err := validator.ValidateFile(tmpPath, sess.MimeType)
	if err != nil {
		os.Remove(tmpPath)
		return "", domain.Internal("failed to validate content", err)
	}
	if result != validator.Ok {
		os.Remove(tmpPath)
		return "", m.fail(ctx, sess, domain.NewUploadError(domain.ErrCodeInvalidContent, detail, nil))
	}

	storedPath, err := m.objects.Store(tmpPath, sess.Filename, sess.Owner)
	if err != nil {
		os.Remove(tmpPath)
		return "", domain.Internal("failed to store object", err)
	}

	// A failed registration only foregoes dedup for this digest.
	if err := m.index.Register(sess.MD5Hash, storedPath); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to register dedup entry")
	}

	if err := m.store.MarkCompleted(ctx, sess.ID, storedPath, time.Now()); err != nil {
		return "", domain.Internal("failed to complete session", err)
	}

	if err := m.staging.Purge(sess.ID); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("Failed to purge staging after finalize")
	}

	return storedPath, nil
}

// fail transitions the session to Failed with a short description and
// returns the original error. Staged chunks are kept for inspection; the
// sweeper reclaims them later.
func (m *Manager) fail(ctx context.Context, sess *domain.Session, cause *domain.UploadError) error {
	if err := m.store.MarkFailed(ctx, sess.ID, cause.Message); err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("Failed to mark session failed")
	}
	log.Warn().
		Str("session", sess.ID).
		Str("code", cause.Code).
		Str("reason", cause.Message).
		Msg("Upload finalization failed")
	if m.metrics != nil {
		m.metrics.UploadFailed(cause.Code)
	}
	return cause
}

// GetStatus returns the session view.
func (m *Manager) GetStatus(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// ListByState returns recent sessions in the given state.
func (m *Manager) ListByState(ctx context.Context, state domain.SessionState, limit int) ([]domain.Session, error) {
	if !state.Valid() {
		return nil, domain.NewUploadError(domain.ErrCodeInvalidArgument,
			fmt.Sprintf("unknown session state %q", state), nil)
	}
	return m.store.ListByState(ctx, state, limit)
}

// Cancel moves an open session to Cancelled and deletes its staging
// directory in the background.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return domain.ErrSessionFinished
	}

	if err := m.store.MarkCancelled(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrStateConflict) {
			return domain.ErrSessionFinished
		}
		return domain.Internal("failed to cancel session", err)
	}

	log.Info().Str("session", sessionID).Msg("Upload cancelled")
	if m.metrics != nil {
		m.metrics.UploadCancelled()
	}

	go func() {
		if err := m.staging.Purge(sessionID); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Failed to purge staging after cancel")
		}
	}()

	return nil
}
