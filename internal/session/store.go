// Package session persists upload sessions and owns their state
// transitions at the database level. All writes that move a session
// between states are conditional on the current state so concurrent
// callers cannot regress a terminal session.
package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"

	"github.com/mediastash-io/mediastash/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStateConflict is returned when a conditional state update matched no
// row, meaning the session moved to an incompatible state concurrently.
var ErrStateConflict = errors.New("session state conflict")

// Store is the persistence contract for upload sessions.
type Store interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	// RecordChunk atomically increments the uploaded-chunk counter,
	// promotes Initiated to Uploading and stamps last_chunk_at. It only
	// succeeds while the session is in a non-terminal state.
	RecordChunk(ctx context.Context, id string, at time.Time) (*domain.Session, error)
	// TouchLastChunk updates last_chunk_at without incrementing the
	// counter (duplicate chunk receipt).
	TouchLastChunk(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id, storagePath string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkCancelled(ctx context.Context, id string) error
	ListByState(ctx context.Context, state domain.SessionState, limit int) ([]domain.Session, error)
	Close() error
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the session database at path, applies
// migrations and returns the store. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	// A single writer keeps SQLite happy under concurrent chunk traffic.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := runMigrations(context.Background(), db.DB); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Session database ready")

	return &SQLiteStore{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	for _, r := range results {
		log.Debug().Str("source", r.Source.Path).Msg("Applied migration")
	}

	return nil
}

// Create inserts a new session row.
func (s *SQLiteStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO upload_sessions
			(id, owner, filename, mime_type, file_size, md5_hash,
			 total_chunks, uploaded_chunks, state, storage_path, error,
			 created_at, last_chunk_at, completed_at)
		VALUES
			(:id, :owner, :filename, :mime_type, :file_size, :md5_hash,
			 :total_chunks, :uploaded_chunks, :state, :storage_path, :error,
			 :created_at, :last_chunk_at, :completed_at)`, sess)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns the session by id or domain.ErrSessionNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.GetContext(ctx, &sess,
		`SELECT * FROM upload_sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

// RecordChunk increments the counter and promotes the state, guarded on
// the session still being open and the counter not exceeding the total.
func (s *SQLiteStore) RecordChunk(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET uploaded_chunks = uploaded_chunks + 1,
		    state = CASE state WHEN ? THEN ? ELSE state END,
		    last_chunk_at = ?
		WHERE id = ?
		  AND state IN (?, ?)
		  AND uploaded_chunks < total_chunks`,
		domain.StateInitiated, domain.StateUploading,
		at.UTC(), id,
		domain.StateInitiated, domain.StateUploading)
	if err != nil {
		return nil, fmt.Errorf("record chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("record chunk rows: %w", err)
	}
	if n == 0 {
		return nil, ErrStateConflict
	}
	return s.Get(ctx, id)
}

// TouchLastChunk stamps last_chunk_at on an open session.
func (s *SQLiteStore) TouchLastChunk(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE upload_sessions SET last_chunk_at = ?
		WHERE id = ? AND state IN (?, ?)`,
		at.UTC(), id, domain.StateInitiated, domain.StateUploading)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// MarkCompleted transitions an open session to Completed.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id, storagePath string, at time.Time) error {
	return s.transition(ctx, id, domain.StateCompleted, `
		UPDATE upload_sessions
		SET state = ?, storage_path = ?, completed_at = ?, error = ''
		WHERE id = ? AND state IN (?, ?)`,
		domain.StateCompleted, storagePath, at.UTC(), id,
		domain.StateInitiated, domain.StateUploading)
}

// MarkFailed transitions an open session to Failed and records the reason.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, domain.StateFailed, `
		UPDATE upload_sessions
		SET state = ?, error = ?
		WHERE id = ? AND state IN (?, ?)`,
		domain.StateFailed, reason, id,
		domain.StateInitiated, domain.StateUploading)
}

// MarkCancelled transitions an open session to Cancelled.
func (s *SQLiteStore) MarkCancelled(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.StateCancelled, `
		UPDATE upload_sessions
		SET state = ?
		WHERE id = ? AND state IN (?, ?)`,
		domain.StateCancelled, id,
		domain.StateInitiated, domain.StateUploading)
}

func (s *SQLiteStore) transition(ctx context.Context, id string, to domain.SessionState, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition session to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows: %w", err)
	}
	if n == 0 {
		return ErrStateConflict
	}
	log.Debug().Str("session", id).Str("state", string(to)).Msg("Session state changed")
	return nil
}

// ListByState returns the most recent sessions in the given state.
func (s *SQLiteStore) ListByState(ctx context.Context, state domain.SessionState, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var sessions []domain.Session
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM upload_sessions
		WHERE state = ?
		ORDER BY created_at DESC
		LIMIT ?`, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
