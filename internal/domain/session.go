package domain

import (
	"fmt"
	"time"
)

// SessionState is the closed set of upload session states.
type SessionState string

const (
	StateInitiated SessionState = "initiated"
	StateUploading SessionState = "uploading"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateCancelled SessionState = "cancelled"
)

// Valid reports whether s is a known state.
func (s SessionState) Valid() bool {
	switch s {
	case StateInitiated, StateUploading, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is allowed.
// Transitions are monotonic: terminal states admit nothing.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch s {
	case StateInitiated:
		return next == StateUploading || next == StateCancelled ||
			next == StateCompleted || next == StateFailed
	case StateUploading:
		return next == StateCompleted || next == StateFailed || next == StateCancelled
	default:
		return false
	}
}

// Session represents one upload attempt from initiate to a terminal state.
type Session struct {
	ID             string       `db:"id" json:"uploadId"`
	Owner          string       `db:"owner" json:"owner,omitempty"`
	Filename       string       `db:"filename" json:"filename"`
	MimeType       string       `db:"mime_type" json:"mimeType"`
	FileSize       int64        `db:"file_size" json:"fileSize"`
	MD5Hash        string       `db:"md5_hash" json:"md5Hash"`
	TotalChunks    int          `db:"total_chunks" json:"totalChunks"`
	UploadedChunks int          `db:"uploaded_chunks" json:"uploadedChunks"`
	State          SessionState `db:"state" json:"status"`
	StoragePath    string       `db:"storage_path" json:"storagePath,omitempty"`
	Error          string       `db:"error" json:"error,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	LastChunkAt    *time.Time   `db:"last_chunk_at" json:"lastChunkAt,omitempty"`
	CompletedAt    *time.Time   `db:"completed_at" json:"completedAt,omitempty"`
}

// Progress returns the upload progress as a percentage rounded to two
// decimal places.
func (s *Session) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	pct := float64(s.UploadedChunks) / float64(s.TotalChunks) * 100
	// Round to two decimals without pulling in math for a one-liner.
	return float64(int64(pct*100+0.5)) / 100
}

// View is the wire representation of a session returned by the status
// endpoint. Timestamps are ISO 8601, state names are lower-case.
type View struct {
	UploadID       string  `json:"uploadId"`
	Owner          string  `json:"owner,omitempty"`
	Filename       string  `json:"filename"`
	MimeType       string  `json:"mimeType"`
	FileSize       int64   `json:"fileSize"`
	MD5Hash        string  `json:"md5Hash"`
	TotalChunks    int     `json:"totalChunks"`
	UploadedChunks int     `json:"uploadedChunks"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
	StoragePath    string  `json:"storagePath,omitempty"`
	Error          string  `json:"error,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	LastChunkAt    string  `json:"lastChunkAt,omitempty"`
	CompletedAt    string  `json:"completedAt,omitempty"`
}

// ToView converts the session to its wire representation.
func (s *Session) ToView() View {
	v := View{
		UploadID:       s.ID,
		Owner:          s.Owner,
		Filename:       s.Filename,
		MimeType:       s.MimeType,
		FileSize:       s.FileSize,
		MD5Hash:        s.MD5Hash,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: s.UploadedChunks,
		Progress:       s.Progress(),
		Status:         string(s.State),
		StoragePath:    s.StoragePath,
		Error:          s.Error,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.LastChunkAt != nil {
		v.LastChunkAt = s.LastChunkAt.UTC().Format(time.RFC3339)
	}
	if s.CompletedAt != nil {
		v.CompletedAt = s.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// TotalChunksFor derives the chunk count for a declared size, rounding up.
func TotalChunksFor(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	n := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		n++
	}
	return int(n)
}

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s, %d/%d chunks)", s.ID, s.State, s.UploadedChunks, s.TotalChunks)
}
