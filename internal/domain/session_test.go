package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionState_Terminal(t *testing.T) {
	assert.False(t, StateInitiated.Terminal())
	assert.False(t, StateUploading.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

func TestSessionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    SessionState
		to      SessionState
		allowed bool
	}{
		{StateInitiated, StateUploading, true},
		{StateInitiated, StateCancelled, true},
		{StateInitiated, StateCompleted, true},
		{StateInitiated, StateFailed, true},
		{StateUploading, StateCompleted, true},
		{StateUploading, StateFailed, true},
		{StateUploading, StateCancelled, true},
		{StateUploading, StateInitiated, false},
		{StateCompleted, StateUploading, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateUploading, false},
		{StateCancelled, StateUploading, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTotalChunksFor(t *testing.T) {
	tests := []struct {
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{12, 1048576, 1},
		{1048576, 1048576, 1},
		{1048577, 1048576, 2},
		{3*1048576 + 100, 1048576, 4},
		{0, 1048576, 0},
		{100, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunksFor(tt.fileSize, tt.chunkSize),
			"size=%d chunk=%d", tt.fileSize, tt.chunkSize)
	}
}

func TestSession_Progress(t *testing.T) {
	s := &Session{TotalChunks: 4, UploadedChunks: 1}
	assert.Equal(t, 25.0, s.Progress())

	s.UploadedChunks = 4
	assert.Equal(t, 100.0, s.Progress())

	s = &Session{TotalChunks: 3, UploadedChunks: 1}
	assert.Equal(t, 33.33, s.Progress())

	s = &Session{}
	assert.Equal(t, 0.0, s.Progress())
}

func TestSession_ToView(t *testing.T) {
	created := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	last := created.Add(time.Minute)

	s := &Session{
		ID:             "20260825103000-0123456789abcdef",
		Filename:       "clip.mp4",
		MimeType:       "video/mp4",
		FileSize:       2048,
		MD5Hash:        "d41d8cd98f00b204e9800998ecf8427e",
		TotalChunks:    2,
		UploadedChunks: 1,
		State:          StateUploading,
		CreatedAt:      created,
		LastChunkAt:    &last,
	}

	v := s.ToView()
	assert.Equal(t, "uploading", v.Status)
	assert.Equal(t, 50.0, v.Progress)
	assert.Equal(t, "2026-08-25T10:30:00Z", v.CreatedAt)
	assert.Equal(t, "2026-08-25T10:31:00Z", v.LastChunkAt)
	assert.Empty(t, v.CompletedAt)
	assert.Empty(t, v.StoragePath)
}
