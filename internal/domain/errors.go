package domain

import (
	"errors"
	"fmt"
)

// Error codes for upload operations
const (
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeFailedPrecondition = "FAILED_PRECONDITION"
	ErrCodeIntegrity          = "INTEGRITY_ERROR"
	ErrCodeInvalidContent     = "INVALID_CONTENT"
	ErrCodeDataLoss           = "DATA_LOSS"
	ErrCodeInternal           = "INTERNAL"
)

// UploadError represents a domain-specific error with a stable code.
type UploadError struct {
	Code    string
	Message string
	Details []string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Is matches on the error code so callers can use errors.Is against the
// predefined sentinel values.
func (e *UploadError) Is(target error) bool {
	t, ok := target.(*UploadError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewUploadError creates an error with the given code and message.
func NewUploadError(code, message string, err error) *UploadError {
	return &UploadError{Code: code, Message: message, Err: err}
}

// Predefined errors
var (
	ErrSessionNotFound = &UploadError{
		Code:    ErrCodeNotFound,
		Message: "upload session not found",
	}
	ErrSessionFinished = &UploadError{
		Code:    ErrCodeConflict,
		Message: "upload session already finished",
	}
	ErrInvalidChunkIndex = &UploadError{
		Code:    ErrCodeInvalidArgument,
		Message: "chunk index out of range",
	}
	ErrIncompleteUpload = &UploadError{
		Code:    ErrCodeFailedPrecondition,
		Message: "not all chunks have been uploaded",
	}
	ErrHashMismatch = &UploadError{
		Code:    ErrCodeIntegrity,
		Message: "file hash does not match declared hash",
	}
	ErrContentMismatch = &UploadError{
		Code:    ErrCodeInvalidContent,
		Message: "file content does not match declared type",
	}
	ErrChunkMissing = &UploadError{
		Code:    ErrCodeDataLoss,
		Message: "staged chunk missing at finalization",
	}
)

// Validation creates an InvalidArgument error carrying per-field details.
func Validation(details []string) *UploadError {
	return &UploadError{
		Code:    ErrCodeInvalidArgument,
		Message: "validation failed",
		Details: details,
	}
}

// Internal wraps an unexpected failure (filesystem, database) so the API
// layer maps it to a 500 without leaking internals to the client.
func Internal(msg string, err error) *UploadError {
	return &UploadError{Code: ErrCodeInternal, Message: msg, Err: err}
}

// CodeOf extracts the error code, defaulting to INTERNAL.
func CodeOf(err error) string {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrCodeInternal
}

// IsClientError reports whether the error should map to a 4xx response.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidArgument, ErrCodeNotFound, ErrCodeConflict,
		ErrCodeFailedPrecondition, ErrCodeIntegrity, ErrCodeInvalidContent,
		ErrCodeDataLoss:
		return true
	}
	return false
}
