package validator

import (
	"fmt"
	"strings"
)

// allowedExtensions maps each supported media type to the filename
// extensions accepted for it.
var allowedExtensions = map[string][]string{
	"image/jpeg":      {"jpg", "jpeg", "jpe"},
	"image/png":       {"png"},
	"image/gif":       {"gif"},
	"image/webp":      {"webp"},
	"video/mp4":       {"mp4", "m4v"},
	"video/quicktime": {"mov", "qt"},
	"video/x-msvideo": {"avi"},
	"video/mpeg":      {"mpg", "mpeg"},
}

// Metadata validates upload metadata at initiate time.
type Metadata struct {
	maxFileSize  int64
	allowedTypes map[string]struct{}
}

// NewMetadata builds a metadata validator from the configured size cap
// and media-type allow-list.
func NewMetadata(maxFileSize int64, allowedTypes []string) *Metadata {
	allow := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allow[strings.ToLower(t)] = struct{}{}
	}
	return &Metadata{maxFileSize: maxFileSize, allowedTypes: allow}
}

// Extension returns the lower-cased characters after the last dot of the
// filename, or "" when there is none.
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// Check validates the declared metadata and returns human-readable errors
// for everything that is wrong with it. An empty slice means valid.
func (m *Metadata) Check(filename, mimeType string, fileSize int64) []string {
	var errs []string

	if strings.TrimSpace(filename) == "" {
		errs = append(errs, "filename is required")
	}

	if fileSize <= 0 {
		errs = append(errs, "file size must be greater than zero")
	} else if fileSize > m.maxFileSize {
		errs = append(errs, fmt.Sprintf("file size %d exceeds maximum allowed size %d", fileSize, m.maxFileSize))
	}

	declared := strings.ToLower(mimeType)
	if _, ok := m.allowedTypes[declared]; !ok {
		errs = append(errs, fmt.Sprintf("media type %q is not allowed", mimeType))
		return errs
	}

	ext := Extension(filename)
	valid := allowedExtensions[declared]
	if len(valid) == 0 {
		// Allowed by config but unknown to the extension table; accept
		// and let content validation decide at finalize.
		return errs
	}

	for _, v := range valid {
		if ext == v {
			return errs
		}
	}
	errs = append(errs, fmt.Sprintf("extension %q does not match media type %q (expected one of %s)",
		ext, mimeType, strings.Join(valid, ", ")))
	return errs
}
