package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMetadata() *Metadata {
	return NewMetadata(1000, []string{
		"image/jpeg", "image/png", "video/mp4", "application/x-custom",
	})
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("photo.jpg"))
	assert.Equal(t, "jpeg", Extension("photo.backup.JPEG"))
	assert.Equal(t, "", Extension("noext"))
	assert.Equal(t, "", Extension("trailing."))
	assert.Equal(t, "gitignore", Extension(".gitignore"))
}

func TestMetadata_Check_Valid(t *testing.T) {
	m := newTestMetadata()
	assert.Empty(t, m.Check("photo.jpg", "image/jpeg", 500))
	assert.Empty(t, m.Check("photo.jpeg", "image/jpeg", 1000))
	assert.Empty(t, m.Check("clip.mp4", "video/mp4", 1))
	assert.Empty(t, m.Check("clip.m4v", "video/mp4", 1))
}

func TestMetadata_Check_MimeTypeCaseInsensitive(t *testing.T) {
	m := newTestMetadata()
	assert.Empty(t, m.Check("photo.jpg", "Image/JPEG", 500))
}

func TestMetadata_Check_Errors(t *testing.T) {
	m := newTestMetadata()

	tests := []struct {
		name     string
		filename string
		mimeType string
		fileSize int64
		wantErrs int
	}{
		{"empty filename", "", "image/jpeg", 500, 2}, // also fails extension check
		{"zero size", "a.jpg", "image/jpeg", 0, 1},
		{"negative size", "a.jpg", "image/jpeg", -5, 1},
		{"too large", "a.jpg", "image/jpeg", 1001, 1},
		{"disallowed type", "a.pdf", "application/pdf", 500, 1},
		{"extension mismatch", "a.png", "image/jpeg", 500, 1},
		{"no extension", "photo", "image/jpeg", 500, 1},
		{"everything wrong", "", "application/pdf", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := m.Check(tt.filename, tt.mimeType, tt.fileSize)
			assert.Len(t, errs, tt.wantErrs, "%v", errs)
		})
	}
}

func TestMetadata_Check_UnknownExtensionTableEntry(t *testing.T) {
	// Allowed by config but absent from the extension table; accepted at
	// initiate, content validation decides at finalize.
	m := newTestMetadata()
	assert.Empty(t, m.Check("blob.bin", "application/x-custom", 500))
}
