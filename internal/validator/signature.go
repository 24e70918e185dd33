package validator

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
)

// Result is the outcome of content validation.
type Result int

const (
	// Ok means a signature for the declared type (or a type in the same
	// top-level category) matched.
	Ok Result = iota
	// Mismatch means a signature matched but for a different category.
	Mismatch
	// UndetectedType means no signature matched at all.
	UndetectedType
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Mismatch:
		return "mismatch"
	default:
		return "undetected"
	}
}

// signature is one magic-byte entry: the hex prefix expected at a byte
// offset from the start of the file.
type signature struct {
	mimeType string
	offset   int
	hex      string
}

// signatureTable holds the known media signatures. Offsets are bytes,
// signatures are hex digits compared case-insensitively.
var signatureTable = []signature{
	{"image/jpeg", 0, "ffd8ff"},
	{"image/png", 0, "89504e47"},
	{"image/gif", 0, "474946383761"},
	{"image/gif", 0, "474946383961"},
	{"image/webp", 8, "57454250"},
	{"video/mp4", 4, "6674797069736f6d"},
	{"video/mp4", 4, "66747970"},
	{"video/quicktime", 4, "6674797071742020"},
	{"video/quicktime", 4, "6d6f6f76"},
	{"video/x-msvideo", 0, "52494646"},
	{"video/x-msvideo", 8, "415649204c495354"},
	{"video/mpeg", 0, "000001ba"},
	{"video/mpeg", 0, "000001b3"},
}

// headerSize is how much of the file prefix participates in matching.
const headerSize = 32

// category returns the top-level media category ("image", "video").
func category(mimeType string) string {
	if i := strings.Index(mimeType, "/"); i > 0 {
		return mimeType[:i]
	}
	return mimeType
}

// matchHeader reports whether sig matches the given file header.
func matchHeader(header []byte, sig signature) bool {
	if sig.offset >= len(header) {
		return false
	}
	shifted := hex.EncodeToString(header[sig.offset:])
	return strings.HasPrefix(shifted, strings.ToLower(sig.hex))
}

// ValidateHeader checks the first bytes of a file against the signature
// table for the declared media type.
func ValidateHeader(header []byte, declaredType string) Result {
	declared := strings.ToLower(declaredType)
	declaredCategory := category(declared)

	anyMatch := false
	for _, sig := range signatureTable {
		if !matchHeader(header, sig) {
			continue
		}
		anyMatch = true
		if sig.mimeType == declared || category(sig.mimeType) == declaredCategory {
			return Ok
		}
	}

	if anyMatch {
		return Mismatch
	}
	return UndetectedType
}

// ValidateFile reads the file's header and validates it against the
// declared media type. The returned detail names what the content looks
// like when validation fails, to make the client error actionable.
func ValidateFile(path, declaredType string) (Result, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return UndetectedType, "", fmt.Errorf("open file for validation: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return UndetectedType, "", fmt.Errorf("read file header: %w", err)
	}
	header = header[:n]

	result := ValidateHeader(header, declaredType)
	if result == Ok {
		return Ok, "", nil
	}

	return result, describeContent(header, declaredType), nil
}

// describeContent produces a one-line diagnosis of what the header
// actually looks like, using filetype's wider magic-number database for
// formats outside our own table.
func describeContent(header []byte, declaredType string) string {
	if kind, err := filetype.Match(header); err == nil && kind != filetype.Unknown {
		return fmt.Sprintf("content appears to be %s, declared %s", kind.MIME.Value, declaredType)
	}
	return fmt.Sprintf("content signature not recognized, declared %s", declaredType)
}
